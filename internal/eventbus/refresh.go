package eventbus

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Refresher coalesces bursts of events into throttled refresh calls: the
// first event refreshes at once, events inside the interval collapse into a
// single trailing refresh.
type Refresher struct {
	fn      func()
	limiter *rate.Limiter

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewRefresher returns a Refresher calling fn at most once per interval.
func NewRefresher(interval time.Duration, fn func()) *Refresher {
	return &Refresher{
		fn:      fn,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Trigger requests a refresh.
func (r *Refresher) Trigger() {
	r.mu.Lock()
	if r.stopped || r.timer != nil {
		r.mu.Unlock()
		return
	}
	res := r.limiter.Reserve()
	delay := res.Delay()
	if delay == 0 {
		r.mu.Unlock()
		r.fn()
		return
	}
	r.timer = time.AfterFunc(delay, r.fire)
	r.mu.Unlock()
}

// Handler adapts the refresher to a bus subscription.
func (r *Refresher) Handler() Handler {
	return func(Event) { r.Trigger() }
}

func (r *Refresher) fire() {
	r.mu.Lock()
	r.timer = nil
	stopped := r.stopped
	r.mu.Unlock()
	if !stopped {
		r.fn()
	}
}

// Stop cancels a pending trailing refresh.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
