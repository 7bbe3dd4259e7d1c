// Package lifecycle coordinates process shutdown for the chatcore commands.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/planboard/chatcore/internal/logging"
)

// CleanupFunc releases a resource during shutdown. It receives the reason
// shutdown was triggered.
type CleanupFunc func(reason string)

// Shutdown runs cleanups exactly once, on a signal or on request.
// It is safe for concurrent use.
type Shutdown struct {
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []CleanupFunc

	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
}

// New creates a Shutdown. Signals are not handled until Start.
func New() *Shutdown {
	ctx, cancel := context.WithCancel(context.Background())
	return &Shutdown{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled as soon as shutdown begins, before any cleanup runs.
func (s *Shutdown) Context() context.Context {
	return s.ctx
}

// AddCleanup registers fn. Cleanups run in registration order.
func (s *Shutdown) AddCleanup(fn CleanupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// Start triggers Shutdown on SIGINT or SIGTERM.
func (s *Shutdown) Start() {
	logger := logging.WithComponent("lifecycle")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	s.mu.Lock()
	s.stop = func() bool { signal.Stop(sigChan); return true }
	s.mu.Unlock()

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("signal received, shutting down", "signal", sig.String())
			s.Shutdown("signal:" + sig.String())
		case <-s.done:
		}
	}()
}

// Shutdown runs the cleanups with reason. Only the first call does work;
// every call blocks until cleanup is complete.
func (s *Shutdown) Shutdown(reason string) {
	s.once.Do(func() { s.run(reason) })
	<-s.done
}

func (s *Shutdown) run(reason string) {
	logger := logging.WithComponent("lifecycle")
	logger.Debug("starting shutdown", "reason", reason)
	s.cancel()

	s.mu.Lock()
	s.reason = reason
	cleanups := make([]CleanupFunc, len(s.cleanups))
	copy(cleanups, s.cleanups)
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for i, fn := range cleanups {
		logger.Debug("running cleanup", "index", i, "total", len(cleanups))
		fn(reason)
	}
	logger.Debug("shutdown complete", "reason", reason)
	close(s.done)
}

// Done is closed when shutdown has completed.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// Reason returns why shutdown happened, or "" before it did.
func (s *Shutdown) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
