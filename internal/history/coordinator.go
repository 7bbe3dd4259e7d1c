// Package history bridges the paginated REST history with the live chat
// socket: it loads the tail page, connects live without replay, pages older
// history on demand and resynchronizes after the server reports lag.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/planboard/chatcore/internal/channel"
	"github.com/planboard/chatcore/internal/client"
	"github.com/planboard/chatcore/internal/logging"
	"github.com/planboard/chatcore/internal/protocol"
	"github.com/planboard/chatcore/internal/transcript"
)

// DefaultPageSize is the number of history events per page.
const DefaultPageSize = 50

// Backend is the REST side used by the coordinator.
type Backend interface {
	FetchMessages(ctx context.Context, sessionID string, limit, offset int) (*client.MessagesPage, error)
	CreateSession(ctx context.Context, req client.CreateSessionRequest) (string, error)
}

// Live is the chat channel the coordinator hands off to.
type Live interface {
	Connect(sessionID string, lastEvent int64)
	Disconnect()
}

// Options configures a Coordinator.
type Options struct {
	Backend  Backend
	Engine   *transcript.Engine
	Live     Live
	PageSize int
	// ResyncInterval is the minimum time between two lag resyncs (default 5s).
	ResyncInterval time.Duration
	// OnChange is called after every applied live event.
	OnChange func(ev protocol.Event, change transcript.Change)
	// OnReload is called after the transcript was rebuilt or extended from
	// history.
	OnReload func()
	Logger   *slog.Logger
}

// State is a snapshot of the pagination bookkeeping.
type State struct {
	SessionID  string
	Offset     int
	TotalCount int
	HasOlder   bool
	Loading    bool
}

// Coordinator owns the history window of one attached session.
type Coordinator struct {
	backend  Backend
	engine   *transcript.Engine
	pageSize int
	onChange func(protocol.Event, transcript.Change)
	onReload func()
	logger   *slog.Logger
	resync   *rate.Limiter

	// liveMu orders calls into Live so that the last one always belongs to
	// the newest Attach.
	liveMu sync.Mutex

	mu             sync.Mutex
	live           Live
	sessionID      string
	gen            uint64
	offset         int
	total          int
	hasOlder       bool
	loading        bool
	loadingOlder   bool
	resyncing      bool
	buffered       []protocol.Event
	sessionCreated bool
}

// New creates a Coordinator. Live may be set later with SetLive when the chat
// session is built from the coordinator's handlers.
func New(opts Options) *Coordinator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = 5 * time.Second
	}
	if opts.Engine == nil {
		opts.Engine = transcript.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.History()
	}
	return &Coordinator{
		backend:  opts.Backend,
		engine:   opts.Engine,
		live:     opts.Live,
		pageSize: opts.PageSize,
		onChange: opts.OnChange,
		onReload: opts.OnReload,
		logger:   logger,
		resync:   rate.NewLimiter(rate.Every(opts.ResyncInterval), 1),
	}
}

// SetLive attaches the live channel.
func (c *Coordinator) SetLive(live Live) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = live
}

// Engine returns the transcript engine.
func (c *Coordinator) Engine() *transcript.Engine {
	return c.engine
}

// State returns the pagination state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		SessionID:  c.sessionID,
		Offset:     c.offset,
		TotalCount: c.total,
		HasOlder:   c.hasOlder,
		Loading:    c.loading,
	}
}

// Handlers wraps base so live events and lag notices reach the coordinator.
// The base handlers still run.
func (c *Coordinator) Handlers(base channel.Handlers) channel.Handlers {
	h := base
	h.OnEvent = func(in channel.Inbound) {
		c.HandleEvent(in)
		if base.OnEvent != nil {
			base.OnEvent(in)
		}
	}
	h.OnLagged = func(skipped int) {
		c.HandleLagged(skipped)
		if base.OnLagged != nil {
			base.OnLagged(skipped)
		}
	}
	return h
}

// MarkSessionCreated makes the next session-id change skip the reset and
// history fetch, keeping the optimistic first message.
func (c *Coordinator) MarkSessionCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCreated = true
}

// Attach switches to sessionID: it loads the history tail into the engine
// and connects live without replay. When history cannot be loaded it
// connects with full replay instead. A newer Attach abandons this one.
func (c *Coordinator) Attach(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.sessionID
	c.sessionID = sessionID
	c.loadingOlder = false
	c.resyncing = false
	c.buffered = nil

	if c.sessionCreated && prev != sessionID {
		c.sessionCreated = false
		c.offset, c.total, c.hasOlder, c.loading = 0, 0, false, false
		c.mu.Unlock()
		c.logger.Debug("attaching freshly created session", "session_id", sessionID)
		c.withLive(gen, func(l Live) { l.Connect(sessionID, channel.SkipReplay) })
		return nil
	}

	c.offset, c.total, c.hasOlder = 0, 0, false
	c.loading = true
	c.engine.Reset()
	c.mu.Unlock()
	log := logging.WithSession(c.logger, sessionID)

	if prev != "" {
		c.withLive(gen, Live.Disconnect)
	}

	page, tail, err := c.fetchTail(ctx, sessionID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Debug("discarding stale history")
		return nil
	}
	c.loading = false
	watermark := channel.SkipReplay
	if err != nil {
		log.Warn("history fetch failed, falling back to full replay", "error", err)
		watermark = 0
	} else {
		c.engine.Convert(page.Messages)
		c.offset = tail
		c.total = page.TotalCount
		c.hasOlder = tail > 0
		log.Debug("history loaded", "offset", tail, "total", page.TotalCount)
	}
	c.mu.Unlock()

	if err == nil && c.onReload != nil && c.current(gen) {
		c.onReload()
	}
	if !c.withLive(gen, func(l Live) { l.Connect(sessionID, watermark) }) {
		log.Debug("attach superseded before connecting")
		return nil
	}
	return ctx.Err()
}

// current reports whether gen is still the newest Attach.
func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// withLive calls fn with the live channel unless a newer Attach has started.
// It reports false when the call was skipped as stale.
func (c *Coordinator) withLive(gen uint64, fn func(Live)) bool {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	c.mu.Lock()
	live, ok := c.live, gen == c.gen
	c.mu.Unlock()
	if ok && live != nil {
		fn(live)
	}
	return ok
}

// fetchTail probes the total count and fetches the last page.
func (c *Coordinator) fetchTail(ctx context.Context, sessionID string) (*client.MessagesPage, int, error) {
	probe, err := c.backend.FetchMessages(ctx, sessionID, 1, 0)
	if err != nil {
		return nil, 0, err
	}
	tail := max(0, probe.TotalCount-c.pageSize)
	if probe.TotalCount == 0 {
		return &client.MessagesPage{}, 0, nil
	}
	page, err := c.backend.FetchMessages(ctx, sessionID, c.pageSize, tail)
	if err != nil {
		return nil, 0, err
	}
	if page.TotalCount == 0 {
		page.TotalCount = probe.TotalCount
	}
	return page, tail, nil
}

// LoadOlder prepends the previous page. It reports whether a page was
// loaded; it is a no-op while a fetch is in flight or at the beginning of
// history, and fetch failures are only logged.
func (c *Coordinator) LoadOlder(ctx context.Context) bool {
	c.mu.Lock()
	if c.loading || c.loadingOlder || c.resyncing || c.offset == 0 || c.sessionID == "" {
		c.mu.Unlock()
		return false
	}
	c.loadingOlder = true
	gen, sessionID, offset := c.gen, c.sessionID, c.offset
	c.mu.Unlock()

	newOffset := max(0, offset-c.pageSize)
	page, err := c.backend.FetchMessages(ctx, sessionID, offset-newOffset, newOffset)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.loadingOlder = false
	if c.resyncing || c.offset != offset {
		// A resync replaced the window; the page no longer borders it.
		c.mu.Unlock()
		c.logger.Debug("discarding older page after resync", "session_id", sessionID, "offset", newOffset)
		return false
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("load older failed", "session_id", sessionID, "offset", newOffset, "error", err)
		return false
	}
	c.engine.Prepend(c.engine.ConvertPage(page.Messages))
	c.offset = newOffset
	c.hasOlder = newOffset > 0
	c.mu.Unlock()

	if c.onReload != nil {
		c.onReload()
	}
	return true
}

// CreateSession creates a session on the backend, shows the first message
// optimistically and attaches to the new session.
func (c *Coordinator) CreateSession(ctx context.Context, req client.CreateSessionRequest) (string, error) {
	id, err := c.backend.CreateSession(ctx, req)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.sessionCreated = true
	c.engine.Reset()
	c.engine.AppendUserMessage(req.Message, time.Now().UTC().Format(time.RFC3339))
	c.mu.Unlock()
	if c.onReload != nil {
		c.onReload()
	}
	return id, c.Attach(ctx, id)
}

// HandleEvent applies one live frame to the transcript.
func (c *Coordinator) HandleEvent(in channel.Inbound) {
	ev, err := in.Event()
	if err != nil {
		c.logger.Debug("dropping undecodable event", "type", in.Type, "error", err)
		return
	}

	c.mu.Lock()
	if c.resyncing {
		c.buffered = append(c.buffered, ev)
		c.mu.Unlock()
		return
	}
	change := c.engine.Apply(ev)
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(ev, change)
	}
}

// HandleLagged starts a throttled background resync.
func (c *Coordinator) HandleLagged(skipped int) {
	if !c.resync.Allow() {
		c.logger.Debug("lag resync throttled", "skipped", skipped)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Resync(ctx); err != nil {
			c.logger.Warn("lag resync failed", "error", err)
		}
	}()
}

// Resync refetches the history tail and rebuilds the transcript. Live events
// arriving meanwhile are held back and applied afterwards unless the page
// already contains them.
func (c *Coordinator) Resync(ctx context.Context) error {
	c.mu.Lock()
	if c.sessionID == "" || c.loading || c.resyncing {
		c.mu.Unlock()
		return nil
	}
	c.resyncing = true
	gen, sessionID := c.gen, c.sessionID
	c.mu.Unlock()

	page, tail, err := c.fetchTail(ctx, sessionID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.resyncing = false
	held := c.buffered
	c.buffered = nil
	if err == nil {
		c.engine.Convert(page.Messages)
		c.offset = tail
		c.total = page.TotalCount
		c.hasOlder = tail > 0
	}
	var last int64 = -1
	if err == nil {
		for _, ev := range page.Messages {
			if s := ev.SeqValue(); s > last {
				last = s
			}
		}
	}
	type applied struct {
		ev     protocol.Event
		change transcript.Change
	}
	var changes []applied
	for _, ev := range held {
		if ev.Seq != nil && *ev.Seq <= last {
			continue
		}
		changes = append(changes, applied{ev, c.engine.Apply(ev)})
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.logger.Info("resynchronized after lag", "session_id", sessionID, "total", page.TotalCount)
	if c.onReload != nil {
		c.onReload()
	}
	if c.onChange != nil {
		for _, a := range changes {
			c.onChange(a.ev, a.change)
		}
	}
	return nil
}
