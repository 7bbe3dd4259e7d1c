// Package channel implements the reconnecting session client shared by the
// chat session and the CRUD event bus: ticket fetch, dial with a resume
// watermark, the auth handshake, replay gating, sequence tracking and
// exponential-backoff reconnects.
//
// All handler callbacks run on one dispatch goroutine per Channel. Public
// methods only take the channel mutex, so handlers may call Connect,
// Disconnect or Send directly.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/planboard/chatcore/internal/logging"
	"github.com/planboard/chatcore/internal/protocol"
	"github.com/planboard/chatcore/internal/transport"
)

// Status is the user-visible connection status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// SkipReplay is the watermark that asks the server for no replay at all.
const SkipReplay int64 = 1<<63 - 1

// TicketSource issues one-time websocket auth tickets.
type TicketSource interface {
	FetchTicket(ctx context.Context) (string, error)
}

// Inbound is a forwarded server frame.
type Inbound struct {
	Type      string
	Seq       *int64
	Replaying bool
	Data      []byte
}

// Event decodes the frame as a chat event.
func (in Inbound) Event() (protocol.Event, error) {
	return protocol.ParseEvent(in.Data)
}

// Handlers receives channel notifications. Nil fields are skipped.
type Handlers struct {
	OnStatus         func(Status)
	OnEvent          func(Inbound)
	OnReplayComplete func()
	OnLagged         func(skipped int)
	OnSessionClosed  func(reason string)
	OnForcedLogout   func()
}

// Options configures a Channel.
type Options struct {
	// Name labels log lines, e.g. "chat" or "events".
	Name string
	// Endpoint returns the socket URL for a session id, without query.
	Endpoint func(sessionID string) string
	// Header carries ambient credentials for the upgrade request.
	Header http.Header
	// Tickets is optional; without it no ticket parameter is sent.
	Tickets TicketSource
	Dialer  transport.Dialer
	Backoff Backoff
	// RequireAuth makes auth_error trigger OnForcedLogout.
	RequireAuth bool
	// NoReplay is for endpoints without a replay phase: frames are forwarded
	// as soon as auth_ok arrives.
	NoReplay bool
	// TicketTimeout bounds the ticket request (default 15s).
	TicketTimeout time.Duration
	Handlers      Handlers
	Logger        *slog.Logger
}

type itemKind int

const (
	itemSocket itemKind = iota
	itemDialFailed
	itemTimer
)

type item struct {
	kind   itemKind
	connID uint64
	gen    uint64
	ev     transport.Event
	err    error
}

// Channel is one logical long-lived socket. Only one session is attached
// at a time.
type Channel struct {
	opts   Options
	logger *slog.Logger

	inbox chan item
	wake  chan struct{}
	done  chan struct{}

	closeOnce sync.Once

	mu          sync.Mutex
	closed      bool
	active      bool
	status      Status
	sessionID   string
	watermark   int64
	replaying   bool
	authed      bool
	attempt     int
	connID      uint64
	sock        transport.Socket
	cancelDial  context.CancelFunc
	timer       *time.Timer
	timerGen    uint64
	logoutFired bool
	pending     []func()
}

// New creates a Channel and starts its dispatch goroutine. Call Close to
// stop it.
func New(opts Options) *Channel {
	if opts.Name == "" {
		opts.Name = "chat"
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.TicketTimeout <= 0 {
		opts.TicketTimeout = 15 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewDirectDialer(logging.Transport())
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Channel()
	}
	c := &Channel{
		opts:   opts,
		logger: logger.With("channel", opts.Name),
		inbox:  make(chan item, 256),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		status: StatusDisconnected,
	}
	go c.loop()
	return c
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the attached session id.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastEventSeq returns the resume watermark.
func (c *Channel) LastEventSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Replaying reports whether the current connection is still replaying.
func (c *Channel) Replaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaying
}

// Connect attaches to sessionID resuming after lastEvent. Connecting to
// another session force-disconnects the current one first. Connecting again
// to the attached session is a no-op.
func (c *Channel) Connect(sessionID string, lastEvent int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var stale transport.Socket
	if c.active {
		if c.sessionID == sessionID {
			c.mu.Unlock()
			return
		}
		c.logger.Debug("switching session", "from", c.sessionID, "to", sessionID)
		stale = c.detachLocked()
		c.setStatusLocked(StatusDisconnected)
	}
	c.active = true
	c.sessionID = sessionID
	c.watermark = lastEvent
	c.attempt = 0
	c.logoutFired = false
	c.setStatusLocked(StatusConnecting)
	c.startAttemptLocked()
	c.mu.Unlock()
	closeSocket(stale, "session switch")
	c.kick()
}

// Disconnect closes the channel cleanly: the pending reconnect timer is
// cancelled, backoff is reset and no reconnect follows.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.attempt = 0
	sock := c.detachLocked()
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()
	closeSocket(sock, "client disconnect")
	c.kick()
}

// Close disconnects and stops the dispatch goroutine. Pending
// notifications are discarded.
func (c *Channel) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Send writes a raw frame. It returns false when the socket is not open.
func (c *Channel) Send(data []byte) bool {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil || sock.ReadyState() != transport.Open {
		return false
	}
	if err := sock.Send(data); err != nil {
		c.logger.Debug("send failed", "error", err)
		return false
	}
	return true
}

// SendJSON marshals v and sends it.
func (c *Channel) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Debug("marshal outbound frame failed", "error", err)
		return false
	}
	return c.Send(data)
}

// detachLocked drops the current connection and cancels the reconnect
// timer. The timer goes first so no attempt starts after the detach. The
// returned socket, if any, must be closed once the mutex is released.
func (c *Channel) detachLocked() transport.Socket {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.connID++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.authed = false
	c.replaying = false
	sock := c.sock
	c.sock = nil
	return sock
}

func closeSocket(sock transport.Socket, reason string) {
	if sock != nil {
		sock.Close(transport.CloseNormal, reason)
	}
}

func (c *Channel) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.logger.Debug("status changed", "session_id", c.sessionID, "from", c.status, "to", s)
	c.status = s
	if fn := c.opts.Handlers.OnStatus; fn != nil {
		c.pending = append(c.pending, func() { fn(s) })
	}
}

func (c *Channel) notifyLocked(fn func()) {
	c.pending = append(c.pending, fn)
}

func (c *Channel) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) startAttemptLocked() {
	c.connID++
	id := c.connID
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.authed = false
	c.replaying = !c.opts.NoReplay
	go c.dial(ctx, id, c.sessionID, c.watermark)
}

// dial fetches a ticket and opens the socket for attempt id, then forwards
// the socket events into the inbox until the socket closes.
func (c *Channel) dial(ctx context.Context, id uint64, sessionID string, watermark int64) {
	var ticket string
	if c.opts.Tickets != nil {
		tctx, cancel := context.WithTimeout(ctx, c.opts.TicketTimeout)
		t, err := c.opts.Tickets.FetchTicket(tctx)
		cancel()
		if err != nil {
			c.post(item{kind: itemDialFailed, connID: id, err: err})
			return
		}
		ticket = t
	}

	rawURL, err := buildURL(c.opts.Endpoint(sessionID), watermark, ticket)
	if err != nil {
		c.post(item{kind: itemDialFailed, connID: id, err: err})
		return
	}

	sock, err := c.opts.Dialer.Dial(ctx, rawURL, c.opts.Header.Clone())
	if err != nil {
		c.post(item{kind: itemDialFailed, connID: id, err: err})
		return
	}

	c.mu.Lock()
	if c.connID != id {
		c.mu.Unlock()
		sock.Close(transport.CloseNormal, "stale connection")
		for range sock.Events() {
		}
		return
	}
	c.sock = sock
	c.mu.Unlock()

	for ev := range sock.Events() {
		c.post(item{kind: itemSocket, connID: id, ev: ev})
	}
}

// post delivers an item to the dispatch goroutine. It never runs on that
// goroutine.
func (c *Channel) post(it item) {
	select {
	case c.inbox <- it:
	case <-c.done:
	}
}

func buildURL(endpoint string, watermark int64, ticket string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("last_event", strconv.FormatInt(watermark, 10))
	if ticket != "" {
		q.Set("ticket", ticket)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) loop() {
	for {
		select {
		case <-c.done:
			return
		case it := <-c.inbox:
			c.mu.Lock()
			c.handleLocked(it)
			c.mu.Unlock()
		case <-c.wake:
		}
		c.runPending()
	}
}

// runPending runs queued notifications in order, including those queued by
// the notifications themselves.
func (c *Channel) runPending() {
	for {
		c.mu.Lock()
		fns := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}

func (c *Channel) handleLocked(it item) {
	switch it.kind {
	case itemTimer:
		if it.gen != c.timerGen || !c.active {
			return
		}
		c.timer = nil
		c.setStatusLocked(StatusConnecting)
		c.startAttemptLocked()
		return
	case itemDialFailed:
		if it.connID != c.connID || !c.active {
			return
		}
		c.logger.Debug("connect attempt failed", "session_id", c.sessionID, "error", it.err)
		c.scheduleReconnectLocked()
		return
	}

	if it.connID != c.connID {
		return
	}
	switch it.ev.Kind {
	case transport.EventOpen:
		if sock := c.sock; sock != nil {
			c.notifyLocked(func() {
				if err := sock.Send(protocol.ReadyMessage); err != nil {
					c.logger.Debug("send ready failed", "error", err)
				}
			})
		}
	case transport.EventMessage:
		c.handleMessageLocked(it.ev.Data)
	case transport.EventError:
		c.logger.Debug("socket error", "session_id", c.sessionID, "error", it.ev.Err)
	case transport.EventClose:
		c.sock = nil
		c.cancelDial = nil
		if !c.active {
			return
		}
		c.logger.Debug("socket closed", "session_id", c.sessionID, "code", it.ev.Code, "reason", it.ev.Reason)
		c.scheduleReconnectLocked()
	}
}

func (c *Channel) handleMessageLocked(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	if !c.authed {
		switch env.Type {
		case protocol.TypeAuthOK:
			c.authed = true
			c.attempt = 0
			c.setStatusLocked(StatusConnected)
		case protocol.TypeAuthError:
			c.authFailedLocked(data)
		default:
			c.logger.Debug("dropping frame before auth", "type", env.Type)
		}
		return
	}

	switch env.Type {
	case protocol.TypeAuthOK:
		return
	case protocol.TypeAuthError:
		c.authFailedLocked(data)
		return
	case protocol.TypeReplayComplete:
		c.replaying = false
		if fn := c.opts.Handlers.OnReplayComplete; fn != nil {
			c.notifyLocked(fn)
		}
		return
	case protocol.TypeEventsLagged:
		var lagged protocol.EventsLagged
		json.Unmarshal(data, &lagged)
		c.logger.Warn("server dropped events for slow client", "session_id", c.sessionID, "skipped", lagged.Skipped)
		if fn := c.opts.Handlers.OnLagged; fn != nil {
			c.notifyLocked(func() { fn(lagged.Skipped) })
		}
		return
	case protocol.TypeSessionClosed:
		var closed protocol.SessionClosed
		json.Unmarshal(data, &closed)
		c.logger.Info("session closed by server", "session_id", c.sessionID, "reason", closed.Reason)
		c.terminateLocked("session closed")
		if fn := c.opts.Handlers.OnSessionClosed; fn != nil {
			c.notifyLocked(func() { fn(closed.Reason) })
		}
		return
	}

	if env.Seq != nil && *env.Seq > c.watermark {
		c.watermark = *env.Seq
	}
	if c.replaying && !env.Replaying {
		c.logger.Debug("dropping live frame during replay", "type", env.Type)
		return
	}
	if fn := c.opts.Handlers.OnEvent; fn != nil {
		in := Inbound{Type: env.Type, Seq: env.Seq, Replaying: env.Replaying, Data: data}
		c.notifyLocked(func() { fn(in) })
	}
}

func (c *Channel) authFailedLocked(data []byte) {
	var ae protocol.AuthError
	json.Unmarshal(data, &ae)
	c.logger.Warn("authentication rejected", "session_id", c.sessionID, "message", ae.Message)
	c.terminateLocked("auth error")
	if c.opts.RequireAuth && !c.logoutFired {
		c.logoutFired = true
		if fn := c.opts.Handlers.OnForcedLogout; fn != nil {
			c.notifyLocked(fn)
		}
	}
}

// terminateLocked ends the channel after a server-signalled permanent close.
func (c *Channel) terminateLocked(reason string) {
	c.active = false
	c.attempt = 0
	sock := c.detachLocked()
	c.notifyLocked(func() { closeSocket(sock, reason) })
	c.setStatusLocked(StatusDisconnected)
}

func (c *Channel) scheduleReconnectLocked() {
	c.authed = false
	c.replaying = false
	if c.opts.Backoff.Exhausted(c.attempt) {
		c.logger.Warn("giving up reconnecting", "session_id", c.sessionID, "attempts", c.attempt)
		c.terminateLocked("attempts exhausted")
		return
	}
	delay := c.opts.Backoff.Delay(c.attempt)
	c.attempt++
	c.setStatusLocked(StatusReconnecting)

	c.timerGen++
	gen := c.timerGen
	c.logger.Debug("scheduling reconnect", "session_id", c.sessionID, "attempt", c.attempt, "delay", delay)
	c.timer = time.AfterFunc(delay, func() {
		c.post(item{kind: itemTimer, gen: gen})
	})
}
