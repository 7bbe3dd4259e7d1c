package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DirectDialer opens in-process WebSocket connections.
type DirectDialer struct {
	// Dialer is the underlying gorilla dialer; websocket.DefaultDialer when nil.
	Dialer *websocket.Dialer
	// WriteWait bounds every write (default 10s).
	WriteWait time.Duration
	Logger    *slog.Logger
}

// NewDirectDialer returns a DirectDialer with default settings.
func NewDirectDialer(logger *slog.Logger) *DirectDialer {
	return &DirectDialer{
		Dialer:    websocket.DefaultDialer,
		WriteWait: 10 * time.Second,
		Logger:    logger,
	}
}

// Dial implements Dialer.
func (d *DirectDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	dctx, cancel := context.WithCancel(ctx)
	s := &directSocket{
		emitter:   newEmitter(),
		writeWait: writeWait,
		cancel:    cancel,
		logger:    d.Logger,
	}
	s.state.Store(int32(Connecting))

	go s.run(dctx, dialer, rawURL, header)
	return s, nil
}

type directSocket struct {
	*emitter

	state     atomic.Int32
	writeWait time.Duration
	cancel    context.CancelFunc
	logger    *slog.Logger

	mu          sync.Mutex // guards conn and the close request
	conn        *websocket.Conn
	closeCode   int
	closeReason string
	closing     bool

	writeMu sync.Mutex
}

func (s *directSocket) Events() <-chan Event { return s.events }

func (s *directSocket) ReadyState() ReadyState { return ReadyState(s.state.Load()) }

func (s *directSocket) run(ctx context.Context, dialer *websocket.Dialer, rawURL string, header http.Header) {
	defer s.cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s.mu.Lock()
	if s.closing {
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.state.Store(int32(Closed))
		s.emit(Event{Kind: EventClose, Code: code, Reason: reason})
		return
	}
	if err != nil {
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Debug("websocket dial failed", "url", redactURL(rawURL), "error", err)
		}
		s.state.Store(int32(Closed))
		s.fail(err, CloseAbnormal, err.Error())
		return
	}
	s.conn = conn
	s.state.Store(int32(Open))
	s.mu.Unlock()

	s.emit(Event{Kind: EventOpen})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		s.emit(Event{Kind: EventMessage, Data: data})
	}
}

// finish translates the terminal read error into the close notification.
func (s *directSocket) finish(err error) {
	s.mu.Lock()
	closing, code, reason := s.closing, s.closeCode, s.closeReason
	s.mu.Unlock()

	s.conn.Close()
	s.state.Store(int32(Closed))

	if closing {
		s.emit(Event{Kind: EventClose, Code: code, Reason: reason})
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.emit(Event{Kind: EventClose, Code: ce.Code, Reason: ce.Text})
		return
	}
	s.fail(err, CloseAbnormal, err.Error())
}

func (s *directSocket) Send(data []byte) error {
	if s.ReadyState() != Open {
		return ErrNotOpen
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *directSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closing || s.ReadyState() == Closed {
		s.mu.Unlock()
		return nil
	}
	if code == 0 {
		code = CloseNormal
	}
	s.closing = true
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	s.state.Store(int32(Closing))
	s.mu.Unlock()

	if conn == nil {
		// Still dialing; run observes closing once DialContext returns.
		s.cancel()
		return nil
	}

	s.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
