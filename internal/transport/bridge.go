package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// BridgeKind discriminates payloads delivered by a native bridge.
type BridgeKind string

const (
	BridgeText   BridgeKind = "text"
	BridgeBinary BridgeKind = "binary"
	BridgePing   BridgeKind = "ping"
	BridgePong   BridgeKind = "pong"
	BridgeClose  BridgeKind = "close"
)

// BridgeMessage is one payload crossing the native bridge.
type BridgeMessage struct {
	Kind   BridgeKind
	Data   []byte
	Code   int
	Reason string
}

// Bridge is the native layer that owns the real connection when the
// process cannot open sockets itself. Every call may be slow; listener is
// invoked sequentially from a single goroutine per connection.
type Bridge interface {
	Connect(ctx context.Context, rawURL string, header http.Header, listener func(BridgeMessage)) (string, error)
	Send(ctx context.Context, id string, msg BridgeMessage) error
	Disconnect(id string) error
}

// ErrSendQueueFull is reported as an EventError when outbound frames pile
// up faster than the bridge accepts them.
var ErrSendQueueFull = errors.New("bridge send queue full")

// BridgeDialer opens sockets through a Bridge.
type BridgeDialer struct {
	Bridge Bridge
	// SendTimeout bounds each bridge Send call (default 10s).
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// NewBridgeDialer wraps bridge.
func NewBridgeDialer(bridge Bridge, logger *slog.Logger) *BridgeDialer {
	return &BridgeDialer{Bridge: bridge, SendTimeout: 10 * time.Second, Logger: logger}
}

// Dial implements Dialer.
func (d *BridgeDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Socket, error) {
	if d.Bridge == nil {
		return nil, fmt.Errorf("bridge dial: no bridge configured")
	}
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &bridgeSocket{
		emitter:     newEmitter(),
		bridge:      d.Bridge,
		sendTimeout: timeout,
		outbound:    make(chan []byte, 256),
		opened:      make(chan struct{}),
		stop:        make(chan struct{}),
		logger:      d.Logger,
	}
	s.state.Store(int32(Connecting))
	go s.run(ctx, rawURL, header)
	return s, nil
}

type bridgeSocket struct {
	*emitter

	bridge      Bridge
	sendTimeout time.Duration
	logger      *slog.Logger

	state    atomic.Int32
	outbound chan []byte
	opened   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	id          string
	closing     bool
	closeCode   int
	closeReason string
}

func (s *bridgeSocket) Events() <-chan Event { return s.events }

func (s *bridgeSocket) ReadyState() ReadyState { return ReadyState(s.state.Load()) }

func (s *bridgeSocket) run(ctx context.Context, rawURL string, header http.Header) {
	id, err := s.bridge.Connect(ctx, rawURL, header, s.onBridgeMessage)

	s.mu.Lock()
	if err != nil {
		closing, code, reason := s.closing, s.closeCode, s.closeReason
		s.mu.Unlock()
		s.terminate()
		if closing {
			s.emit(Event{Kind: EventClose, Code: code, Reason: reason})
		} else {
			if s.logger != nil {
				s.logger.Debug("bridge connect failed", "url", redactURL(rawURL), "error", err)
			}
			s.fail(err, CloseAbnormal, err.Error())
		}
		close(s.opened)
		return
	}
	s.id = id
	if s.closing {
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		s.terminate()
		s.bridge.Disconnect(id)
		s.emit(Event{Kind: EventClose, Code: code, Reason: reason})
		close(s.opened)
		return
	}
	s.state.Store(int32(Open))
	s.mu.Unlock()

	s.emit(Event{Kind: EventOpen})
	close(s.opened)

	go s.writeLoop(id)
}

// onBridgeMessage forwards bridge payloads verbatim. It waits for the open
// notification so listener calls racing Connect keep their place after it.
func (s *bridgeSocket) onBridgeMessage(msg BridgeMessage) {
	<-s.opened
	switch msg.Kind {
	case BridgeText, BridgeBinary:
		s.emit(Event{Kind: EventMessage, Data: msg.Data})
	case BridgePing, BridgePong:
	case BridgeClose:
		s.terminate()
		s.mu.Lock()
		closing, code, reason := s.closing, s.closeCode, s.closeReason
		s.mu.Unlock()
		if !closing {
			code, reason = msg.Code, msg.Reason
			if code == 0 {
				code = CloseAbnormal
			}
		}
		s.emit(Event{Kind: EventClose, Code: code, Reason: reason})
	}
}

func (s *bridgeSocket) writeLoop(id string) {
	for {
		select {
		case <-s.stop:
			return
		case data := <-s.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
			err := s.bridge.Send(ctx, id, BridgeMessage{Kind: BridgeText, Data: data})
			cancel()
			if err != nil {
				s.sendFailed(id, err)
				return
			}
		}
	}
}

func (s *bridgeSocket) sendFailed(id string, err error) {
	if s.logger != nil {
		s.logger.Debug("bridge send failed", "error", err)
	}
	s.terminate()
	s.bridge.Disconnect(id)
	s.fail(err, CloseAbnormal, "send failed")
}

// terminate marks the socket closed and stops the write loop.
func (s *bridgeSocket) terminate() {
	s.state.Store(int32(Closed))
	s.stopOnce.Do(func() { close(s.stop) })
}

// Send queues data and returns; bridge failures surface as EventError
// followed by EventClose.
func (s *bridgeSocket) Send(data []byte) error {
	if s.ReadyState() != Open {
		return ErrNotOpen
	}
	buf := append([]byte(nil), data...)
	select {
	case s.outbound <- buf:
	default:
		s.mu.Lock()
		id := s.id
		s.mu.Unlock()
		go s.sendFailed(id, ErrSendQueueFull)
	}
	return nil
}

func (s *bridgeSocket) Close(code int, reason string) error {
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
	id := s.id
	wasOpen := s.ReadyState() == Open
	s.state.Store(int32(Closing))
	s.mu.Unlock()

	if !wasOpen {
		// run observes closing once Connect returns.
		return nil
	}
	go func() {
		s.terminate()
		if err := s.bridge.Disconnect(id); err != nil && s.logger != nil {
			s.logger.Debug("bridge disconnect failed", "error", err)
		}
		s.emit(Event{Kind: EventClose, Code: code, Reason: reason})
	}()
	return nil
}
