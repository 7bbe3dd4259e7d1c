// Package transport provides the platform-agnostic socket used by every
// realtime channel.
//
// Two backends satisfy the same Socket contract: a direct in-process
// WebSocket (gorilla/websocket) and a bridged socket for embedded webview
// hosts, where a native layer owns the real connection and forwards
// discriminated payloads to us. Both emit events in the same order:
//
//	EventOpen, EventMessage*, [EventError], EventClose
//
// and close the Events channel right after EventClose.
package transport

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
)

// ReadyState mirrors the four socket states of a browser WebSocket.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// EventKind discriminates socket events.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered on Socket.Events in arrival order.
type Event struct {
	Kind EventKind
	// Data is the frame payload for EventMessage.
	Data []byte
	// Code and Reason describe EventClose.
	Code   int
	Reason string
	// Err is set for EventError.
	Err error
}

// Close codes used by both backends.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// ErrNotOpen is returned by Send when the socket is not in the Open state.
var ErrNotOpen = errors.New("socket is not open")

// Socket is one physical connection attempt.
// Callers must drain Events until it is closed.
type Socket interface {
	// Send writes a text frame.
	Send(data []byte) error
	// Close starts the closing handshake. The final EventClose carries code
	// and reason. Close never emits events synchronously.
	Close(code int, reason string) error
	// ReadyState reports the current state.
	ReadyState() ReadyState
	// Events delivers open/message/error/close notifications.
	Events() <-chan Event
}

// Dialer opens sockets. Dial returns immediately with a socket in the
// Connecting state; the outcome of the handshake arrives on Events.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Socket, error)
}

// EmbeddedEnv is the process-wide flag that marks an embedded host.
const EmbeddedEnv = "CHATCORE_EMBEDDED"

var embeddedHost = sync.OnceValue(func() bool {
	v, _ := strconv.ParseBool(os.Getenv(EmbeddedEnv))
	return v
})

// EmbeddedHost reports whether the process runs inside an embedded webview
// host. The flag is read once per process.
func EmbeddedHost() bool {
	return embeddedHost()
}

// Select picks the backend for a host. It has no side effects.
func Select(embedded bool, direct, bridged Dialer) Dialer {
	if embedded {
		return bridged
	}
	return direct
}

// Transport modes accepted by ForMode.
const (
	ModeAuto   = "auto"
	ModeDirect = "direct"
	ModeBridge = "bridge"
)

// ForMode resolves a configured mode to a backend. "auto" (or empty)
// defers to EmbeddedHost.
func ForMode(mode string, direct, bridged Dialer) Dialer {
	switch mode {
	case ModeDirect:
		return direct
	case ModeBridge:
		return bridged
	default:
		return Select(EmbeddedHost(), direct, bridged)
	}
}

// emitter serializes event delivery and guarantees that EventClose is the
// last event and is delivered exactly once.
type emitter struct {
	mu     sync.Mutex
	events chan Event
	done   bool
}

func newEmitter() *emitter {
	return &emitter{events: make(chan Event, 64)}
}

func (e *emitter) emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return false
	}
	e.events <- ev
	if ev.Kind == EventClose {
		e.done = true
		close(e.events)
	}
	return true
}

// fail emits an error followed by an abnormal close.
func (e *emitter) fail(err error, code int, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.events <- Event{Kind: EventError, Err: err}
	e.events <- Event{Kind: EventClose, Code: code, Reason: reason}
	e.done = true
	close(e.events)
}
