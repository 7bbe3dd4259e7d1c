package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// LoopbackBridge is an in-process Bridge backed by gorilla/websocket. It
// plays the native layer's part for hosts that embed the bridged backend
// without a separate native process, and in tests.
type LoopbackBridge struct {
	dialer *websocket.Dialer
	logger *slog.Logger

	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[string]*loopbackConn
}

type loopbackConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewLoopbackBridge creates a bridge using dialer (websocket.DefaultDialer when nil).
func NewLoopbackBridge(dialer *websocket.Dialer, logger *slog.Logger) *LoopbackBridge {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &LoopbackBridge{
		dialer: dialer,
		logger: logger,
		conns:  make(map[string]*loopbackConn),
	}
}

// Connect implements Bridge.
func (b *LoopbackBridge) Connect(ctx context.Context, rawURL string, header http.Header, listener func(BridgeMessage)) (string, error) {
	conn, resp, err := b.dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("loopback connect: %w", err)
	}

	id := strconv.FormatUint(b.nextID.Add(1), 10)
	lc := &loopbackConn{conn: conn}

	b.mu.Lock()
	b.conns[id] = lc
	b.mu.Unlock()

	conn.SetPingHandler(func(appData string) error {
		listener(BridgeMessage{Kind: BridgePing, Data: []byte(appData)})
		lc.writeMu.Lock()
		defer lc.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(appData string) error {
		listener(BridgeMessage{Kind: BridgePong, Data: []byte(appData)})
		return nil
	})

	go b.pump(id, conn, listener)
	return id, nil
}

func (b *LoopbackBridge) pump(id string, conn *websocket.Conn, listener func(BridgeMessage)) {
	defer func() {
		b.mu.Lock()
		delete(b.conns, id)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			msg := BridgeMessage{Kind: BridgeClose, Code: CloseAbnormal, Reason: err.Error()}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				msg.Code, msg.Reason = ce.Code, ce.Text
			}
			listener(msg)
			return
		}
		kind := BridgeText
		if mt == websocket.BinaryMessage {
			kind = BridgeBinary
		}
		listener(BridgeMessage{Kind: kind, Data: data})
	}
}

func (b *LoopbackBridge) get(id string) (*loopbackConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lc, ok := b.conns[id]
	if !ok {
		return nil, fmt.Errorf("loopback: unknown connection %q", id)
	}
	return lc, nil
}

// Send implements Bridge.
func (b *LoopbackBridge) Send(ctx context.Context, id string, msg BridgeMessage) error {
	lc, err := b.get(id)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}

	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	switch msg.Kind {
	case BridgeText:
		lc.conn.SetWriteDeadline(deadline)
		return lc.conn.WriteMessage(websocket.TextMessage, msg.Data)
	case BridgeBinary:
		lc.conn.SetWriteDeadline(deadline)
		return lc.conn.WriteMessage(websocket.BinaryMessage, msg.Data)
	case BridgePing:
		return lc.conn.WriteControl(websocket.PingMessage, msg.Data, deadline)
	case BridgePong:
		return lc.conn.WriteControl(websocket.PongMessage, msg.Data, deadline)
	case BridgeClose:
		return lc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(msg.Code, msg.Reason), deadline)
	}
	return fmt.Errorf("loopback: unsupported message kind %q", msg.Kind)
}

// Disconnect implements Bridge.
func (b *LoopbackBridge) Disconnect(id string) error {
	lc, err := b.get(id)
	if err != nil {
		return nil
	}
	lc.writeMu.Lock()
	lc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CloseNormal, ""), time.Now().Add(time.Second))
	lc.writeMu.Unlock()
	return lc.conn.Close()
}
