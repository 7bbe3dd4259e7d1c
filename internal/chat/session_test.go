package chat_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planboard/chatcore/internal/channel"
	"github.com/planboard/chatcore/internal/chat"
	"github.com/planboard/chatcore/internal/client"
	"github.com/planboard/chatcore/internal/transport"
)

// newBackend serves the ticket endpoint and a chat socket that completes the
// handshake and then reports every client frame on received.
func newBackend(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	received := make(chan string, 32)
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ws-ticket", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"ticket": "t1"})
	})
	mux.HandleFunc("GET /api/sessions/s1/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticket") != "t1" {
			http.Error(w, "bad ticket", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, first, err := conn.ReadMessage()
		if err != nil || string(first) != `"ready"` {
			t.Errorf("first frame = %q, %v; want \"ready\"", first, err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth_ok"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"replay_complete"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, received
}

func TestSession_TypedCommands(t *testing.T) {
	srv, received := newBackend(t)
	c := client.New(srv.URL)

	statuses := make(chan channel.Status, 16)
	s := chat.New(channel.Options{
		Endpoint: c.SessionSocketURL,
		Header:   c.Header(),
		Tickets:  c,
		Dialer:   transport.NewDirectDialer(nil),
		Handlers: channel.Handlers{
			OnStatus: func(st channel.Status) { statuses <- st },
		},
	})
	defer s.Close()

	if s.SendUserMessage("too early") {
		t.Fatal("SendUserMessage() = true before connect")
	}

	s.Connect("s1", 0)
	deadline := time.After(5 * time.Second)
	for connected := false; !connected; {
		select {
		case st := <-statuses:
			connected = st == channel.StatusConnected
		case <-deadline:
			t.Fatal("timed out waiting for connected")
		}
	}

	sends := []struct {
		send func() bool
		want string
	}{
		{func() bool { return s.SendUserMessage("hello") }, `{"type":"user_message","content":"hello"}`},
		{s.Interrupt, `{"type":"interrupt"}`},
		{func() bool { return s.RespondPermission("p1", true) }, `{"type":"permission_response","id":"p1","allow":true}`},
		{func() bool { return s.RespondPermission("p2", false) }, `{"type":"permission_response","id":"p2","allow":false}`},
		{func() bool { return s.RespondInput("q1", "yes") }, `{"type":"input_response","content":"yes","id":"q1"}`},
		{func() bool { return s.SetPermissionMode("plan") }, `{"type":"set_permission_mode","mode":"plan"}`},
		{func() bool { return s.SetModel("opus") }, `{"type":"set_model","model":"opus"}`},
		{func() bool { return s.SetAutoContinue(false) }, `{"type":"set_auto_continue","enabled":false}`},
	}
	for _, tt := range sends {
		if !tt.send() {
			t.Fatalf("send of %s returned false", tt.want)
		}
		select {
		case got := <-received:
			if got != tt.want {
				t.Errorf("server got %s, want %s", got, tt.want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("server never received %s", tt.want)
		}
	}

	s.Disconnect()
	if s.Interrupt() {
		t.Error("Interrupt() = true after Disconnect")
	}
}
