package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/planboard/chatcore/internal/client"
	"github.com/planboard/chatcore/internal/protocol"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *client.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, client.New(srv.URL, client.WithToken("tok"))
}

func TestClient_FetchTicket(t *testing.T) {
	_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/ws-ticket" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"ticket": "t-123"})
	})

	ticket, err := c.FetchTicket(context.Background())
	if err != nil {
		t.Fatalf("FetchTicket failed: %v", err)
	}
	if ticket != "t-123" {
		t.Errorf("ticket = %q, want t-123", ticket)
	}
}

func TestClient_FetchTicket_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"unauthorized", http.StatusUnauthorized, "nope", "status 401: nope"},
		{"empty ticket", http.StatusOK, `{"ticket":""}`, "empty ticket"},
		{"bad json", http.StatusOK, `{`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchTicket(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestClient_FetchMessages(t *testing.T) {
	_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s 1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "50" || r.URL.Query().Get("offset") != "87" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"messages":[
			{"type":"user_message","content":"hi","seq":1},
			"garbage",
			{"type":"assistant_text","content":"hello","seq":2}
		],"total_count":137}`))
	})

	page, err := c.FetchMessages(context.Background(), "s 1", 50, 87)
	if err != nil {
		t.Fatalf("FetchMessages failed: %v", err)
	}
	if page.TotalCount != 137 {
		t.Errorf("TotalCount = %d, want 137", page.TotalCount)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (malformed entry dropped)", len(page.Messages))
	}
	if page.Messages[1].Type != protocol.EventAssistantText || page.Messages[1].SeqValue() != 2 {
		t.Errorf("second message = %+v", page.Messages[1])
	}
}

func TestClient_GetSession_NotFound(t *testing.T) {
	_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.GetSession(context.Background(), "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var se *client.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Op != "get session" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestClient_GetSession(t *testing.T) {
	_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"s1","title":"Roadmap","status":"active","permission_mode":"plan"}`))
	})

	info, err := c.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if info.ID != "s1" || info.Title != "Roadmap" || info.PermissionMode != "plan" {
		t.Errorf("info = %+v", info)
	}
}

func TestClient_CreateSession(t *testing.T) {
	_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["message"] != "Plan Q3" || body["project_id"] != "p1" {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["working_dir"]; ok {
			t.Errorf("empty working_dir should be omitted: %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"session_id":"new-1"}`))
	})

	id, err := c.CreateSession(context.Background(), client.CreateSessionRequest{Message: "Plan Q3", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "new-1" {
		t.Errorf("id = %q, want new-1", id)
	}
}

func TestClient_CreateSession_RequiresMessage(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	if _, err := c.CreateSession(context.Background(), client.CreateSessionRequest{Message: "  "}); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestClient_SocketURLs(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		opts   []client.Option
		wantCh string
		wantEv string
	}{
		{"http", "http://localhost:8080", nil, "ws://localhost:8080/api/sessions/s1/ws", "ws://localhost:8080/api/events/ws"},
		{"https with prefix", "https://board.example.com/", []client.Option{client.WithAPIPrefix("/v2/")}, "wss://board.example.com/v2/sessions/s1/ws", "wss://board.example.com/v2/events/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := client.New(tt.base, tt.opts...)
			if got := c.SessionSocketURL("s1"); got != tt.wantCh {
				t.Errorf("SessionSocketURL = %q, want %q", got, tt.wantCh)
			}
			if got := c.EventsSocketURL(); got != tt.wantEv {
				t.Errorf("EventsSocketURL = %q, want %q", got, tt.wantEv)
			}
		})
	}
}

func TestClient_HeaderWithoutToken(t *testing.T) {
	c := client.New("http://localhost")
	if got := c.Header().Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}
