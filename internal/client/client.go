// Package client is the REST collaborator client of the chat core: the
// websocket ticket, paginated history, session metadata and session creation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/planboard/chatcore/internal/protocol"
)

// ErrNotFound matches a StatusError carrying 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned when the backend answers with an unexpected status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) work for 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client provides HTTP methods for the backend REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiPrefix  string
	token      string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAPIPrefix sets the API prefix. Default is "/api".
func WithAPIPrefix(prefix string) Option {
	return func(client *Client) {
		client.apiPrefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithToken attaches "Authorization: Bearer <token>" to every request.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// New creates a new client.
// baseURL should be the backend origin (e.g., "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiPrefix: "/api",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiURL builds a full API URL with the prefix.
func (c *Client) apiURL(path string) string {
	return c.baseURL + c.apiPrefix + path
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Header returns the ambient credentials to attach to websocket upgrades.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// SessionSocketURL returns the chat websocket endpoint of a session,
// without query parameters.
func (c *Client) SessionSocketURL(sessionID string) string {
	return c.socketURL("/sessions/" + url.PathEscape(sessionID) + "/ws")
}

// EventsSocketURL returns the CRUD event bus websocket endpoint.
func (c *Client) EventsSocketURL() string {
	return c.socketURL("/events/ws")
}

func (c *Client) socketURL(path string) string {
	u := c.apiURL(path)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// do sends a JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header = c.Header()
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

// FetchTicket obtains a one-time websocket auth ticket.
func (c *Client) FetchTicket(ctx context.Context) (string, error) {
	var resp ticketResponse
	if err := c.do(ctx, "fetch ticket", http.MethodPost, "/ws-ticket", nil, &resp); err != nil {
		return "", err
	}
	if resp.Ticket == "" {
		return "", fmt.Errorf("fetch ticket: empty ticket")
	}
	return resp.Ticket, nil
}

// MessagesPage is one page of session history.
type MessagesPage struct {
	Messages   []protocol.Event `json:"messages"`
	TotalCount int              `json:"total_count"`
}

// FetchMessages returns the history events in [offset, offset+limit).
// Entries that do not decode as events are dropped.
func (c *Client) FetchMessages(ctx context.Context, sessionID string, limit, offset int) (*MessagesPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages?" + q.Encode()

	var raw struct {
		Messages   []json.RawMessage `json:"messages"`
		TotalCount int               `json:"total_count"`
	}
	if err := c.do(ctx, "fetch messages", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	page := &MessagesPage{
		Messages:   make([]protocol.Event, 0, len(raw.Messages)),
		TotalCount: raw.TotalCount,
	}
	for _, m := range raw.Messages {
		ev, err := protocol.ParseEvent(m)
		if err != nil {
			continue
		}
		page.Messages = append(page.Messages, ev)
	}
	return page, nil
}

// SessionInfo is the session metadata returned by the backend.
type SessionInfo struct {
	ID             string `json:"id"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status,omitempty"`
	WorkingDir     string `json:"working_dir,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	Model          string `json:"model,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// GetSession returns metadata of a session. A missing session yields an
// error matching ErrNotFound.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, "get session", http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateSessionRequest starts a new chat session with an initial message.
type CreateSessionRequest struct {
	Message        string `json:"message"`
	WorkingDir     string `json:"working_dir,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession creates a session and returns its id.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", fmt.Errorf("create session: message is required")
	}
	var resp createSessionResponse
	if err := c.do(ctx, "create session", http.MethodPost, "/sessions", req, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create session: response has no session_id")
	}
	return resp.SessionID, nil
}
