// Package transcript reconstructs a structured conversation from the flat
// chat event log. History pages go through Convert and live events through
// Apply; both share one fold, so applying events one at a time yields the
// same transcript as converting them in bulk.
package transcript

import (
	"log/slog"
	"sync"

	"github.com/planboard/chatcore/internal/logging"
	"github.com/planboard/chatcore/internal/protocol"
)

// Engine owns one transcript. It is safe for concurrent use.
type Engine struct {
	ids       IDGenerator
	approvals Approvals
	responder Responder
	logger    *slog.Logger

	mu       sync.Mutex
	state    state
	answered map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator replaces the per-engine counter.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) { e.ids = ids }
}

// WithAutoApproval enables the auto-approval side channel: live permission
// requests for tools in approvals are answered through responder.
func WithAutoApproval(approvals Approvals, responder Responder) Option {
	return func(e *Engine) {
		e.approvals = approvals
		e.responder = responder
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{answered: make(map[string]bool)}
	for _, opt := range opts {
		opt(e)
	}
	if e.ids == nil {
		e.ids = &CounterIDs{}
	}
	if e.logger == nil {
		e.logger = logging.Transcript()
	}
	return e
}

// SetResponder attaches the responder after construction, for hosts that
// create the chat session after the engine.
func (e *Engine) SetResponder(r Responder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responder = r
}

// Convert replaces the transcript with the bulk conversion of a history
// page and returns a copy of it. The streaming flag is left alone.
func (e *Engine) Convert(events []protocol.Event) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state{streaming: e.state.streaming, mode: e.state.mode}
	for _, ev := range events {
		e.state.apply(e.ids, ev, false, false)
	}
	return cloneMessages(e.state.messages)
}

// Page is an older history page converted by ConvertPage.
type Page struct {
	Messages   []Message
	unresolved []inputResolution
}

// ConvertPage converts an older history page without touching the
// transcript. Ids come from the engine generator.
func (e *Engine) ConvertPage(events []protocol.Event) Page {
	var s state
	for _, ev := range events {
		s.apply(e.ids, ev, false, false)
	}
	return Page{Messages: s.messages, unresolved: s.unresolved}
}

// Prepend puts an older page in front of the transcript. An assistant turn
// split across the page boundary is joined back into one message, and input
// resolutions seen on newer pages are applied to the page's tool calls.
func (e *Engine) Prepend(page Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	older := cloneMessages(page.Messages)
	var carried []inputResolution
	for _, r := range e.state.unresolved {
		if _, _, ok := resolveIn(older, r.id, r.input); !ok {
			carried = append(carried, r)
		}
	}
	e.state.unresolved = append(append([]inputResolution(nil), page.unresolved...), carried...)
	if len(older) == 0 {
		return
	}
	cur := e.state.messages
	if len(cur) > 0 && older[len(older)-1].Role == RoleAssistant && cur[0].Role == RoleAssistant {
		last := &older[len(older)-1]
		last.Blocks = append(last.Blocks, cur[0].Blocks...)
		cur = cur[1:]
	}
	e.state.messages = append(older, cur...)
}

// Apply folds one event. Events flagged replaying take the replay path,
// all others the live path.
func (e *Engine) Apply(ev protocol.Event) Change {
	live := !ev.Replaying
	requestID := firstNonEmpty(ev.RequestID, ev.ToolCallID)

	e.mu.Lock()
	var respond func() bool
	auto := false
	if live && ev.Type == protocol.EventPermissionRequest && e.approvals != nil && e.responder != nil &&
		ev.ToolName != "" && e.approvals.IsApproved(ev.ToolName) {
		auto = true
		r := e.responder
		respond = func() bool { return r.RespondPermission(requestID, true) }
		e.answered[requestID] = true
	}
	change := e.state.apply(e.ids, ev, live, auto)
	e.mu.Unlock()

	if respond != nil {
		if respond() {
			e.logger.Debug("auto-approved permission request", "tool", ev.ToolName)
		} else {
			e.logger.Warn("auto-approval could not be sent, waiting for a manual answer", "tool", ev.ToolName, "request_id", requestID)
			e.revokeAutoApproval(requestID)
		}
	}
	return change
}

// revokeAutoApproval puts a request whose auto-approval was not delivered
// back into PendingApprovals.
func (e *Engine) revokeAutoApproval(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.answered, requestID)
	for mi := len(e.state.messages) - 1; mi >= 0; mi-- {
		blocks := e.state.messages[mi].Blocks
		for bi := len(blocks) - 1; bi >= 0; bi-- {
			b := &blocks[bi]
			if b.Type != BlockPermissionRequest || b.Metadata == nil || b.Metadata.RequestID != requestID {
				continue
			}
			md := *b.Metadata
			md.AutoApproved = false
			b.Metadata = &md
			return
		}
	}
}

// AppendUserMessage adds an optimistic user message before the server echo
// arrives; the live echo is then deduplicated.
func (e *Engine) AppendUserMessage(content, timestamp string) Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.apply(e.ids, protocol.Event{Type: protocol.EventUserMessage, Content: content, Timestamp: timestamp}, false, false)
}

// Reset empties the transcript, as on a session switch.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state{}
	e.answered = make(map[string]bool)
}

// Messages returns a deep copy of the transcript.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.state.messages)
}

// Message returns a copy of message i.
func (e *Engine) Message(i int) (Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.state.messages) {
		return Message{}, false
	}
	return e.state.messages[i].clone(), true
}

// Len returns the number of messages.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.state.messages)
}

// Streaming reports whether the agent turn is in progress.
func (e *Engine) Streaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.streaming
}

// PermissionMode returns the last server-confirmed permission mode.
func (e *Engine) PermissionMode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.mode
}

// PendingApprovals lists permission, input and question blocks still
// waiting for an answer, oldest first. Auto-approved requests are excluded.
func (e *Engine) PendingApprovals() []Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Block
	for _, m := range e.state.messages {
		for _, b := range m.Blocks {
			if b.Metadata == nil || b.Metadata.RequestID == "" || e.answered[b.Metadata.RequestID] {
				continue
			}
			switch b.Type {
			case BlockPermissionRequest:
				if b.Metadata.AutoApproved {
					continue
				}
			case BlockInputRequest, BlockAskUserQuestion:
			default:
				continue
			}
			out = append(out, b.clone())
		}
	}
	return out
}

// MarkAnswered removes a request from PendingApprovals.
func (e *Engine) MarkAnswered(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answered[requestID] = true
}
