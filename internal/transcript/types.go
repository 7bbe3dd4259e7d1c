package transcript

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/planboard/chatcore/internal/protocol"
)

// Role of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates content blocks.
type BlockType string

const (
	BlockText              BlockType = "text"
	BlockThinking          BlockType = "thinking"
	BlockToolUse           BlockType = "tool_use"
	BlockToolResult        BlockType = "tool_result"
	BlockPermissionRequest BlockType = "permission_request"
	BlockInputRequest      BlockType = "input_request"
	BlockAskUserQuestion   BlockType = "ask_user_question"
	BlockError             BlockType = "error"
)

// Metadata carries the typed side data of a block.
type Metadata struct {
	ToolCallID   string              `json:"tool_call_id,omitempty"`
	ToolName     string              `json:"tool_name,omitempty"`
	ToolInput    json.RawMessage     `json:"tool_input,omitempty"`
	IsError      bool                `json:"is_error,omitempty"`
	RequestID    string              `json:"request_id,omitempty"`
	Options      []string            `json:"options,omitempty"`
	Questions    []protocol.Question `json:"questions,omitempty"`
	AutoApproved bool                `json:"auto_approved,omitempty"`
	CostUSD      float64             `json:"cost_usd,omitempty"`
	DurationMS   int64               `json:"duration_ms,omitempty"`
}

// Block is one content block of a message.
type Block struct {
	ID       string    `json:"id"`
	Type     BlockType `json:"type"`
	Content  string    `json:"content"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	ID        string  `json:"id"`
	Role      Role    `json:"role"`
	Blocks    []Block `json:"blocks"`
	Timestamp string  `json:"timestamp,omitempty"`
}

func (b Block) clone() Block {
	if b.Metadata == nil {
		return b
	}
	md := *b.Metadata
	if md.ToolInput != nil {
		md.ToolInput = append(json.RawMessage(nil), md.ToolInput...)
	}
	if md.Options != nil {
		md.Options = append([]string(nil), md.Options...)
	}
	if md.Questions != nil {
		qs := make([]protocol.Question, len(md.Questions))
		for i, q := range md.Questions {
			q.Options = append([]protocol.QuestionOption(nil), q.Options...)
			qs[i] = q
		}
		md.Questions = qs
	}
	b.Metadata = &md
	return b
}

func (m Message) clone() Message {
	blocks := make([]Block, len(m.Blocks))
	for i, b := range m.Blocks {
		blocks[i] = b.clone()
	}
	m.Blocks = blocks
	return m
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}

// IDGenerator issues message and block ids. Kind is "msg" or "blk".
type IDGenerator interface {
	NextID(kind string) string
}

// CounterIDs numbers ids per kind: msg-1, msg-2, blk-1. The zero value is
// ready to use.
type CounterIDs struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *CounterIDs) NextID(kind string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[kind]++
	return kind + "-" + strconv.Itoa(c.counts[kind])
}

// UUIDGenerator returns kind-prefixed random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID(kind string) string {
	return kind + "-" + uuid.NewString()
}

// Approvals is the remembered set of tools approved without asking.
type Approvals interface {
	IsApproved(toolName string) bool
}

// Responder sends permission responses back over the chat session.
type Responder interface {
	RespondPermission(id string, allow bool) bool
}

// ChangeKind tells a renderer what an applied event did.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	// ChangeAppend added a block, possibly in a new message.
	ChangeAppend
	// ChangeMerge extended the content of an existing block.
	ChangeMerge
	// ChangeUpdate rewrote the metadata of an existing block.
	ChangeUpdate
	// ChangeState touched only the streaming flag or the permission mode.
	ChangeState
)

// Change locates the block affected by an applied event. Message and Block
// are -1 when no block was affected.
type Change struct {
	Kind    ChangeKind
	Message int
	Block   int
}

var noChange = Change{Kind: ChangeNone, Message: -1, Block: -1}
