package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planboard/chatcore/internal/protocol"
)

// dedupWindow is how many trailing messages are searched for an echoed
// user message on the live path.
const dedupWindow = 10

// state is the foldable part of a transcript.
type state struct {
	messages   []Message
	streaming  bool
	mode       string
	unresolved []inputResolution
}

// Fold converts events into messages from empty state. With live false every
// event is treated as replay-sourced, which is what history pages are.
func Fold(ids IDGenerator, events []protocol.Event, live bool) []Message {
	if ids == nil {
		ids = &CounterIDs{}
	}
	var s state
	for _, ev := range events {
		s.apply(ids, ev, live, false)
	}
	return s.messages
}

// apply folds one event. autoApproved marks a permission request already
// answered by the auto-approval side channel.
func (s *state) apply(ids IDGenerator, ev protocol.Event, live, autoApproved bool) Change {
	switch ev.Type {
	case protocol.EventUserMessage:
		if live && s.isEcho(ev.Content) {
			return noChange
		}
		s.messages = append(s.messages, Message{
			ID:        ids.NextID("msg"),
			Role:      RoleUser,
			Timestamp: ev.Timestamp,
			Blocks:    []Block{{ID: ids.NextID("blk"), Type: BlockText, Content: ev.Content}},
		})
		return s.lastBlock()

	case protocol.EventStreamDelta:
		if ev.Content == "" {
			return noChange
		}
		if live {
			s.streaming = true
		}
		return s.appendOrMerge(ids, ev, BlockText)

	case protocol.EventAssistantText:
		if live {
			return noChange
		}
		return s.appendOrMerge(ids, ev, BlockText)

	case protocol.EventThinking:
		if live {
			s.streaming = true
			return s.appendOrMerge(ids, ev, BlockThinking)
		}
		return s.appendBlock(ids, ev, Block{Type: BlockThinking, Content: ev.Content})

	case protocol.EventPartialText:
		if !live {
			return noChange
		}
		s.streaming = true
		return s.appendBlock(ids, ev, Block{Type: BlockText, Content: ev.Content})

	case protocol.EventToolUse:
		if ev.ToolName == protocol.AskUserQuestionTool {
			questions := parseQuestions(ev.ToolInput)
			return s.appendBlock(ids, ev, Block{
				Type:    BlockAskUserQuestion,
				Content: questionText(questions),
				Metadata: &Metadata{
					ToolCallID: ev.ToolCallID,
					ToolName:   ev.ToolName,
					RequestID:  firstNonEmpty(ev.RequestID, ev.ToolCallID),
					Questions:  questions,
				},
			})
		}
		return s.appendBlock(ids, ev, Block{
			Type:    BlockToolUse,
			Content: ev.ToolName,
			Metadata: &Metadata{
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				ToolInput:  cloneRaw(ev.ToolInput),
			},
		})

	case protocol.EventToolUseInputResolved:
		return s.resolveInput(ev)

	case protocol.EventToolResult:
		return s.appendBlock(ids, ev, Block{
			Type:    BlockToolResult,
			Content: displayString(ev.Result, ev.Content),
			Metadata: &Metadata{
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				IsError:    ev.IsError,
			},
		})

	case protocol.EventPermissionRequest:
		tool := firstNonEmpty(ev.ToolName, "tool")
		return s.appendBlock(ids, ev, Block{
			Type:    BlockPermissionRequest,
			Content: fmt.Sprintf("%s wants to execute", tool),
			Metadata: &Metadata{
				ToolCallID:   ev.ToolCallID,
				ToolName:     ev.ToolName,
				ToolInput:    cloneRaw(ev.ToolInput),
				RequestID:    firstNonEmpty(ev.RequestID, ev.ToolCallID),
				Options:      append([]string(nil), ev.Options...),
				AutoApproved: autoApproved,
			},
		})

	case protocol.EventInputRequest:
		return s.appendBlock(ids, ev, Block{
			Type:    BlockInputRequest,
			Content: firstNonEmpty(ev.Prompt, ev.Content),
			Metadata: &Metadata{
				RequestID: firstNonEmpty(ev.RequestID, ev.ID),
				Options:   append([]string(nil), ev.Options...),
			},
		})

	case protocol.EventAskUserQuestion:
		questions := ev.Questions
		if len(questions) == 0 {
			questions = parseQuestions(ev.ToolInput)
		}
		return s.appendBlock(ids, ev, Block{
			Type:    BlockAskUserQuestion,
			Content: questionText(questions),
			Metadata: &Metadata{
				ToolCallID: ev.ToolCallID,
				RequestID:  firstNonEmpty(ev.RequestID, ev.ToolCallID, ev.ID),
				Questions:  cloneQuestions(questions),
			},
		})

	case protocol.EventError:
		if live {
			s.streaming = false
		}
		return s.appendBlock(ids, ev, Block{Type: BlockError, Content: firstNonEmpty(ev.Message, ev.Content)})

	case protocol.EventResult:
		if live {
			s.streaming = false
		}
		if ev.CostUSD != 0 || ev.DurationMS != 0 {
			if c := s.recordResult(ev); c.Kind != ChangeNone {
				return c
			}
		}
		if live {
			return Change{Kind: ChangeState, Message: -1, Block: -1}
		}
		return noChange

	case protocol.EventStreamingStatus:
		if !live || ev.Streaming == nil {
			return noChange
		}
		s.streaming = *ev.Streaming
		return Change{Kind: ChangeState, Message: -1, Block: -1}

	case protocol.EventPermissionModeChanged:
		if ev.Mode == "" {
			return noChange
		}
		s.mode = ev.Mode
		return Change{Kind: ChangeState, Message: -1, Block: -1}
	}
	return noChange
}

// isEcho reports whether a user message with this content is among the
// last dedupWindow messages.
func (s *state) isEcho(content string) bool {
	start := len(s.messages) - dedupWindow
	if start < 0 {
		start = 0
	}
	for i := len(s.messages) - 1; i >= start; i-- {
		m := s.messages[i]
		if m.Role == RoleUser && len(m.Blocks) > 0 && m.Blocks[0].Content == content {
			return true
		}
	}
	return false
}

// assistant returns the index of the trailing assistant message, opening
// one when the last message is not an assistant turn.
func (s *state) assistant(ids IDGenerator, ts string) int {
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == RoleAssistant {
		return n - 1
	}
	s.messages = append(s.messages, Message{
		ID:        ids.NextID("msg"),
		Role:      RoleAssistant,
		Timestamp: ts,
	})
	return len(s.messages) - 1
}

func (s *state) appendBlock(ids IDGenerator, ev protocol.Event, b Block) Change {
	mi := s.assistant(ids, ev.Timestamp)
	b.ID = ids.NextID("blk")
	s.messages[mi].Blocks = append(s.messages[mi].Blocks, b)
	return Change{Kind: ChangeAppend, Message: mi, Block: len(s.messages[mi].Blocks) - 1}
}

// appendOrMerge extends a trailing block of type bt or starts a new one.
func (s *state) appendOrMerge(ids IDGenerator, ev protocol.Event, bt BlockType) Change {
	mi := s.assistant(ids, ev.Timestamp)
	blocks := s.messages[mi].Blocks
	if n := len(blocks); n > 0 && blocks[n-1].Type == bt {
		blocks[n-1].Content += ev.Content
		return Change{Kind: ChangeMerge, Message: mi, Block: n - 1}
	}
	return s.appendBlock(ids, ev, Block{Type: bt, Content: ev.Content})
}

// resolveInput replaces the input of the matching tool_use block anywhere in
// the transcript. A miss leaves the transcript untouched.
func (s *state) resolveInput(ev protocol.Event) Change {
	if ev.ToolCallID == "" {
		return noChange
	}
	mi, bi, ok := resolveIn(s.messages, ev.ToolCallID, ev.ToolInput)
	if !ok {
		// The tool_use may sit on an older page that is prepended later.
		s.unresolved = append(s.unresolved, inputResolution{id: ev.ToolCallID, input: cloneRaw(ev.ToolInput)})
		return noChange
	}
	return Change{Kind: ChangeUpdate, Message: mi, Block: bi}
}

// inputResolution is a tool_use_input_resolved event whose tool_use was not
// found in the transcript.
type inputResolution struct {
	id    string
	input json.RawMessage
}

// resolveIn replaces the input of the newest tool_use block with the given
// call id.
func resolveIn(messages []Message, toolCallID string, input json.RawMessage) (int, int, bool) {
	for mi := len(messages) - 1; mi >= 0; mi-- {
		blocks := messages[mi].Blocks
		for bi := len(blocks) - 1; bi >= 0; bi-- {
			b := &blocks[bi]
			if b.Type != BlockToolUse || b.Metadata == nil || b.Metadata.ToolCallID != toolCallID {
				continue
			}
			md := *b.Metadata
			md.ToolInput = cloneRaw(input)
			b.Metadata = &md
			return mi, bi, true
		}
	}
	return 0, 0, false
}

// recordResult stores cost and duration on the last block of the trailing
// assistant message.
func (s *state) recordResult(ev protocol.Event) Change {
	n := len(s.messages)
	if n == 0 || s.messages[n-1].Role != RoleAssistant || len(s.messages[n-1].Blocks) == 0 {
		return noChange
	}
	blocks := s.messages[n-1].Blocks
	b := &blocks[len(blocks)-1]
	md := Metadata{}
	if b.Metadata != nil {
		md = *b.Metadata
	}
	md.CostUSD = ev.CostUSD
	md.DurationMS = ev.DurationMS
	b.Metadata = &md
	return Change{Kind: ChangeUpdate, Message: n - 1, Block: len(blocks) - 1}
}

func (s *state) lastBlock() Change {
	mi := len(s.messages) - 1
	return Change{Kind: ChangeAppend, Message: mi, Block: len(s.messages[mi].Blocks) - 1}
}

// displayString renders a tool result: JSON strings pass through, anything
// else is shown as its JSON text.
func displayString(raw json.RawMessage, fallback string) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fallback
	}
	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		return str
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err == nil {
		return buf.String()
	}
	return string(trimmed)
}

func parseQuestions(input json.RawMessage) []protocol.Question {
	if len(input) == 0 {
		return nil
	}
	var payload struct {
		Questions []protocol.Question `json:"questions"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return nil
	}
	return payload.Questions
}

func questionText(questions []protocol.Question) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		lines = append(lines, q.Question)
	}
	return strings.Join(lines, "\n")
}

func cloneQuestions(qs []protocol.Question) []protocol.Question {
	if qs == nil {
		return nil
	}
	out := make([]protocol.Question, len(qs))
	for i, q := range qs {
		q.Options = append([]protocol.QuestionOption(nil), q.Options...)
		out[i] = q
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
