package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/planboard/chatcore/internal/transcript"
)

// printer writes a transcript to a terminal. Text and thinking blocks are
// streamed: only the part not yet printed is written on every merge.
type printer struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]int
	open    bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: make(map[string]int)}
}

// all reprints the whole transcript.
func (p *printer) all(msgs []transcript.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = make(map[string]int)
	p.endLine()
	for _, m := range msgs {
		for _, b := range m.Blocks {
			p.block(m.Role, b)
		}
	}
	p.endLine()
}

// change prints the block touched by a live change.
func (p *printer) change(eng *transcript.Engine, ch transcript.Change) {
	if ch.Kind != transcript.ChangeAppend && ch.Kind != transcript.ChangeMerge && ch.Kind != transcript.ChangeUpdate {
		return
	}
	m, ok := eng.Message(ch.Message)
	if !ok || ch.Block < 0 || ch.Block >= len(m.Blocks) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block(m.Role, m.Blocks[ch.Block])
}

func (p *printer) endLine() {
	if p.open {
		fmt.Fprintln(p.out)
		p.open = false
	}
}

func (p *printer) block(role transcript.Role, b transcript.Block) {
	n, seen := p.printed[b.ID]
	if b.Type == transcript.BlockText || b.Type == transcript.BlockThinking {
		if !seen {
			p.endLine()
			fmt.Fprint(p.out, prefix(role, b))
			n = 0
		}
		if n < len(b.Content) {
			fmt.Fprint(p.out, b.Content[n:])
		}
		p.printed[b.ID] = len(b.Content)
		p.open = true
		return
	}
	p.endLine()
	if seen {
		fmt.Fprint(p.out, "(updated) ")
	}
	fmt.Fprintln(p.out, describe(b))
	p.printed[b.ID] = len(b.Content)
}

func prefix(role transcript.Role, b transcript.Block) string {
	switch {
	case b.Type == transcript.BlockThinking:
		return "(thinking) "
	case role == transcript.RoleUser:
		return "> "
	default:
		return ""
	}
}

// describe renders a non-streamed block on one or more lines.
func describe(b transcript.Block) string {
	md := b.Metadata
	if md == nil {
		md = &transcript.Metadata{}
	}
	switch b.Type {
	case transcript.BlockToolUse:
		if len(md.ToolInput) > 0 {
			return fmt.Sprintf("[tool] %s %s", b.Content, compact(string(md.ToolInput)))
		}
		return "[tool] " + b.Content
	case transcript.BlockToolResult:
		tag := "[result]"
		if md.IsError {
			tag = "[result error]"
		}
		return tag + " " + b.Content
	case transcript.BlockPermissionRequest:
		if md.AutoApproved {
			return fmt.Sprintf("[permission %s] %s (auto-approved)", md.RequestID, b.Content)
		}
		return fmt.Sprintf("[permission %s] %s: /allow %s | /deny %s", md.RequestID, b.Content, md.RequestID, md.RequestID)
	case transcript.BlockInputRequest:
		s := fmt.Sprintf("[input %s] %s", md.RequestID, b.Content)
		if len(md.Options) > 0 {
			s += " (" + strings.Join(md.Options, " / ") + ")"
		}
		return s + ": /answer " + md.RequestID + " <text>"
	case transcript.BlockAskUserQuestion:
		var sb strings.Builder
		fmt.Fprintf(&sb, "[question %s]", md.RequestID)
		for _, q := range md.Questions {
			sb.WriteString("\n  " + q.Question)
			for _, o := range q.Options {
				sb.WriteString("\n    - " + o.Label)
			}
		}
		if len(md.Questions) == 0 && b.Content != "" {
			sb.WriteString(" " + b.Content)
		}
		sb.WriteString("\n  /answer " + md.RequestID + " <text>")
		return sb.String()
	case transcript.BlockError:
		return "[error] " + b.Content
	default:
		return b.Content
	}
}

func compact(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
