package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/planboard/chatcore/internal/eventbus"
	"github.com/planboard/chatcore/internal/protocol"
	"github.com/planboard/chatcore/internal/transcript"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name  string
		block transcript.Block
		want  string
	}{
		{
			name: "tool use with input",
			block: transcript.Block{Type: transcript.BlockToolUse, Content: "Bash",
				Metadata: &transcript.Metadata{ToolInput: json.RawMessage(`{"command": "ls"}`)}},
			want: `[tool] Bash {"command": "ls"}`,
		},
		{
			name:  "tool error result",
			block: transcript.Block{Type: transcript.BlockToolResult, Content: "denied", Metadata: &transcript.Metadata{IsError: true}},
			want:  "[result error] denied",
		},
		{
			name: "permission request",
			block: transcript.Block{Type: transcript.BlockPermissionRequest, Content: "Bash wants to execute",
				Metadata: &transcript.Metadata{RequestID: "p1"}},
			want: "[permission p1] Bash wants to execute: /allow p1 | /deny p1",
		},
		{
			name: "auto approved",
			block: transcript.Block{Type: transcript.BlockPermissionRequest, Content: "Bash wants to execute",
				Metadata: &transcript.Metadata{RequestID: "p1", AutoApproved: true}},
			want: "[permission p1] Bash wants to execute (auto-approved)",
		},
		{
			name: "input with options",
			block: transcript.Block{Type: transcript.BlockInputRequest, Content: "Continue?",
				Metadata: &transcript.Metadata{RequestID: "i1", Options: []string{"yes", "no"}}},
			want: "[input i1] Continue? (yes / no): /answer i1 <text>",
		},
		{
			name: "question",
			block: transcript.Block{Type: transcript.BlockAskUserQuestion, Metadata: &transcript.Metadata{
				RequestID: "q1",
				Questions: []protocol.Question{{Question: "Pick one", Options: []protocol.QuestionOption{{Label: "A"}, {Label: "B"}}}},
			}},
			want: "[question q1]\n  Pick one\n    - A\n    - B\n  /answer q1 <text>",
		},
		{
			name:  "error",
			block: transcript.Block{Type: transcript.BlockError, Content: "boom"},
			want:  "[error] boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describe(tt.block); got != tt.want {
				t.Errorf("describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrinter_StreamsDeltas(t *testing.T) {
	out := &bytes.Buffer{}
	p := newPrinter(out)
	eng := transcript.New()

	events := []protocol.Event{
		{Type: protocol.EventUserMessage, Content: "hi"},
		{Type: protocol.EventStreamDelta, Content: "Hel"},
		{Type: protocol.EventStreamDelta, Content: "lo"},
		{Type: protocol.EventToolUse, ToolName: "Read", ToolCallID: "tc1"},
		{Type: protocol.EventToolUseInputResolved, ToolCallID: "tc1", ToolInput: json.RawMessage(`{"path":"a.go"}`)},
		{Type: protocol.EventStreamDelta, Content: "done"},
	}
	for _, ev := range events {
		p.change(eng, eng.Apply(ev))
	}

	want := strings.Join([]string{
		"> hi",
		"Hello",
		"[tool] Read",
		`(updated) [tool] Read {"path":"a.go"}`,
		"done",
	}, "\n")
	if got := out.String(); got != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}

	out.Reset()
	p.all(eng.Messages())
	// The open "done" line is terminated first.
	if got := strings.TrimPrefix(out.String(), "\n"); !strings.HasPrefix(got, "> hi\nHello\n[tool] Read {") || !strings.HasSuffix(got, "done\n") {
		t.Errorf("all() output = %q", got)
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(eventbus.Event{Action: eventbus.ActionUpdated, Entity: eventbus.EntityTask, ID: "t1", WorkspaceID: "w1"})
	want := "updated  task       t1 workspace=w1"
	if got != want {
		t.Errorf("formatEvent() = %q, want %q", got, want)
	}
	counts := formatCounts(map[eventbus.Entity]int{eventbus.EntityTask: 3, eventbus.EntityNote: 1})
	if !strings.HasSuffix(counts, " note=1 task=3") {
		t.Errorf("formatCounts() = %q", counts)
	}
}
