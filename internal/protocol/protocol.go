// Package protocol defines the JSON wire format spoken on the chat and
// event-bus WebSockets.
//
// # Wire Overview
//
// Every server→client frame is a JSON object with a "type" discriminant and
// optional "seq" (event watermark) and "replaying" (sourced from replay)
// fields:
//
//	{"type": "stream_delta", "seq": 42, "content": "Hel"}
//
// The client announces itself with the literal JSON string "ready" right
// after the socket opens, and afterwards sends typed commands:
//
//	{"type": "permission_response", "id": "req-1", "allow": true}
package protocol

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Server → Client control messages
// =============================================================================
// Handled by the channel before anything reaches the caller.

const (
	// TypeAuthOK marks the connection as authenticated.
	TypeAuthOK = "auth_ok"

	// TypeAuthError is terminal for the channel.
	// Data: { "message": string }
	TypeAuthError = "auth_error"

	// TypeReplayComplete ends the replay phase of a fresh connection.
	TypeReplayComplete = "replay_complete"

	// TypeEventsLagged reports that the server dropped events for this client.
	// Data: { "skipped": int }
	TypeEventsLagged = "events_lagged"

	// TypeSessionClosed is terminal; the conversation no longer accepts clients.
	// Data: { "reason": string }
	TypeSessionClosed = "session_closed"
)

// =============================================================================
// Server → Client chat events
// =============================================================================

const (
	EventUserMessage           = "user_message"
	EventAssistantText         = "assistant_text"
	EventStreamDelta           = "stream_delta"
	EventThinking              = "thinking"
	EventToolUse               = "tool_use"
	EventToolUseInputResolved  = "tool_use_input_resolved"
	EventToolResult            = "tool_result"
	EventPermissionRequest     = "permission_request"
	EventInputRequest          = "input_request"
	EventAskUserQuestion       = "ask_user_question"
	EventError                 = "error"
	EventResult                = "result"
	EventStreamingStatus       = "streaming_status"
	EventPartialText           = "partial_text"
	EventPermissionModeChanged = "permission_mode_changed"
)

// AskUserQuestionTool is the tool name the agent uses for a multi-question
// prompt addressed to the user.
const AskUserQuestionTool = "AskUserQuestion"

// =============================================================================
// Client → Server commands
// =============================================================================

const (
	CmdUserMessage        = "user_message"
	CmdInterrupt          = "interrupt"
	CmdPermissionResponse = "permission_response"
	CmdInputResponse      = "input_response"
	CmdSetPermissionMode  = "set_permission_mode"
	CmdSetModel           = "set_model"
	CmdSetAutoContinue    = "set_auto_continue"
)

// ReadyMessage is sent verbatim once the socket reports open.
var ReadyMessage = []byte(`"ready"`)

// Envelope is the minimal view of any inbound frame.
type Envelope struct {
	Type      string `json:"type"`
	Seq       *int64 `json:"seq,omitempty"`
	Replaying bool   `json:"replaying,omitempty"`
}

// ParseEnvelope decodes the discriminant fields of a frame.
// Frames that are not JSON objects or lack a type are rejected.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("parse envelope: missing type")
	}
	return env, nil
}

// AuthError is the payload of an auth_error frame.
type AuthError struct {
	Message string `json:"message"`
}

// EventsLagged is the payload of an events_lagged frame.
type EventsLagged struct {
	Skipped int `json:"skipped"`
}

// SessionClosed is the payload of a session_closed frame.
type SessionClosed struct {
	Reason string `json:"reason"`
}

// QuestionOption is one selectable answer of an AskUserQuestion prompt.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is a single prompt of an AskUserQuestion call.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multi_select,omitempty"`
}

// Event is a flat chat event as pushed live or returned by the history API.
// Which fields are populated depends on Type.
type Event struct {
	Type      string `json:"type"`
	Seq       *int64 `json:"seq,omitempty"`
	Replaying bool   `json:"replaying,omitempty"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// user_message, assistant_text, stream_delta, thinking, partial_text
	Content string `json:"content,omitempty"`

	// tool_use, tool_use_input_resolved, tool_result, permission_request
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// permission_request, input_request
	RequestID string   `json:"request_id,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Options   []string `json:"options,omitempty"`

	// ask_user_question
	Questions []Question `json:"questions,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// result
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`

	// streaming_status
	Streaming *bool `json:"streaming,omitempty"`

	// permission_mode_changed
	Mode string `json:"mode,omitempty"`
}

// ParseEvent decodes a chat event frame.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("parse event: missing type")
	}
	return ev, nil
}

// SeqValue returns the event watermark or 0 when absent.
func (e Event) SeqValue() int64 {
	if e.Seq == nil {
		return 0
	}
	return *e.Seq
}

// Command is an outbound client command. Only the fields relevant to Type
// are serialized.
type Command struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
	Allow   *bool  `json:"allow,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Model   string `json:"model,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// UserMessage builds a user_message command.
func UserMessage(content string) Command {
	return Command{Type: CmdUserMessage, Content: content}
}

// Interrupt builds an interrupt command.
func Interrupt() Command {
	return Command{Type: CmdInterrupt}
}

// PermissionResponse builds a permission_response command.
func PermissionResponse(id string, allow bool) Command {
	return Command{Type: CmdPermissionResponse, ID: id, Allow: &allow}
}

// InputResponse builds an input_response command.
func InputResponse(id, content string) Command {
	return Command{Type: CmdInputResponse, ID: id, Content: content}
}

// SetPermissionMode builds a set_permission_mode command.
func SetPermissionMode(mode string) Command {
	return Command{Type: CmdSetPermissionMode, Mode: mode}
}

// SetModel builds a set_model command.
func SetModel(model string) Command {
	return Command{Type: CmdSetModel, Model: model}
}

// SetAutoContinue builds a set_auto_continue command.
func SetAutoContinue(enabled bool) Command {
	return Command{Type: CmdSetAutoContinue, Enabled: &enabled}
}

// Int64 returns a pointer to v, for building events with a seq.
func Int64(v int64) *int64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
