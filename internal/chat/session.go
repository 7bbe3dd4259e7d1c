// Package chat is the chat flavour of the reconnecting channel: it adds the
// closed set of typed outbound commands.
package chat

import (
	"github.com/planboard/chatcore/internal/channel"
	"github.com/planboard/chatcore/internal/protocol"
)

// Session is a chat channel with typed commands. Every sender returns false
// when the socket is not open and never retries.
type Session struct {
	*channel.Channel
}

// New creates a chat session over a new channel.
func New(opts channel.Options) *Session {
	if opts.Name == "" {
		opts.Name = "chat"
	}
	return &Session{Channel: channel.New(opts)}
}

func (s *Session) send(cmd protocol.Command) bool {
	return s.SendJSON(cmd)
}

// SendUserMessage sends user text.
func (s *Session) SendUserMessage(content string) bool {
	return s.send(protocol.UserMessage(content))
}

// Interrupt asks the agent to stop the current turn.
func (s *Session) Interrupt() bool {
	return s.send(protocol.Interrupt())
}

// RespondPermission answers a permission request.
func (s *Session) RespondPermission(id string, allow bool) bool {
	return s.send(protocol.PermissionResponse(id, allow))
}

// RespondInput answers an input request or an AskUserQuestion prompt.
func (s *Session) RespondInput(id, content string) bool {
	return s.send(protocol.InputResponse(id, content))
}

// SetPermissionMode changes the agent permission mode.
func (s *Session) SetPermissionMode(mode string) bool {
	return s.send(protocol.SetPermissionMode(mode))
}

// SetModel switches the agent model.
func (s *Session) SetModel(model string) bool {
	return s.send(protocol.SetModel(model))
}

// SetAutoContinue toggles automatic continuation of agent turns.
func (s *Session) SetAutoContinue(enabled bool) bool {
	return s.send(protocol.SetAutoContinue(enabled))
}
