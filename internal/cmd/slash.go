package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/reeflective/readline"

	"github.com/planboard/chatcore/internal/transcript"
)

// errQuit ends the interactive loop.
var errQuit = errors.New("quit")

// errNotOpen is reported when a command could not be sent.
var errNotOpen = errors.New("not connected, command dropped")

// controller is the outbound command surface of a chat session.
type controller interface {
	SendUserMessage(content string) bool
	Interrupt() bool
	RespondPermission(id string, allow bool) bool
	RespondInput(id, content string) bool
	SetPermissionMode(mode string) bool
	SetModel(model string) bool
	SetAutoContinue(enabled bool) bool
}

type olderLoader interface {
	LoadOlder(ctx context.Context) bool
}

type remembered interface {
	Add(tool string) error
}

type slashCommand struct {
	name        string
	description string
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []slashCommand{
	{"/allow", "Allow a permission request: /allow ID [always]"},
	{"/deny", "Deny a permission request: /deny ID"},
	{"/answer", "Answer an input request or question: /answer ID text"},
	{"/pending", "List requests waiting for an answer"},
	{"/mode", "Set the permission mode: /mode MODE"},
	{"/model", "Switch the model: /model NAME"},
	{"/auto", "Toggle auto-continue: /auto on|off"},
	{"/interrupt", "Interrupt the agent turn"},
	{"/older", "Load older history"},
	{"/help", "Show available commands"},
	{"/quit", "Exit"},
}

// repl interprets one line of interactive input.
type repl struct {
	ctl       controller
	older     olderLoader
	engine    *transcript.Engine
	approvals remembered
	printer   *printer
	out       io.Writer
}

func (r *repl) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if !r.ctl.SendUserMessage(line) {
			return errNotOpen
		}
		ch := r.engine.AppendUserMessage(line, time.Now().UTC().Format(time.RFC3339))
		if r.printer != nil {
			r.printer.change(r.engine, ch)
		}
		return nil
	}

	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("cannot parse command: %w", err)
	}
	name, args := strings.ToLower(args[0]), args[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help", "/h", "/?":
		printHelp(r.out)
		return nil
	case "/allow", "/deny":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s ID", name)
		}
		id, allow := args[0], name == "/allow"
		if allow && len(args) > 1 && args[1] == "always" {
			if err := r.remember(id); err != nil {
				return err
			}
		}
		return r.sent(r.ctl.RespondPermission(id, allow), id)
	case "/answer":
		if len(args) < 2 {
			return errors.New("usage: /answer ID text")
		}
		return r.sent(r.ctl.RespondInput(args[0], strings.Join(args[1:], " ")), args[0])
	case "/pending":
		pending := r.engine.PendingApprovals()
		if len(pending) == 0 {
			fmt.Fprintln(r.out, "nothing pending")
		}
		for _, b := range pending {
			fmt.Fprintln(r.out, describe(b))
		}
		return nil
	case "/mode":
		if len(args) != 1 {
			return errors.New("usage: /mode MODE")
		}
		return r.sent(r.ctl.SetPermissionMode(args[0]), "")
	case "/model":
		if len(args) != 1 {
			return errors.New("usage: /model NAME")
		}
		return r.sent(r.ctl.SetModel(args[0]), "")
	case "/auto":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.New("usage: /auto on|off")
		}
		return r.sent(r.ctl.SetAutoContinue(args[0] == "on"), "")
	case "/interrupt", "/cancel":
		return r.sent(r.ctl.Interrupt(), "")
	case "/older":
		if !r.older.LoadOlder(ctx) {
			fmt.Fprintln(r.out, "no older history")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %s (use /help)", name)
	}
}

// sent converts a send result; answered requests leave the pending list.
func (r *repl) sent(ok bool, requestID string) error {
	if !ok {
		return errNotOpen
	}
	if requestID != "" {
		r.engine.MarkAnswered(requestID)
	}
	return nil
}

// remember adds the tool of a pending permission request to the approvals.
func (r *repl) remember(requestID string) error {
	for _, b := range r.engine.PendingApprovals() {
		if b.Type != transcript.BlockPermissionRequest || b.Metadata.RequestID != requestID {
			continue
		}
		if b.Metadata.ToolName == "" {
			return fmt.Errorf("request %s has no tool name", requestID)
		}
		if err := r.approvals.Add(b.Metadata.ToolName); err != nil {
			return fmt.Errorf("remember %s: %w", b.Metadata.ToolName, err)
		}
		fmt.Fprintf(r.out, "%s will be approved automatically\n", b.Metadata.ToolName)
		return nil
	}
	return fmt.Errorf("no pending permission request %s", requestID)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	for _, c := range slashCommands {
		fmt.Fprintf(out, "  %-11s %s\n", c.name, c.description)
	}
	fmt.Fprintln(out, "\nAnything else is sent to the agent.")
}

// completeInput completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if !strings.HasPrefix(text, "/") || strings.Contains(text, " ") {
		return readline.Completions{}
	}

	pairs := make([]string, 0, len(slashCommands)*2)
	for _, cmd := range matchCommands(text) {
		pairs = append(pairs, cmd.name, cmd.description)
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}

func matchCommands(prefix string) []slashCommand {
	var out []slashCommand
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}
