package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/planboard/chatcore/internal/approvals"
	"github.com/planboard/chatcore/internal/channel"
	"github.com/planboard/chatcore/internal/chat"
	"github.com/planboard/chatcore/internal/client"
	"github.com/planboard/chatcore/internal/config"
	"github.com/planboard/chatcore/internal/history"
	"github.com/planboard/chatcore/internal/lifecycle"
	"github.com/planboard/chatcore/internal/logging"
	"github.com/planboard/chatcore/internal/protocol"
	"github.com/planboard/chatcore/internal/transcript"
)

var (
	newMessage     string
	workingDir     string
	projectID      string
	permissionMode string
)

var chatCmd = &cobra.Command{
	Use:   "chat [session-id]",
	Short: "Attach to a chat session interactively",
	Long: `Attach to a chat session: the recent history is printed, the agent's
output is streamed live and lines you type are sent as user messages.

Start a new session instead with --new:
  chatcore chat --new "Plan the Q3 roadmap" --project p1

Slash commands answer permission and input requests (/allow, /deny,
/answer), change session settings (/mode, /model, /auto), /interrupt the
agent, /older loads earlier history. Use /help for the full list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	addSessionFlags(chatCmd)
}

func addSessionFlags(c *cobra.Command) {
	c.Flags().StringVar(&newMessage, "new", "", "Create a new session with this first message")
	c.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for a new session")
	c.Flags().StringVar(&projectID, "project", "", "Project for a new session")
	c.Flags().StringVar(&permissionMode, "permission-mode", "", "Permission mode for a new session")
}

// rig is an attached session: coordinator, engine and live channel.
type rig struct {
	api       *client.Client
	engine    *transcript.Engine
	coord     *history.Coordinator
	session   *chat.Session
	approvals *approvals.Store
	printer   *printer
	shutdown  *lifecycle.Shutdown
}

// newRig wires a chat session for the loaded configuration. Cleanup is
// registered on the returned rig's shutdown manager.
func newRig(c *config.Config, out io.Writer) (*rig, error) {
	api := newClient(c)
	path, err := c.ApprovalsPath()
	if err != nil {
		return nil, err
	}
	store, err := approvals.Open(path, approvals.WithLogger(logging.CLI()))
	if err != nil {
		return nil, err
	}

	r := &rig{
		api:       api,
		approvals: store,
		printer:   newPrinter(out),
		shutdown:  lifecycle.New(),
	}
	r.engine = transcript.New(
		transcript.WithIDGenerator(transcript.UUIDGenerator{}),
		transcript.WithAutoApproval(store, nil),
	)
	r.coord = history.New(history.Options{
		Backend:  api,
		Engine:   r.engine,
		PageSize: c.History.PageSize,
		OnChange: func(_ protocol.Event, ch transcript.Change) { r.printer.change(r.engine, ch) },
		OnReload: func() { r.printer.all(r.engine.Messages()) },
	})

	opts := channelOptions(c, api)
	opts.Endpoint = api.SessionSocketURL
	opts.Handlers = r.coord.Handlers(channel.Handlers{
		OnStatus: printStatus,
		OnSessionClosed: func(reason string) {
			fmt.Fprintf(os.Stderr, "-- session closed by server: %s\n", reason)
		},
		OnForcedLogout: func() {
			fmt.Fprintln(os.Stderr, "-- authentication rejected, check your token")
			go r.shutdown.Shutdown("auth error")
		},
	})
	r.session = chat.New(opts)
	r.coord.SetLive(r.session)
	r.engine.SetResponder(r.session)

	r.shutdown.AddCleanup(func(string) { r.session.Close() })
	r.shutdown.AddCleanup(func(string) {
		if err := store.Close(); err != nil {
			logging.CLI().Debug("closing approvals store", "error", err)
		}
	})
	r.shutdown.Start()
	return r, nil
}

// attach creates a session from the --new flags or attaches to args[0].
func (r *rig) attach(ctx context.Context, args []string) (string, error) {
	if newMessage != "" {
		if len(args) > 0 {
			return "", errors.New("--new cannot be combined with a session id")
		}
		id, err := r.coord.CreateSession(ctx, client.CreateSessionRequest{
			Message:        newMessage,
			WorkingDir:     workingDir,
			ProjectID:      projectID,
			PermissionMode: permissionMode,
		})
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintf(os.Stderr, "-- created session %s\n", id)
		return id, nil
	}
	if len(args) == 0 {
		return "", errors.New("a session id or --new is required")
	}
	if err := r.coord.Attach(ctx, args[0]); err != nil {
		return "", err
	}
	return args[0], nil
}

func runChat(cmd *cobra.Command, args []string) error {
	r, err := newRig(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer r.shutdown.Shutdown("exit")

	ctx := r.shutdown.Context()
	id, err := r.attach(ctx, args)
	if err != nil {
		return err
	}

	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return id + "> " })
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	loop := &repl{
		ctl:       r.session,
		older:     r.coord,
		engine:    r.engine,
		approvals: r.approvals,
		printer:   r.printer,
		out:       os.Stdout,
	}
	fmt.Fprintln(os.Stderr, "-- type a message and press Enter, /help for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
		if err := loop.handleLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "-- %v\n", err)
		}
	}
}
