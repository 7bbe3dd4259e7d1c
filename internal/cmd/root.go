// Package cmd provides the chatcore CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planboard/chatcore/internal/appdir"
	"github.com/planboard/chatcore/internal/channel"
	"github.com/planboard/chatcore/internal/client"
	"github.com/planboard/chatcore/internal/config"
	"github.com/planboard/chatcore/internal/logging"
	"github.com/planboard/chatcore/internal/secrets"
	"github.com/planboard/chatcore/internal/transport"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
	// configResult records where cfg came from
	configResult *config.LoadResult
)

// skipConfigAnnotation marks commands that run without loading a
// configuration file.
const skipConfigAnnotation = "chatcore/skip-config"

var rootCmd = &cobra.Command{
	Use:   "chatcore",
	Short: "chatcore - terminal client for agent chat sessions",
	Long: `chatcore attaches to agent chat sessions on a planboard server.

It loads the recent history of a session, streams the agent's output live,
answers permission and input requests, and tails the server's CRUD event
stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if cmd.Annotations[skipConfigAnnotation] != "" {
			cfg = config.Default()
			configResult = &config.LoadResult{Config: cfg, Source: config.SourceDefaults}
		} else {
			res, err := config.LoadFrom(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			configResult = res
			cfg = res.Config
		}

		// Priority: --log-level flag > --debug flag > config
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		} else if debug {
			level = "debug"
		}
		if !logging.ValidLevel(level) {
			return fmt.Errorf("invalid log level %q", level)
		}
		file := cfg.Log.File
		if logFile != "" {
			file = logFile
		}
		logCfg := logging.Config{
			Level:      level,
			JSON:       cfg.Log.JSON,
			Components: splitList(logComponents),
		}
		if file != "" {
			fl := logging.DefaultFileLogConfig()
			fl.Path = file
			logCfg.FileLog = &fl
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		logging.CLI().Debug("configuration loaded",
			"source", configResult.Source.String(),
			"path", configResult.Path)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides "+config.PathEnv+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "log-file", "l", "", "Log file path (logs are also written to the console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g. 'channel,history'). Empty means all.")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveToken picks the API token: config, then environment, then the
// platform secret store.
func resolveToken(c *config.Config) string {
	if c.Server.Token != "" {
		return c.Server.Token
	}
	if tok := os.Getenv(config.TokenEnv); tok != "" {
		return tok
	}
	tok, err := secrets.GetAPIToken(c.Server.BaseURL)
	if err != nil {
		if !errors.Is(err, secrets.ErrNotFound) && !errors.Is(err, secrets.ErrNotSupported) {
			logging.CLI().Debug("secret store lookup failed", "error", err)
		}
		return ""
	}
	return tok
}

// newClient builds the REST client from the loaded configuration.
func newClient(c *config.Config) *client.Client {
	opts := []client.Option{client.WithAPIPrefix(c.Server.APIPrefix)}
	if tok := resolveToken(c); tok != "" {
		opts = append(opts, client.WithToken(tok))
	}
	return client.New(c.Server.BaseURL, opts...)
}

// newDialer resolves the transport backend for the configured mode. The
// bridged backend is served by the in-process loopback bridge.
func newDialer(c *config.Config) transport.Dialer {
	direct := transport.NewDirectDialer(logging.Transport())
	bridged := transport.NewBridgeDialer(transport.NewLoopbackBridge(nil, logging.Transport()), logging.Transport())
	return transport.ForMode(c.Transport.Mode, direct, bridged)
}

func backoff(c *config.Config) channel.Backoff {
	return channel.Backoff{
		Min:         c.Reconnect.MinDelay,
		Max:         c.Reconnect.MaxDelay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// channelOptions fills the transport and auth parts of a channel
// configuration shared by the chat and event bus commands.
func channelOptions(c *config.Config, api *client.Client) channel.Options {
	return channel.Options{
		Header:      api.Header(),
		Tickets:     api,
		Dialer:      newDialer(c),
		Backoff:     backoff(c),
		RequireAuth: resolveToken(c) != "",
	}
}

// printStatus writes connection status changes to stderr.
func printStatus(s channel.Status) {
	fmt.Fprintf(os.Stderr, "-- %s\n", s)
}

// commandContext returns the command context or a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
