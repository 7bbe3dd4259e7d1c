// Package logging provides centralized logging configuration for chatcore.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.Mutex
	global *slog.Logger
	// file is the rotating writer opened by the last Initialize.
	file io.WriteCloser
)

// FileLogConfig enables a rotating log file.
type FileLogConfig struct {
	// Path of the log file; empty disables file logging.
	Path string
	// MaxSizeMB rotates the file past this size. Zero means 10.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept. Negative means 3.
	MaxBackups int
	Compress   bool
}

// DefaultFileLogConfig returns the rotation defaults without a path.
func DefaultFileLogConfig() FileLogConfig {
	return FileLogConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// Config holds logging configuration.
type Config struct {
	// Level is the console level: debug, info, warn or error.
	Level string
	// FileLevel is the file level; empty means Level.
	FileLevel string
	FileLog   *FileLogConfig
	JSON      bool
	// Components limits output to the named components; empty logs all.
	Components []string
	// Console defaults to os.Stderr.
	Console io.Writer
}

// Initialize replaces the global logger and the slog default. With a file
// configured, records go to both console and file; each side keeps its own
// level when the two differ.
func Initialize(cfg Config) error {
	setComponents(cfg.Components)

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := parseLevel(cfg.Level)
	fileLevel := consoleLevel
	if cfg.FileLevel != "" {
		fileLevel = parseLevel(cfg.FileLevel)
	}

	format := func(w io.Writer, level slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: level}
		if cfg.JSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()

	var handler slog.Handler
	if w := openFile(cfg.FileLog); w != nil {
		file = w
		if fileLevel == consoleLevel {
			handler = format(io.MultiWriter(console, w), consoleLevel)
		} else {
			handler = tee{format(console, consoleLevel), format(w, fileLevel)}
		}
	} else {
		handler = format(console, consoleLevel)
	}

	global = slog.New(handler)
	slog.SetDefault(global)
	return nil
}

func openFile(cfg *FileLogConfig) io.WriteCloser {
	if cfg == nil || cfg.Path == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	if lj.MaxSize <= 0 {
		lj.MaxSize = 10
	}
	if lj.MaxBackups < 0 {
		lj.MaxBackups = 3
	}
	return lj
}

func closeFileLocked() error {
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Get returns the global logger, or slog.Default before Initialize.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return slog.Default()
	}
	return global
}

// Close closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeFileLocked()
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a level name to slog; unknown names mean info.
func parseLevel(name string) slog.Level {
	if l, ok := levels[name]; ok {
		return l
	}
	return slog.LevelInfo
}

// ValidLevel reports whether level is empty or a known level name.
func ValidLevel(level string) bool {
	_, ok := levels[level]
	return ok || level == ""
}

// WithComponent returns a logger tagged with component. It logs nothing
// while the component is filtered out.
func WithComponent(component string) *slog.Logger {
	h := Get().Handler().WithAttrs([]slog.Attr{slog.String("component", component)})
	return slog.New(componentHandler{h, component})
}

// Transport returns a logger for socket backend events.
func Transport() *slog.Logger {
	return WithComponent("transport")
}

// Channel returns a logger for reconnecting channel events.
func Channel() *slog.Logger {
	return WithComponent("channel")
}

// Transcript returns a logger for event reconstruction.
func Transcript() *slog.Logger {
	return WithComponent("transcript")
}

// History returns a logger for history pagination.
func History() *slog.Logger {
	return WithComponent("history")
}

// Events returns a logger for the CRUD event bus.
func Events() *slog.Logger {
	return WithComponent("events")
}

// CLI returns a logger for command line frontends.
func CLI() *slog.Logger {
	return WithComponent("cli")
}

// WithSession returns a child logger that includes session_id in every record.
func WithSession(base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("session_id", sessionID)
}
