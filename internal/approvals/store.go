// Package approvals persists the set of tools the user chose to always
// allow. The file is watched so edits made by other processes (or by hand)
// take effect without a restart.
package approvals

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/planboard/chatcore/internal/logging"
)

// DebounceDelay is the default delay for batching file system events.
const DebounceDelay = 100 * time.Millisecond

// fileFormat is the on-disk representation.
type fileFormat struct {
	Tools []string `json:"tools"`
}

// Option configures a Store.
type Option func(*Store)

// WithDebounce sets the delay between a file change and the reload.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// OnChange registers a callback invoked with the new tool list after every
// reload triggered by the watcher.
func OnChange(fn func(tools []string)) Option {
	return func(s *Store) { s.onChange = fn }
}

// Store is the remembered-approvals set. It implements
// transcript.Approvals. All methods are safe for concurrent use.
type Store struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func([]string)

	mu    sync.RWMutex
	tools map[string]struct{}

	watcher *fsnotify.Watcher
	timerMu sync.Mutex
	timer   *time.Timer
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Open loads the approvals file at path and starts watching it. A missing
// file is an empty set. An empty path gives an in-memory store.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		debounce: DebounceDelay,
		tools:    make(map[string]struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("approvals")
	}
	if path == "" {
		close(s.stopped)
		return s, nil
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create approvals dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: atomic saves replace the file.
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = w
	go s.eventLoop()
	return s, nil
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// IsApproved reports whether tool is always allowed.
func (s *Store) IsApproved(tool string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[tool]
	return ok
}

// Tools returns the approved tools, sorted.
func (s *Store) Tools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []string {
	out := make([]string, 0, len(s.tools))
	for t := range s.tools {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Add remembers tool and saves the file.
func (s *Store) Add(tool string) error {
	if tool == "" {
		return errors.New("tool name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[tool]; ok {
		return nil
	}
	s.tools[tool] = struct{}{}
	return s.saveLocked()
}

// Remove forgets tool and saves the file.
func (s *Store) Remove(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[tool]; !ok {
		return nil
	}
	delete(s.tools, tool)
	return s.saveLocked()
}

// Reload rereads the file. On a parse error the current set is kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.tools = make(map[string]struct{})
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read approvals: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse approvals %s: %w", s.path, err)
	}
	tools := make(map[string]struct{}, len(f.Tools))
	for _, t := range f.Tools {
		if t != "" {
			tools[t] = struct{}{}
		}
	}
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
	return nil
}

// saveLocked writes the set atomically. Must be called with s.mu held.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(fileFormat{Tools: s.sortedLocked()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create approvals dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".approvals-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		<-s.stopped
		s.timerMu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.timerMu.Unlock()
	})
	return err
}

func (s *Store) eventLoop() {
	defer close(s.stopped)
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.scheduleReload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("approvals watcher error", "error", err)
		}
	}
}

func (s *Store) scheduleReload() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fireReload)
}

func (s *Store) fireReload() {
	select {
	case <-s.done:
		return
	default:
	}
	if err := s.Reload(); err != nil {
		s.logger.Warn("keeping previous approvals", "error", err)
		return
	}
	tools := s.Tools()
	s.logger.Debug("approvals reloaded", "tools", tools)
	if s.onChange != nil {
		s.onChange(tools)
	}
}
