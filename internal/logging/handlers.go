package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// components is the active component allow list; nil means every component.
var components atomic.Pointer[map[string]struct{}]

func setComponents(names []string) {
	if len(names) == 0 {
		components.Store(nil)
		return
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	components.Store(&set)
}

func componentEnabled(name string) bool {
	set := components.Load()
	if set == nil {
		return true
	}
	_, ok := (*set)[name]
	return ok
}

// tee sends each record to every handler that accepts its level. Console and
// file use it when their levels differ.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t tee) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t tee) each(fn func(slog.Handler) slog.Handler) tee {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}

// componentHandler drops records of components outside the allow list. The
// list is consulted per record, so a later Initialize applies to loggers
// created earlier.
type componentHandler struct {
	slog.Handler
	name string
}

func (h componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return componentEnabled(h.name) && h.Handler.Enabled(ctx, level)
}

func (h componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if !componentEnabled(h.name) {
		return nil
	}
	return h.Handler.Handle(ctx, r)
}

func (h componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return componentHandler{h.Handler.WithAttrs(attrs), h.name}
}

func (h componentHandler) WithGroup(name string) slog.Handler {
	return componentHandler{h.Handler.WithGroup(name), h.name}
}
