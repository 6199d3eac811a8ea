// Package logger provides per-component slog loggers with levels that can
// be overridden from configuration.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu              sync.RWMutex
	defaultLevel    = slog.LevelInfo
	componentLevels = map[string]slog.Level{}
	base            slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})

	cache sync.Map
)

// Configure installs the output format, the default level and any
// per-component level overrides. Loggers handed out before Configure keep
// working; their effective level is re-read on every record.
func Configure(format, level string, components map[string]string) {
	mu.Lock()
	defaultLevel = parseLevel(level)
	componentLevels = make(map[string]slog.Level, len(components))
	for name, lvl := range components {
		componentLevels[name] = parseLevel(lvl)
	}
	if strings.EqualFold(format, "json") {
		base = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		base = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	mu.Unlock()
	// Cached loggers stay valid: their handlers re-read the base handler
	// and effective level on every record.
}

// Component returns the logger for a named component. Records carry a
// "component" attribute and are filtered by the component's level.
func Component(name string) *slog.Logger {
	if l, ok := cache.Load(name); ok {
		return l.(*slog.Logger)
	}
	l := slog.New(&componentHandler{component: name})
	actual, _ := cache.LoadOrStore(name, l)
	return actual.(*slog.Logger)
}

type componentHandler struct {
	component string
	attrs     []slog.Attr
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	if lvl, ok := componentLevels[h.component]; ok {
		return level >= lvl
	}
	return level >= defaultLevel
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("component", h.component))
	r.AddAttrs(h.attrs...)
	mu.RLock()
	out := base
	mu.RUnlock()
	return out.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentHandler{
		component: h.component,
		attrs:     append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{
		component: h.component + "." + name,
		attrs:     h.attrs,
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
