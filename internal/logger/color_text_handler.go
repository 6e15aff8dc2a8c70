package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// ComponentKey is the attribute the host tags each subsystem logger with.
// The console handler renders it as a "[name]" prefix.
const ComponentKey = "component"

// ColorTextHandler wraps slog.TextHandler and prints a colored level
// prefix ahead of each line. Derived handlers keep the coloring.
type ColorTextHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	text      slog.Handler
	component string
	grouped   bool
}

// NewColorTextHandler creates a new ColorTextHandler. With showTime false the
// time attribute is dropped, for consoles that stamp lines themselves.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	next := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			// level is already in the prefix
			if a.Key == slog.LevelKey || (!showTime && a.Key == slog.TimeKey) {
				return slog.Attr{}
			}
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	return &ColorTextHandler{w: w, mu: &sync.Mutex{}, text: slog.NewTextHandler(w, &o)}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.text.Enabled(ctx, l)
}

// WithAttrs lifts a top-level component attribute into the prefix and
// passes the rest through.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	rest := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if !h.grouped && a.Key == ComponentKey {
			c.component = a.Value.String()
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) > 0 {
		c.text = h.text.WithAttrs(rest)
	}
	return &c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.text = h.text.WithGroup(name)
	c.grouped = true
	return &c
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // Cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // Green
	case slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case slog.LevelError:
		colorCode = "\033[31m" // Red
	default:
		colorCode = "\033[0m" // Reset/default
	}

	prefix := colorCode + r.Level.String() + "\033[0m "
	if h.component != "" {
		prefix += "[" + h.component + "] "
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, prefix); err != nil {
		return err
	}
	return h.text.Handle(ctx, r)
}
