package progress

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// LogHandler is an slog.Handler that forwards every record to next and
// mirrors records carrying a run_id attribute into the log table.
type LogHandler struct {
	next   slog.Handler
	sink   *Tracker
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

// NewLogHandler mirrors records at or above level into tracker.
func NewLogHandler(next slog.Handler, tracker *Tracker, level slog.Level) *LogHandler {
	return &LogHandler{next: next, sink: tracker, level: level}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level < h.level {
		return err
	}

	entry := LogEntry{
		Timestamp: r.Time,
		Level:     LevelFromSlog(r.Level),
		Message:   r.Message,
		Context:   map[string]any{},
	}
	for _, a := range h.attrs {
		h.absorb(&entry, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.absorb(&entry, h.prefix, a)
		return true
	})

	if entry.RunID == "" {
		return err
	}
	if len(entry.Context) == 0 {
		entry.Context = nil
	}
	// The record outlives a cancelled request context.
	if logErr := h.sink.Log(context.WithoutCancel(ctx), entry); logErr != nil {
		fmt.Fprintf(os.Stderr, "progress: failed to persist log entry: %v\n", logErr)
	}
	return err
}

func (h *LogHandler) absorb(e *LogEntry, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.absorb(e, p, ga)
		}
		return
	}

	switch prefix + a.Key {
	case logfields.KeyRunID:
		e.RunID = a.Value.String()
	case logfields.KeyDocumentID:
		if a.Value.Kind() == slog.KindInt64 {
			e.DocumentID = a.Value.Int64()
		}
	case logfields.KeyMemory:
		if a.Value.Kind() == slog.KindUint64 {
			e.MemoryUsage = a.Value.Uint64()
		}
	case logfields.KeyDurationMS:
		if a.Value.Kind() == slog.KindFloat64 {
			e.ExecutionTime = a.Value.Float64()
		}
	default:
		e.Context[prefix+a.Key] = a.Value.Any()
	}
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}
