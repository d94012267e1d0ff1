// Package sessionlog tees warning-level log records out of the default slog
// pipeline into the places the user can see them: the settings page's
// "Recent warnings" list and the persistent diagnostics store.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// Entry is a captured record. Message carries the record's attributes
// rendered as key=value pairs after the log message.
type Entry struct {
	Time    time.Time  `json:"time"`
	Level   slog.Level `json:"-"`
	Message string     `json:"message"`
	Source  string     `json:"source,omitempty"`
}

// Sink receives captured entries. Add must not log through slog at or above
// the capture level; the handler would call it again.
type Sink interface {
	Add(e Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Entry)

// Add implements Sink.
func (f SinkFunc) Add(e Entry) { f(e) }

// TeeHandler forwards every record to base and copies records at or above
// minLevel to the sinks. Visibility is decided by base alone.
type TeeHandler struct {
	base     slog.Handler
	sinks    []Sink
	minLevel slog.Level
	group    string
	attrs    string
}

// NewTeeHandler wraps base. Nil sinks are skipped.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, sinks ...Sink) *TeeHandler {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &TeeHandler{base: base, sinks: kept, minLevel: minLevel}
}

// Enabled defers to base.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards to base, then to the sinks when the level qualifies. The
// sinks run even if base fails; base's error is returned.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)
	if len(h.sinks) == 0 || record.Level < h.minLevel {
		return err
	}

	entry := Entry{
		Time:    record.Time,
		Level:   record.Level,
		Message: h.render(record),
		Source:  h.group,
	}
	for _, s := range h.sinks {
		h.deliver(s, entry)
	}
	return err
}

func (h *TeeHandler) deliver(s Sink, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			// stderr, not slog: logging here would re-enter the handler.
			fmt.Fprintf(os.Stderr, "[sessionlog] sink panicked: %v\n%s\n", r, debug.Stack())
		}
	}()
	s.Add(e)
}

func (h *TeeHandler) render(record slog.Record) string {
	var b strings.Builder
	b.WriteString(record.Message)
	b.WriteString(h.attrs)
	record.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, "", a)
		return true
	})
	return b.String()
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\"=") {
		fmt.Fprintf(b, "%q", v)
	} else {
		b.WriteString(v)
	}
}

// WithAttrs applies attrs to base and remembers them for captured entries.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.group, a)
	}
	next := *h
	next.base = h.base.WithAttrs(attrs)
	next.attrs = b.String()
	return &next
}

// WithGroup nests the group name, dot-separated, into Entry.Source.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.base = h.base.WithGroup(name)
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}
