// Package testenv holds test helpers shared across packages.
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pagewire/livesync/pkg/logger"
)

// Record is one captured log line.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   string
}

func (r Record) String() string {
	if r.Attrs == "" {
		return fmt.Sprintf("%s: %s", r.Level, r.Message)
	}
	return fmt.Sprintf("%s: %s %s", r.Level, r.Message, r.Attrs)
}

// LogHandler is a slog.Handler that keeps records in memory, without
// timestamps, so tests can assert on what was logged. It is safe for use
// from multiple goroutines.
type LogHandler struct {
	shared *recordLog
	attrs  []slog.Attr
	groups []string
}

type recordLog struct {
	mu          sync.Mutex
	records     []Record
	tb          testing.TB
	ignoreDebug bool
}

type LogHandlerOption func(*recordLog)

// WithTestLog echoes every record to tb.Log with its index.
func WithTestLog(tb testing.TB) LogHandlerOption {
	return func(l *recordLog) { l.tb = tb }
}

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() LogHandlerOption {
	return func(l *recordLog) { l.ignoreDebug = true }
}

func NewLogHandler(opts ...LogHandlerOption) *LogHandler {
	l := &recordLog{}
	for _, opt := range opts {
		opt(l)
	}
	return &LogHandler{shared: l}
}

// NewLogger returns a Logger writing to a new LogHandler, and the handler.
func NewLogger(opts ...LogHandlerOption) (logger.Logger, *LogHandler) {
	h := NewLogHandler(opts...)
	return logger.New(h), h
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !(level == slog.LevelDebug && h.shared.ignoreDebug)
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{Level: r.Level, Message: r.Message, Attrs: h.attrsToString(&r)}

	h.shared.mu.Lock()
	index := len(h.shared.records)
	h.shared.records = append(h.shared.records, rec)
	tb := h.shared.tb
	h.shared.mu.Unlock()

	if tb != nil {
		tb.Logf("[%d] %s", index, rec)
	}
	return nil
}

func (h *LogHandler) attrsToString(r *slog.Record) string {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a, ""))
	}
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix))
		return true
	})
	return strings.Join(parts, ", ")
}

func formatAttr(a slog.Attr, prefix string) string {
	if a.Value.Kind() == slog.KindGroup {
		var parts []string
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, prefix+a.Key+"."))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	for _, a := range attrs {
		next = append(next, slog.Any(prefix+a.Key, a.Value))
	}
	return &LogHandler{shared: h.shared, attrs: next, groups: h.groups}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LogHandler{
		shared: h.shared,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

// Records returns a copy of everything logged so far.
func (h *LogHandler) Records() []Record {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	return append([]Record(nil), h.shared.records...)
}

// Messages returns the messages logged at level.
func (h *LogHandler) Messages(level slog.Level) []string {
	var out []string
	for _, r := range h.Records() {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

// Count returns how many records at level have msg as their message.
func (h *LogHandler) Count(level slog.Level, msg string) int {
	n := 0
	for _, m := range h.Messages(level) {
		if m == msg {
			n++
		}
	}
	return n
}
