package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogRecord is one captured log line. Attribute values are kept in their
// slog string form so assertions can compare codes and ids directly.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// Attr returns the value of key and whether the record carries it.
func (r LogRecord) Attr(key string) (string, bool) {
	v, ok := r.Attrs[key]
	return v, ok
}

type recordBuffer struct {
	mu      sync.Mutex
	records []LogRecord
}

// BufferedSlogHandler captures every record at every level. Handlers
// derived with WithAttrs or WithGroup share the parent's buffer.
type BufferedSlogHandler struct {
	buf    *recordBuffer
	attrs  []slog.Attr
	prefix string
	t      testing.TB
}

// NewBufferedSlogHandler returns an empty handler that echoes records to
// the test log.
func NewBufferedSlogHandler(t testing.TB) *BufferedSlogHandler {
	return &BufferedSlogHandler{buf: &recordBuffer{}, t: t}
}

// NewTestLogger returns a logger writing into a fresh handler.
func NewTestLogger(t testing.TB) (*slog.Logger, *BufferedSlogHandler) {
	h := NewBufferedSlogHandler(t)
	return slog.New(h), h
}

func (h *BufferedSlogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *BufferedSlogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		flatten(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})

	h.buf.mu.Lock()
	h.buf.records = append(h.buf.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	h.buf.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

func (h *BufferedSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *BufferedSlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		group := prefix
		if a.Key != "" {
			group = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			flatten(dst, group, ga)
		}
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}

// Records returns a copy of everything captured so far.
func (h *BufferedSlogHandler) Records() []LogRecord {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	out := make([]LogRecord, len(h.buf.records))
	copy(out, h.buf.records)
	return out
}

// RecordsAt returns the records logged at level.
func (h *BufferedSlogHandler) RecordsAt(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the first record at level whose message contains msg.
func (h *BufferedSlogHandler) Find(level slog.Level, msg string) (LogRecord, bool) {
	for _, r := range h.RecordsAt(level) {
		if strings.Contains(r.Message, msg) {
			return r, true
		}
	}
	return LogRecord{}, false
}

// Reset drops the captured records, including those of derived handlers.
func (h *BufferedSlogHandler) Reset() {
	h.buf.mu.Lock()
	h.buf.records = nil
	h.buf.mu.Unlock()
}

// AssertLogged fails t unless a record at level contains msg and carries
// every key/value pair in attrs. It returns the matching record.
func AssertLogged(t testing.TB, h *BufferedSlogHandler, level slog.Level, msg string, attrs ...string) LogRecord {
	t.Helper()
	if len(attrs)%2 != 0 {
		t.Fatalf("AssertLogged: odd attrs %v", attrs)
	}
	candidates := h.RecordsAt(level)
next:
	for _, r := range candidates {
		if !strings.Contains(r.Message, msg) {
			continue
		}
		for i := 0; i < len(attrs); i += 2 {
			if v, ok := r.Attrs[attrs[i]]; !ok || v != attrs[i+1] {
				continue next
			}
		}
		return r
	}
	t.Errorf("no %s record %q with %v", level, msg, attrs)
	for _, r := range candidates {
		t.Logf("  %s %v", r.Message, r.Attrs)
	}
	return LogRecord{}
}

// AssertNotLogged fails t if any record at or above level contains msg.
func AssertNotLogged(t testing.TB, h *BufferedSlogHandler, level slog.Level, msg string) {
	t.Helper()
	for _, r := range h.Records() {
		if r.Level >= level && strings.Contains(r.Message, msg) {
			t.Errorf("unexpected %s record %q %v", r.Level, r.Message, r.Attrs)
		}
	}
}

// AssertNoErrors fails t if anything was logged at error level.
func AssertNoErrors(t testing.TB, h *BufferedSlogHandler) {
	t.Helper()
	for _, r := range h.RecordsAt(slog.LevelError) {
		t.Errorf("unexpected error record %q %v", r.Message, r.Attrs)
	}
}
