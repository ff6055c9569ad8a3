// Package logging adds a status-surface memory on top of log/slog: the
// dispatcher reports its last log line and a short history through the HTTP
// API, while normal structured output still flows to the wrapped handler.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const defaultCapacity = 100

// Recorder is a slog.Handler that renders every record to a timestamped
// human-readable line and keeps the most recent ones in a bounded ring.
// Handlers derived via WithAttrs/WithGroup share the same ring.
type Recorder struct {
	inner slog.Handler
	buf   *lineBuffer
}

type lineBuffer struct {
	mu    sync.Mutex
	last  string
	lines []string
	cap   int
}

func NewRecorder(inner slog.Handler) *Recorder {
	return &Recorder{
		inner: inner,
		buf:   &lineBuffer{cap: defaultCapacity},
	}
}

func (r *Recorder) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

func (r *Recorder) Handle(ctx context.Context, rec slog.Record) error {
	r.buf.append(renderLine(rec))
	return r.inner.Handle(ctx, rec)
}

func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Recorder{inner: r.inner.WithAttrs(attrs), buf: r.buf}
}

func (r *Recorder) WithGroup(name string) slog.Handler {
	return &Recorder{inner: r.inner.WithGroup(name), buf: r.buf}
}

// Last returns the most recent rendered line, or "" before the first record.
func (r *Recorder) Last() string {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	return r.buf.last
}

// History returns the retained lines, oldest first.
func (r *Recorder) History() []string {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	out := make([]string, len(r.buf.lines))
	copy(out, r.buf.lines)
	return out
}

func (b *lineBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = line
	b.lines = append(b.lines, line)
	if len(b.lines) > b.cap {
		b.lines = b.lines[len(b.lines)-b.cap:]
	}
}

func renderLine(rec slog.Record) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(rec.Time.Format("15:04:05"))
	sb.WriteString("] ")
	sb.WriteString(rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	return sb.String()
}
