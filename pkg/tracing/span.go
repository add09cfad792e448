// Package tracing records in-process span trees carried through contexts.
// A finished root span logs its whole tree as one structured slog record when
// the trace was sampled, ran slower than the slow threshold, or failed.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// Options configures which traces get logged.
type Options struct {
	Enabled       bool
	SampleRate    float64
	SlowThreshold time.Duration
}

var options atomic.Pointer[Options]

func init() {
	options.Store(&Options{Enabled: true, SampleRate: 1})
}

// Configure replaces the tracing options. SampleRate is clamped to [0, 1].
func Configure(o Options) {
	o.SampleRate = min(max(o.SampleRate, 0), 1)
	options.Store(&o)
}

// Span is one timed operation. Children share the root's trace ID and
// sampling decision.
type Span struct {
	name    string
	traceID string
	root    bool
	sampled bool
	start   time.Time

	mu       sync.Mutex
	end      time.Time
	attrs    []slog.Attr
	children []*Span
	err      error
}

// StartSpan opens a root span. An empty traceID gets a fresh UUID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	o := options.Load()
	span := &Span{
		name:    name,
		traceID: traceID,
		root:    true,
		sampled: o.Enabled && rand.Float64() < o.SampleRate,
		start:   time.Now(),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan opens a span under the one in ctx. Without a parent the span
// is detached and never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		child.traceID = parent.traceID
		child.sampled = parent.sampled
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) Name() string { return s.name }
func (s *Span) TraceID() string { return s.traceID }
func (s *Span) Sampled() bool { return s.sampled }

// SetAttr attaches a key/value to the span. Later values for a key win in
// the log output.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// SetError marks the span failed. A failed span forces its trace to be
// logged.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// End stamps the end time. Only the first call counts.
func (s *Span) End() {
	s.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.mu.Unlock()
}

// Duration is the span's length, or the time so far if it has not ended.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

// Children returns a snapshot of the span's direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Finish ends the span. On a root span it also logs the tree when it is
// sampled, slow or failed.
func (s *Span) Finish() {
	s.End()
	if !s.root {
		return
	}
	o := options.Load()
	if !o.Enabled {
		return
	}
	failed := s.failed()
	slow := o.SlowThreshold > 0 && s.Duration() >= o.SlowThreshold
	if !s.sampled && !slow && !failed {
		return
	}
	level := slog.LevelInfo
	if slow || failed {
		level = slog.LevelWarn
	}
	slog.LogAttrs(context.Background(), level, "trace",
		slog.String("trace_id", s.traceID),
		slog.Bool("slow", slow),
		slog.Any("span", s.tree()),
	)
}

func (s *Span) failed() bool {
	s.mu.Lock()
	failed := s.err != nil
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	for _, c := range children {
		if c.failed() {
			return true
		}
	}
	return failed
}

// tree renders the span and its descendants as nested groups. Repeated child
// names get a numeric suffix.
func (s *Span) tree() slog.Value {
	s.mu.Lock()
	attrs := []slog.Attr{
		slog.String("name", s.name),
		slog.Float64("duration_ms", float64(s.durationLocked())/float64(time.Millisecond)),
	}
	attrs = append(attrs, s.attrs...)
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	seen := make(map[string]int, len(children))
	for _, c := range children {
		key := c.name
		if n := seen[c.name]; n > 0 {
			key += "#" + strconv.Itoa(n+1)
		}
		seen[c.name]++
		attrs = append(attrs, slog.Attr{Key: key, Value: c.tree()})
	}
	return slog.GroupValue(attrs...)
}

func (s *Span) durationLocked() time.Duration {
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}
