package spanz

import (
	"context"
	"sync"
)

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType string

const (
	spanKey spanKeyType = "spanz"
)

// SpanContext is the propagated identity of a span: its trace ID, its own
// span ID and the baggage items carried across the trace.
// Safe for concurrent use by multiple goroutines.
//
// Baggage has its own lock. Reading or writing baggage never contends with
// tag writes on the owning span.
type SpanContext struct {
	traceID uint64
	spanID  uint64

	mu      sync.RWMutex
	keys    []string // insertion order
	baggage map[string]string
}

// NewSpanContext creates a context with no baggage.
func NewSpanContext(traceID, spanID uint64) *SpanContext {
	return &SpanContext{traceID: traceID, spanID: spanID}
}

// TraceID returns the ID shared by every span of the trace.
func (c *SpanContext) TraceID() uint64 { return c.traceID }

// SpanID returns the ID of the span this context belongs to.
func (c *SpanContext) SpanID() uint64 { return c.spanID }

// derive returns a context for a child span: same trace, a copy of the
// baggage, and the given span ID.
func (c *SpanContext) derive(spanID uint64) *SpanContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	child := &SpanContext{traceID: c.traceID, spanID: spanID}
	if len(c.keys) > 0 {
		child.keys = make([]string, len(c.keys))
		copy(child.keys, c.keys)
		child.baggage = make(map[string]string, len(c.baggage))
		for k, v := range c.baggage {
			child.baggage[k] = v
		}
	}
	return child
}

// SetBaggageItem sets a baggage item, replacing any previous value while
// keeping its original position.
func (c *SpanContext) SetBaggageItem(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.baggage == nil {
		c.baggage = make(map[string]string)
	}
	if _, ok := c.baggage[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.baggage[key] = value
}

// BaggageItem returns the baggage item for key.
func (c *SpanContext) BaggageItem(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.baggage[key]
	return v, ok
}

// ForeachBaggageItem calls fn for each baggage item in insertion order,
// stopping early if fn returns false.
func (c *SpanContext) ForeachBaggageItem(fn func(key, value string) bool) {
	c.mu.RLock()
	keys := make([]string, len(c.keys))
	copy(keys, c.keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = c.baggage[k]
	}
	c.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], values[i]) {
			return
		}
	}
}

// ContextWithSpan returns a new context carrying span.
func ContextWithSpan(parent context.Context, span *Span) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, spanKey, span)
}

// SpanFromContext extracts the current span from a context.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}

	span, _ := ctx.Value(spanKey).(*Span)
	return span
}
