package spanz

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Trace buffer protocol violations. They are reported, never returned to
// instrumented code.
var (
	ErrNotRegistered = errors.New("span finished without being registered")
	ErrDuplicateSpan = errors.New("span registered or finished twice")
	ErrTraceEmitted  = errors.New("trace already emitted")
)

// defaultEmittedWindow bounds how many emitted trace IDs are remembered for
// late-arrival detection.
const defaultEmittedWindow = 4096

// pendingTrace tracks one trace until every registered span has finished.
type pendingTrace struct {
	spans    map[uint64]bool // span ID -> finished
	finished Trace
}

func (p *pendingTrace) complete() bool {
	return len(p.finished) == len(p.spans)
}

// TraceBuffer assembles finished spans into traces. A trace is handed to the
// writer once every span registered for it has finished.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability over memory efficiency
type TraceBuffer struct {
	writer  Writer
	errs    *errorLogger
	metrics *Metrics

	mu      sync.Mutex
	traces  map[uint64]*pendingTrace
	emitted *idRing
}

// NewTraceBuffer creates a buffer that emits completed traces to w.
// A nil logger or metrics disables that kind of reporting.
func NewTraceBuffer(w Writer, logger *zap.Logger, metrics *Metrics) *TraceBuffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &TraceBuffer{
		writer:  w,
		errs:    newErrorLogger(logger.Named("buffer")),
		metrics: metrics,
		traces:  make(map[uint64]*pendingTrace),
		emitted: newIDRing(defaultEmittedWindow),
	}
}

// Register records a new span of a trace. It must be called when the span
// is created, before it can finish. Registrations of one trace may arrive in
// any order.
func (b *TraceBuffer) Register(sc *SpanContext) error {
	traceID, spanID := sc.TraceID(), sc.SpanID()

	b.mu.Lock()
	err := b.registerLocked(traceID, spanID)
	pending := len(b.traces)
	b.mu.Unlock()

	b.metrics.PendingTraces.Set(float64(pending))
	if err != nil {
		b.report(err, traceID, spanID)
	}
	return err
}

func (b *TraceBuffer) registerLocked(traceID, spanID uint64) error {
	p, ok := b.traces[traceID]
	if !ok {
		if b.emitted.contains(traceID) {
			return fmt.Errorf("register: %w", ErrTraceEmitted)
		}
		p = &pendingTrace{spans: make(map[uint64]bool, 1)}
		b.traces[traceID] = p
	}
	if _, dup := p.spans[spanID]; dup {
		return fmt.Errorf("register: %w", ErrDuplicateSpan)
	}
	p.spans[spanID] = false
	return nil
}

// maxIDDraws bounds how many IDs registerNew draws looking for an unused one.
const maxIDDraws = 8

// registerNew draws a span ID from next and registers it as a new span,
// returning its context. A child is registered in parent's trace and skips
// IDs already used by that trace. A root span's ID doubles as its trace ID,
// so it skips IDs of traces that are pending or were recently emitted.
func (b *TraceBuffer) registerNew(parent *SpanContext, next func() uint64) *SpanContext {
	b.mu.Lock()
	var traceID, spanID uint64
	if parent == nil {
		spanID = b.drawLocked(next, func(id uint64) bool {
			_, pending := b.traces[id]
			return pending || b.emitted.contains(id)
		})
		traceID = spanID
	} else {
		traceID = parent.TraceID()
		p := b.traces[traceID]
		spanID = b.drawLocked(next, func(id uint64) bool {
			if p == nil {
				return false
			}
			_, used := p.spans[id]
			return used
		})
	}
	err := b.registerLocked(traceID, spanID)
	pending := len(b.traces)
	b.mu.Unlock()

	b.metrics.PendingTraces.Set(float64(pending))
	if err != nil {
		b.report(err, traceID, spanID)
	}
	if parent == nil {
		return NewSpanContext(spanID, spanID)
	}
	return parent.derive(spanID)
}

func (b *TraceBuffer) drawLocked(next func() uint64, inUse func(uint64) bool) uint64 {
	id := next()
	for i := 1; i < maxIDDraws && inUse(id); i++ {
		id = next()
	}
	return id
}

// Finish records a finished span. When it is the last outstanding span of
// its trace, the trace is removed from the buffer and written.
func (b *TraceBuffer) Finish(data *SpanData) error {
	b.mu.Lock()
	trace, err := b.finishLocked(data)
	pending := len(b.traces)
	b.mu.Unlock()

	b.metrics.PendingTraces.Set(float64(pending))
	if err != nil {
		b.report(err, data.TraceID, data.SpanID)
		return err
	}
	if trace != nil {
		b.writer.Write(trace)
	}
	return nil
}

func (b *TraceBuffer) finishLocked(data *SpanData) (Trace, error) {
	p, ok := b.traces[data.TraceID]
	if !ok {
		if b.emitted.contains(data.TraceID) {
			return nil, fmt.Errorf("finish: %w", ErrTraceEmitted)
		}
		return nil, fmt.Errorf("finish: %w", ErrNotRegistered)
	}

	done, registered := p.spans[data.SpanID]
	switch {
	case !registered:
		return nil, fmt.Errorf("finish: %w", ErrNotRegistered)
	case done:
		return nil, fmt.Errorf("finish: %w", ErrDuplicateSpan)
	}
	p.spans[data.SpanID] = true
	p.finished = append(p.finished, data)

	if !p.complete() {
		return nil, nil
	}
	delete(b.traces, data.TraceID)
	b.emitted.add(data.TraceID)
	return p.finished, nil
}

// Pending returns the number of traces with spans still open.
func (b *TraceBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.traces)
}

func (b *TraceBuffer) report(err error, traceID, spanID uint64) {
	kind := "not_registered"
	switch {
	case errors.Is(err, ErrDuplicateSpan):
		kind = "duplicate_span"
	case errors.Is(err, ErrTraceEmitted):
		kind = "trace_emitted"
	}
	b.metrics.ProtocolErrors.WithLabelValues(kind).Inc()
	b.errs.Error("trace buffer protocol violation",
		zap.Error(err),
		zap.Uint64("trace_id", traceID),
		zap.Uint64("span_id", spanID),
	)
}

// idRing remembers the most recent IDs added to it.
// Not safe for concurrent use; guarded by the owning buffer's lock.
type idRing struct {
	buf []uint64 // fully allocated at construction
	cur int      // index for next write
	set map[uint64]struct{}
}

func newIDRing(capacity int) *idRing {
	return &idRing{
		buf: make([]uint64, capacity),
		set: make(map[uint64]struct{}, capacity),
	}
}

func (r *idRing) add(id uint64) {
	if len(r.buf) == 0 {
		return
	}

	// Evict the value at the write cursor once the ring has wrapped.
	if old := r.buf[r.cur]; old != 0 {
		delete(r.set, old)
	}
	r.buf[r.cur] = id
	r.set[id] = struct{}{}

	// Advance the write cursor.
	r.cur++
	if r.cur >= len(r.buf) {
		r.cur = 0
	}
}

func (r *idRing) contains(id uint64) bool {
	_, ok := r.set[id]
	return ok
}
