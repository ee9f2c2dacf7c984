package spanz

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// SpanData is the finished, serializable record of a span.
// Once a span finishes its SpanData belongs to the delivery pipeline and is
// never modified again.
//
//nolint:govet // Field order follows the wire format.
type SpanData struct {
	Name     string
	Service  string
	Resource string
	Type     string
	Start    int64 // nanoseconds since the Unix epoch
	Duration int64 // nanoseconds
	Meta     map[string]string
	SpanID   uint64
	TraceID  uint64
	ParentID uint64 // zero for root spans
	Error    int32
}

// Trace is the set of finished spans sharing a trace ID, in finish order.
type Trace []*SpanData

// spanSink receives finished span records.
type spanSink interface {
	Finish(data *SpanData) error
}

// FinishOptions modify how a span is finished.
type FinishOptions struct {
	// FinishTime overrides the finish timestamp. Zero means now.
	FinishTime time.Time
}

// Span is a single timed unit of work.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability over memory efficiency
type Span struct {
	tracer    *Tracer
	sink      spanSink
	clock     clockz.Clock
	context   *SpanContext
	startTime time.Time

	// Immutable after construction, readable without locking.
	traceID  uint64
	spanID   uint64
	parentID uint64

	finished atomic.Bool
	mu       sync.Mutex // Protects data until finish.
	data     *SpanData
}

func newSpan(tracer *Tracer, sink spanSink, clock clockz.Clock, sc *SpanContext, parentID uint64, start time.Time, data *SpanData) *Span {
	data.TraceID = sc.TraceID()
	data.SpanID = sc.SpanID()
	data.ParentID = parentID
	data.Start = start.UnixNano()
	if data.Meta == nil {
		data.Meta = make(map[string]string)
	}

	s := &Span{
		tracer:    tracer,
		sink:      sink,
		clock:     clock,
		context:   sc,
		startTime: start,
		traceID:   sc.TraceID(),
		spanID:    sc.SpanID(),
		parentID:  parentID,
		data:      data,
	}
	// An open span that becomes unreachable is finished by the collector,
	// otherwise its trace could never complete.
	runtime.SetFinalizer(s, (*Span).Finish)
	return s
}

// TraceID returns the trace ID of this span.
func (s *Span) TraceID() uint64 { return s.traceID }

// SpanID returns the span ID of this span.
func (s *Span) SpanID() uint64 { return s.spanID }

// ParentID returns the span ID of the parent, or zero for a root span.
func (s *Span) ParentID() uint64 { return s.parentID }

// Context returns the span's propagated context.
func (s *Span) Context() *SpanContext { return s.context }

// Tracer returns the tracer that created the span.
func (s *Span) Tracer() *Tracer { return s.tracer }

// IsFinished reports whether Finish has been called.
func (s *Span) IsFinished() bool { return s.finished.Load() }

// SetTag adds a tag to the span. The value is rendered to a string first:
// scalars as plain text, lists and maps as JSON. The reserved keys
// SpanTypeTag, ResourceNameTag and ServiceNameTag set the span's type,
// resource and service instead of a meta entry. Every other key is stored
// in the meta map, replacing any previous value.
// No-op if span is already finished.
func (s *Span) SetTag(key Tag, value any) {
	rendered := ValueOf(value).String()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Don't modify finished spans.
	if s.finished.Load() {
		return
	}

	switch key {
	case SpanTypeTag:
		s.data.Type = rendered
	case ResourceNameTag:
		s.data.Resource = rendered
	case ServiceNameTag:
		s.data.Service = rendered
	default:
		if key == ErrorTag {
			s.data.Error = errorFlag(value)
		}
		s.data.Meta[key] = rendered
	}
}

// errorFlag decides whether an error tag value marks the span as errored.
func errorFlag(value any) int32 {
	if isNilPointer(value) {
		return 0
	}
	switch v := value.(type) {
	case nil:
		return 0
	case bool:
		if v {
			return 1
		}
		return 0
	case error:
		return 1
	case string:
		if v == "" || v == "false" {
			return 0
		}
		return 1
	}
	return 1
}

// GetTag returns the stored string for a meta tag.
func (s *Span) GetTag(key Tag) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data.Meta[key]
	return v, ok
}

// SetOperationName changes the span name.
// No-op if span is already finished.
func (s *Span) SetOperationName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished.Load() {
		return
	}
	s.data.Name = name
}

// SetBaggageItem sets a baggage item that propagates to spans started from
// this one afterwards.
func (s *Span) SetBaggageItem(key, value string) {
	s.context.SetBaggageItem(key, value)
}

// BaggageItem returns a baggage item, or the empty string if not set.
func (s *Span) BaggageItem(key string) string {
	v, _ := s.context.BaggageItem(key)
	return v
}

// LogFields is accepted for API compatibility. Span logs are not shipped.
func (*Span) LogFields(_ map[string]any) {}

// Finish completes the span and hands its record to the trace buffer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Span) Finish() {
	s.FinishWithOptions(FinishOptions{})
}

// FinishWithOptions is Finish with an optional explicit finish time.
func (s *Span) FinishWithOptions(opts FinishOptions) {
	// Prevent double-finishing.
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(s, nil)

	end := opts.FinishTime
	if end.IsZero() {
		end = s.clock.Now()
	}

	s.mu.Lock()
	s.data.Duration = int64(end.Sub(s.startTime))
	data := s.data
	s.mu.Unlock()

	// Protocol errors are reported by the sink itself.
	_ = s.sink.Finish(data)
}
