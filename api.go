// Package spanz is a tracing client that assembles spans into complete
// traces and ships them to a local trace agent.
//
// Spans are cheap to start and finish. When every span of a trace has
// finished, the trace is handed to a Writer, which batches traces in a
// bounded queue and delivers them in the background as MessagePack over HTTP.
// Nothing in the delivery path ever blocks or fails the instrumented code.
//
// Core Components:
//   - Tracer: Creates spans and owns the delivery pipeline.
//   - Span: A single timed unit of work.
//   - SpanContext: Trace identity and baggage, propagated to children.
//   - TraceBuffer: Detects when all spans of a trace have finished.
//   - AgentWriter: Queues, encodes and delivers finished traces.
//   - Collector: An in-memory Writer for tests and custom export.
//
// Basic Usage:
//
//	tracer, err := spanz.New(spanz.Options{Service: "billing"})
//	if err != nil {
//		return err
//	}
//	defer tracer.Close()
//
//	ctx, span := tracer.StartSpan(ctx, "http.request")
//	defer span.Finish()
//
//	span.SetTag(spanz.ResourceNameTag, "GET /invoices")
//	span.SetTag("http.status_code", 200)
//
//	// Children inherit the trace ID and baggage.
//	_, child := tracer.StartSpan(ctx, "db.query")
//	defer child.Finish()
//
// Thread Safety:
//
// Tracer, Span and SpanContext are safe for concurrent use. Finish may be
// called any number of times from any goroutine; only the first call counts.
//
// Backpressure:
//
// The writer queue is bounded. When the agent is slow or unreachable new
// traces are dropped instead of growing memory or blocking callers. Use
// AgentWriter.DroppedCount or the Metrics counters to monitor drops.
package spanz

// Key represents a span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// Reserved tag keys. Setting one of these routes the value to the
// corresponding first-class span field instead of the meta map.
const (
	SpanTypeTag     Tag = "span.type"
	ResourceNameTag Tag = "resource.name"
	ServiceNameTag  Tag = "service.name"
)

// ErrorTag marks a span as errored when set to true or to a non-nil error.
// The value is also kept in the meta map.
const ErrorTag Tag = "error"

// Version is reported to the agent with every batch.
const Version = "0.4.0"
