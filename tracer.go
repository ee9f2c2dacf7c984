package spanz

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Tracer creates spans and owns the pipeline that delivers their traces.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	opts      Options
	writer    Writer
	buffer    *TraceBuffer
	clock     clockz.Clock
	ids       *IDPool
	logger    *zap.Logger
	metrics   *Metrics
	closeOnce sync.Once
}

// New creates a tracer that ships traces to the agent described by opts.
// Zero fields take the defaults from DefaultOptions, except SampleRate,
// where zero is a valid rate and is kept. Start from DefaultOptions to get
// a rate of 1.
func New(opts Options) (*Tracer, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = newLogger(opts.LogLevel)
	}
	metrics := NewMetrics(opts.Registerer)

	w := NewAgentWriter(WriterConfig{
		Transport:       opts.Transport,
		AgentHost:       opts.AgentHost,
		AgentPort:       opts.AgentPort,
		Timeout:         opts.Timeout,
		WritePeriod:     opts.WritePeriod,
		MaxQueuedTraces: opts.MaxQueuedTraces,
		Schedule:        Schedule(opts.RetryPeriods),
		Clock:           opts.Clock,
		Logger:          logger,
		Metrics:         metrics,
	})
	return newTracer(opts, w, logger, metrics), nil
}

// NewWithWriter creates a tracer that hands completed traces to w instead
// of the agent. Agent connection fields in opts are ignored.
func NewWithWriter(opts Options, w Writer) (*Tracer, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = newLogger(opts.LogLevel)
	}
	return newTracer(opts, w, logger, NewMetrics(opts.Registerer)), nil
}

func newTracer(opts Options, w Writer, logger *zap.Logger, metrics *Metrics) *Tracer {
	return &Tracer{
		opts:    opts,
		writer:  w,
		buffer:  NewTraceBuffer(w, logger, metrics),
		clock:   opts.Clock,
		ids:     NewIDPool(runtime.NumCPU()*100, randomID),
		logger:  logger,
		metrics: metrics,
	}
}

// StartSpanOption configures a span at start.
type StartSpanOption func(*startSpanConfig)

type startSpanConfig struct {
	parent       *SpanContext
	startTime    time.Time
	resource     string
	spanType     string
	service      string
	nameOverride string
	tags         map[string]any
}

// ChildOf makes the new span a child of parent, overriding any span found
// in the context.
func ChildOf(parent *SpanContext) StartSpanOption {
	return func(c *startSpanConfig) { c.parent = parent }
}

// WithStartTime sets an explicit start time.
func WithStartTime(t time.Time) StartSpanOption {
	return func(c *startSpanConfig) { c.startTime = t }
}

// WithResource sets the resource. It defaults to the operation name.
func WithResource(resource string) StartSpanOption {
	return func(c *startSpanConfig) { c.resource = resource }
}

// WithSpanType sets the span type. It defaults to Options.Type.
func WithSpanType(spanType string) StartSpanOption {
	return func(c *startSpanConfig) { c.spanType = spanType }
}

// WithServiceName sets the service. It defaults to Options.Service.
func WithServiceName(service string) StartSpanOption {
	return func(c *startSpanConfig) { c.service = service }
}

// WithOperationNameOverride replaces the span name with name. The operation
// passed to StartSpan is kept as the resource.
func WithOperationNameOverride(name string) StartSpanOption {
	return func(c *startSpanConfig) { c.nameOverride = name }
}

// WithTags sets tags at start, as if by SetTag.
func WithTags(tags map[string]any) StartSpanOption {
	return func(c *startSpanConfig) { c.tags = tags }
}

// StartSpan creates a new span and returns a context carrying it.
// If the context contains an existing span, the new span will be its child.
func (t *Tracer) StartSpan(ctx context.Context, operation Key, opts ...StartSpanOption) (context.Context, *Span) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg startSpanConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	parent := cfg.parent
	if parent == nil {
		if ps := SpanFromContext(ctx); ps != nil {
			parent = ps.Context()
		}
	}

	// Registration happens before the span is visible to the caller, so it
	// can never finish first. A root span's ID doubles as the trace ID.
	sc := t.buffer.registerNew(parent, t.ids.Get)
	var parentID uint64
	if parent != nil {
		parentID = parent.SpanID()
	}

	start := cfg.startTime
	if start.IsZero() {
		start = t.clock.Now()
	}

	data := &SpanData{
		Name:     operation,
		Resource: operation,
		Service:  t.opts.Service,
		Type:     t.opts.Type,
	}
	if cfg.nameOverride != "" {
		data.Name = cfg.nameOverride
	}
	if cfg.resource != "" {
		data.Resource = cfg.resource
	}
	if cfg.spanType != "" {
		data.Type = cfg.spanType
	}
	if cfg.service != "" {
		data.Service = cfg.service
	}

	span := newSpan(t, t.buffer, t.clock, sc, parentID, start, data)
	for k, v := range cfg.tags {
		span.SetTag(k, v)
	}

	return ContextWithSpan(ctx, span), span
}

// Flush sends all completed traces now and waits for the attempt.
func (t *Tracer) Flush() {
	t.writer.Flush()
}

// Service returns the default service name.
func (t *Tracer) Service() string { return t.opts.Service }

// SampleRate returns the configured sample rate.
func (t *Tracer) SampleRate() float64 { return t.opts.SampleRate }

// Metrics returns the pipeline metrics.
func (t *Tracer) Metrics() *Metrics { return t.metrics }

// Buffer returns the trace buffer.
func (t *Tracer) Buffer() *TraceBuffer { return t.buffer }

// Close stops the writer and releases background resources. Traces not yet
// sent are discarded; call Flush first to send them.
// Safe to call multiple times.
func (t *Tracer) Close() {
	t.closeOnce.Do(func() {
		t.writer.Stop()
		t.ids.Close()
		_ = t.logger.Sync()
	})
}
