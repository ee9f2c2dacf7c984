package spanz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Writer receives completed traces.
type Writer interface {
	// Write queues a completed trace. It must not block.
	Write(trace Trace)
	// Flush sends everything queued so far and waits for the attempt to
	// finish.
	Flush()
	// Stop shuts the writer down. Traces still queued are discarded.
	Stop()
}

// WriterConfig configures an AgentWriter. Zero values take the defaults.
//
//nolint:govet // Field order optimized for readability over memory efficiency
type WriterConfig struct {
	// Transport performs requests. Defaults to an HTTPTransport.
	Transport Transport
	// Encoder produces request bodies. Defaults to an AgentEncoder.
	Encoder Encoder

	AgentHost       string
	AgentPort       uint32
	Timeout         time.Duration
	WritePeriod     time.Duration
	MaxQueuedTraces int
	// Schedule is the wait before each retry. An empty, non-nil schedule
	// disables retries.
	Schedule Schedule

	Clock   clockz.Clock
	Logger  *zap.Logger
	Metrics *Metrics
}

// AgentWriter queues completed traces and ships them to the agent from a
// single background goroutine.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability over memory efficiency
type AgentWriter struct {
	transport Transport
	encoder   Encoder
	clock     clockz.Clock
	logger    *zap.Logger
	errs      *errorLogger
	metrics   *Metrics
	period    time.Duration
	maxQueued int
	schedule  Schedule

	mu       sync.Mutex
	queue    []Trace
	waiters  []chan struct{} // flush callers waiting on the next cycle
	stopping bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopCtx  context.Context // cancelled by Stop; ends retry waits
	cancel   context.CancelFunc
	stopOnce sync.Once
	dropped  atomic.Int64
}

// NewAgentWriter configures the transport and starts the send loop.
func NewAgentWriter(cfg WriterConfig) *AgentWriter {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(cfg.Logger)
	}
	if cfg.Encoder == nil {
		cfg.Encoder = NewAgentEncoder(Version)
	}
	if cfg.AgentHost == "" {
		cfg.AgentHost = DefaultAgentHost
	}
	if cfg.AgentPort == 0 {
		cfg.AgentPort = DefaultAgentPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WritePeriod <= 0 {
		cfg.WritePeriod = DefaultWritePeriod
	}
	if cfg.MaxQueuedTraces <= 0 {
		cfg.MaxQueuedTraces = DefaultMaxQueuedTraces
	}
	if cfg.Schedule == nil {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	logger := cfg.Logger.Named("writer")
	stopCtx, cancel := context.WithCancel(context.Background())
	w := &AgentWriter{
		transport: cfg.Transport,
		encoder:   cfg.Encoder,
		clock:     cfg.Clock,
		logger:    logger,
		errs:      newErrorLogger(logger),
		metrics:   cfg.Metrics,
		period:    cfg.WritePeriod,
		maxQueued: cfg.MaxQueuedTraces,
		schedule:  cfg.Schedule,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		stopCtx:   stopCtx,
		cancel:    cancel,
	}

	url := "http://" + net.JoinHostPort(cfg.AgentHost, strconv.FormatUint(uint64(cfg.AgentPort), 10)) + w.encoder.Path()
	w.transport.SetURL(url)
	w.transport.SetTimeout(cfg.Timeout)

	go w.run()
	return w
}

// Write implements Writer. When the queue is full the new trace is dropped:
// an unreachable agent must never grow memory or block the application.
func (w *AgentWriter) Write(trace Trace) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	if len(w.queue) >= w.maxQueued {
		w.mu.Unlock()
		w.dropped.Add(1)
		w.metrics.DroppedTraces.Inc()
		return
	}
	w.queue = append(w.queue, trace)
	w.mu.Unlock()

	w.metrics.QueuedTraces.Inc()
}

// Flush implements Writer. It triggers a send cycle now and blocks until
// that cycle is done or the writer stops.
func (w *AgentWriter) Flush() {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	done := make(chan struct{})
	w.waiters = append(w.waiters, done)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
		// A wake-up is already pending.
	}

	select {
	case <-done:
	case <-w.stop:
	}
}

// Stop implements Writer. Safe to call multiple times; every call waits
// for the send loop to exit. A send attempt in progress runs to completion
// or to its transport timeout.
func (w *AgentWriter) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopping = true
		discarded := len(w.queue)
		w.queue = nil
		w.mu.Unlock()

		w.metrics.QueuedTraces.Sub(float64(discarded))
		w.cancel()
		close(w.stop)
	})
	<-w.done
}

// Queued returns the number of traces waiting for the next cycle.
func (w *AgentWriter) Queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// DroppedCount returns the total number of traces dropped because the
// queue was full.
func (w *AgentWriter) DroppedCount() int64 {
	return w.dropped.Load()
}

// run is the send loop. One cycle runs per write period or flush request.
func (w *AgentWriter) run() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		case <-w.clock.After(w.period):
		}

		w.mu.Lock()
		if w.stopping {
			w.mu.Unlock()
			return
		}
		traces := w.queue
		w.queue = nil
		waiters := w.waiters
		w.waiters = nil
		w.mu.Unlock()

		// Encoding and network I/O happen outside the queue lock.
		if len(traces) > 0 {
			w.metrics.QueuedTraces.Sub(float64(len(traces)))
			w.send(traces)
		}

		for _, ch := range waiters {
			close(ch)
		}
	}
}

// send encodes and delivers one batch. The batch is dropped after the
// retry schedule is exhausted, whatever the outcome.
func (w *AgentWriter) send(traces []Trace) {
	body, err := w.encode(traces)
	if err != nil {
		w.metrics.FailedBatches.Inc()
		w.errs.Error("dropping batch: encoding failed", zap.Error(err), zap.Int("traces", len(traces)))
		return
	}
	headers := w.encoder.Headers(traces)

	if !w.deliver(headers, body, len(traces)) {
		w.metrics.FailedBatches.Inc()
		return
	}
	w.metrics.SentBatches.Inc()
	w.metrics.SentTraces.Add(float64(len(traces)))
	w.logger.Debug("sent traces", zap.Int("traces", len(traces)), zap.Int("bytes", len(body)))
}

// encode recovers from encoder panics so a bad batch cannot take down the
// host process.
func (w *AgentWriter) encode(traces []Trace) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoder panic: %v", r)
		}
	}()
	return w.encoder.Encode(traces)
}

// deliver attempts the request, waiting out each step of the retry schedule
// on the writer's clock between failures. A stop request abandons the
// remaining retries.
func (w *AgentWriter) deliver(headers map[string]string, body []byte, count int) bool {
	attempt := 0
	op := func() error {
		attempt++
		return w.post(headers, body)
	}
	notify := func(err error, wait time.Duration) {
		w.errs.Error("sending traces to agent failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("traces", count),
			zap.Duration("retry_in", wait),
		)
	}

	retries := backoff.WithContext(w.schedule.BackOff(), w.stopCtx)
	err := backoff.RetryNotifyWithTimer(op, retries, notify, newClockTimer(w.clock))
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.Canceled):
		w.logger.Debug("abandoning batch: writer stopped", zap.Int("attempt", attempt), zap.Int("traces", count))
	default:
		w.errs.Error("dropping batch: agent unreachable",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("traces", count),
		)
	}
	return false
}

func (w *AgentWriter) post(headers map[string]string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()

	w.metrics.SendAttempts.Inc()
	w.transport.Reset()
	w.transport.SetHeaders(headers)
	w.transport.SetBody(body)
	return w.transport.Perform(context.Background())
}
