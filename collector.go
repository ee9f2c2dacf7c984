package spanz

import (
	"sync"
	"sync/atomic"
	"time"
)

// collectorMsg carries either a trace or a flush marker.
type collectorMsg struct {
	trace Trace
	flush chan struct{}
}

// Collector is an in-memory Writer. It buffers completed traces for export
// by the caller instead of sending them anywhere, which makes it the usual
// Writer for tests and for custom exporters.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	traces       []Trace
	tracesCh     chan collectorMsg
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	mu           sync.Mutex
	stopOnce     sync.Once
	closed       atomic.Bool // Track if collector is closed.
	syncMode     bool        // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified channel buffer size.
func NewCollector(bufferSize int) *Collector {
	c := &Collector{
		traces:   make([]Trace, 0, 8), // Start with small capacity.
		tracesCh: make(chan collectorMsg, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.start()
	return c
}

// start runs the collector's main loop, receiving traces from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining traces before shutdown.
			for {
				select {
				case msg := <-c.tracesCh:
					c.handle(msg)
				default:
					return // Clean shutdown.
				}
			}
		case msg := <-c.tracesCh:
			c.handle(msg)
		}
	}
}

func (c *Collector) handle(msg collectorMsg) {
	if msg.flush != nil {
		close(msg.flush)
		return
	}
	c.bufferTrace(msg.trace)
}

// Write implements Writer. If the internal channel is full, the trace is
// dropped and the drop counter is incremented.
// In sync mode, traces are collected directly for deterministic testing.
func (c *Collector) Write(trace Trace) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode {
		c.bufferTrace(trace)
		return
	}

	select {
	case c.tracesCh <- collectorMsg{trace: trace}:
		// Successfully queued.
	default:
		// Channel full - drop trace to prevent blocking.
		c.droppedCount.Add(1)
	}
}

// Flush implements Writer. It waits until every trace written before the
// call has been buffered.
func (c *Collector) Flush() {
	if c.syncMode || c.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case c.tracesCh <- collectorMsg{flush: done}:
	case <-c.stopCh:
		return
	}
	select {
	case <-done:
	case <-c.done:
	}
}

// Stop implements Writer. Traces already in the channel are still buffered
// and remain available to Export.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
	})
	select {
	case <-c.done:
		// Clean shutdown completed.
	case <-time.After(100 * time.Millisecond):
		// Give up waiting; the loop exits on its own once drained.
	}
}

// bufferTrace adds a trace to the internal buffer with proper locking.
func (c *Collector) bufferTrace(trace Trace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = append(c.traces, trace)
}

// Export returns all buffered traces and clears the internal buffer.
// Trace records are shared, not copied: they are immutable once emitted.
func (c *Collector) Export() []Trace {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.traces) == 0 {
		return nil
	}

	result := make([]Trace, len(c.traces))
	copy(result, c.traces)

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.traces) > 256 && len(c.traces) < cap(c.traces)/8 {
		newCap := cap(c.traces) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.traces = make([]Trace, 0, newCap)
	} else {
		clear(c.traces)
		c.traces = c.traces[:0] // Keep capacity, reset length.
	}

	return result
}

// Count returns the current number of buffered traces.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}

// DroppedCount returns the total number of traces dropped due to
// backpressure or writes after Stop.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, traces are collected directly without using the channel.
// Must be called before the collector is shared.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Reset clears all buffered traces and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.traces = c.traces[:0]
	c.droppedCount.Store(0)
}
