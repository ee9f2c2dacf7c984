package reliability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zoobzio/spanz"
	"go.uber.org/zap"
)

// slowAgent accepts requests after a delay and counts them.
func slowAgent(t *testing.T, delay time.Duration, status int) (string, uint32, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(delay)
		w.WriteHeader(status)
	}))
	// Closed connections keep goroutine counts comparable across tracers.
	server.Config.SetKeepAlivesEnabled(false)
	server.Start()
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.ParseUint(u.Port(), 10, 32)
	if err != nil {
		t.Fatal(err)
	}
	return u.Hostname(), uint32(port), &calls
}

func newTracer(t *testing.T, host string, port uint32, configure func(*spanz.Options)) *spanz.Tracer {
	t.Helper()
	opts := spanz.Options{
		Service:   "reliability",
		AgentHost: host,
		AgentPort: port,
		Logger:    zap.NewNop(),
	}
	if configure != nil {
		configure(&opts)
	}
	tracer, err := spanz.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return tracer
}

// TestSustainedOutageBoundsMemory keeps producing traces while the agent
// answers 500 and checks the queue never grows past its bound.
func TestSustainedOutageBoundsMemory(t *testing.T) {
	cfg := loadConfig(t)
	duration := time.Second
	if cfg.stress() {
		duration = cfg.Duration
	}

	host, port, _ := slowAgent(t, 0, http.StatusInternalServerError)
	tracer := newTracer(t, host, port, func(o *spanz.Options) {
		o.MaxQueuedTraces = 500
		o.WritePeriod = 50 * time.Millisecond
		o.RetryPeriods = []time.Duration{10 * time.Millisecond}
	})
	defer tracer.Close()

	var (
		wg   sync.WaitGroup
		stop = make(chan struct{})
		peak atomic.Int64
	)
	for i := 0; i < cfg.MaxGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ctx, root := tracer.StartSpan(context.Background(), "produce")
				_, child := tracer.StartSpan(ctx, "step")
				child.Finish()
				root.Finish()
			}
		}()
	}

	deadline := time.After(duration)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-ticker.C:
			queued := int64(testutil.ToFloat64(tracer.Metrics().QueuedTraces))
			if queued > peak.Load() {
				peak.Store(queued)
			}
		}
	}
	close(stop)
	wg.Wait()

	if peak.Load() > 500 {
		t.Errorf("Queue exceeded its bound: peak %d", peak.Load())
	}
	if testutil.ToFloat64(tracer.Metrics().DroppedTraces) == 0 {
		t.Error("Expected traces to be dropped during the outage")
	}
	if tracer.Buffer().Pending() != 0 {
		t.Errorf("Expected no pending traces after producers stopped, got %d", tracer.Buffer().Pending())
	}
}

// TestShutdownDuringOutageIsBounded stops a tracer that is waiting out a
// long retry.
func TestShutdownDuringOutageIsBounded(t *testing.T) {
	loadConfig(t)

	host, port, calls := slowAgent(t, 0, http.StatusServiceUnavailable)
	tracer := newTracer(t, host, port, func(o *spanz.Options) {
		o.WritePeriod = 10 * time.Millisecond
		o.RetryPeriods = []time.Duration{time.Hour}
	})

	_, span := tracer.StartSpan(context.Background(), "doomed")
	span.Finish()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected the writer to attempt a send")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	tracer.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected prompt shutdown, took %v", elapsed)
	}
}

// TestSlowAgentDoesNotBlockProducers checks span creation stays fast while
// every request hangs until the transport timeout.
func TestSlowAgentDoesNotBlockProducers(t *testing.T) {
	loadConfig(t)

	host, port, _ := slowAgent(t, 500*time.Millisecond, http.StatusOK)
	tracer := newTracer(t, host, port, func(o *spanz.Options) {
		o.WritePeriod = 10 * time.Millisecond
		o.Timeout = 100 * time.Millisecond
		o.RetryPeriods = []time.Duration{}
	})
	defer tracer.Close()

	start := time.Now()
	for i := 0; i < 10000; i++ {
		_, span := tracer.StartSpan(context.Background(), "fast")
		span.Finish()
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected producers unaffected by a slow agent, took %v", elapsed)
	}
}

// TestTracerLifecycleLeaksNoGoroutines creates and closes tracers
// repeatedly.
func TestTracerLifecycleLeaksNoGoroutines(t *testing.T) {
	loadConfig(t)

	host, port, _ := slowAgent(t, 0, http.StatusOK)
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		tracer := newTracer(t, host, port, nil)
		_, span := tracer.StartSpan(context.Background(), "cycle")
		span.Finish()
		tracer.Flush()
		tracer.Close()
	}

	time.Sleep(100 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before+10 {
		t.Errorf("Goroutine leak detected: %d -> %d", before, after)
	}
}
