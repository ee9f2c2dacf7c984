package integration

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/spanz"
	"go.uber.org/zap"
)

// Batch is one request received by a FakeAgent.
type Batch struct {
	Headers http.Header
	Traces  []spanz.Trace
}

// FakeAgent is an in-process trace agent. It decodes every batch it accepts
// and can be told to fail requests.
//
//nolint:govet // Field alignment optimized for test helper readability
type FakeAgent struct {
	server  *httptest.Server
	t       *testing.T
	mu      sync.Mutex
	batches []Batch
	calls   int
	failing int // requests left to answer with 500; negative fails forever
}

// NewFakeAgent starts an agent that is closed when the test ends.
func NewFakeAgent(t *testing.T) *FakeAgent {
	t.Helper()
	a := &FakeAgent{t: t}
	a.server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.server.Close)
	return a
}

func (a *FakeAgent) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.calls++
	fail := a.failing != 0
	if a.failing > 0 {
		a.failing--
	}
	a.mu.Unlock()

	if r.URL.Path != spanz.AgentPath {
		http.NotFound(w, r)
		return
	}
	if fail {
		http.Error(w, "agent overloaded", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	traces, err := spanz.DecodeTraces(body)
	if err != nil {
		a.t.Errorf("Agent received undecodable batch: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	a.batches = append(a.batches, Batch{Headers: r.Header.Clone(), Traces: traces})
	a.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Fail makes the next n requests fail. A negative n fails until Recover.
func (a *FakeAgent) Fail(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = n
}

// Recover stops failing requests.
func (a *FakeAgent) Recover() { a.Fail(0) }

// Calls returns the number of requests received, accepted or not.
func (a *FakeAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Batches returns every accepted batch.
func (a *FakeAgent) Batches() []Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Batch, len(a.batches))
	copy(out, a.batches)
	return out
}

// Traces returns every accepted trace across batches.
func (a *FakeAgent) Traces() []spanz.Trace {
	var out []spanz.Trace
	for _, b := range a.Batches() {
		out = append(out, b.Traces...)
	}
	return out
}

// HostPort splits the agent address for Options.
func (a *FakeAgent) HostPort() (string, uint32) {
	host, port, err := net.SplitHostPort(a.server.Listener.Addr().String())
	if err != nil {
		a.t.Fatalf("Bad agent address: %v", err)
	}
	p, err := strconv.ParseUint(port, 10, 32)
	if err != nil {
		a.t.Fatalf("Bad agent port: %v", err)
	}
	return host, uint32(p)
}

// NewAgentTracer creates a tracer pointed at agent. The write period is long
// so tests control send cycles with Flush.
func NewAgentTracer(t *testing.T, agent *FakeAgent, configure ...func(*spanz.Options)) *spanz.Tracer {
	t.Helper()
	host, port := agent.HostPort()
	opts := spanz.Options{
		Service:      "integration",
		AgentHost:    host,
		AgentPort:    port,
		WritePeriod:  time.Hour,
		RetryPeriods: []time.Duration{10 * time.Millisecond, 10 * time.Millisecond},
		Logger:       zap.NewNop(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	tracer, err := spanz.New(opts)
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}
	t.Cleanup(tracer.Close)
	return tracer
}

// FindSpan returns the first span with the given name.
func FindSpan(trace spanz.Trace, name string) *spanz.SpanData {
	for _, s := range trace {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AssertChildOf fails the test unless child is a direct child of parent in
// the same trace.
func AssertChildOf(t *testing.T, child, parent *spanz.SpanData) {
	t.Helper()
	if child == nil || parent == nil {
		t.Fatal("Expected both spans to be present")
	}
	if child.TraceID != parent.TraceID {
		t.Errorf("Expected %s in trace %d, got %d", child.Name, parent.TraceID, child.TraceID)
	}
	if child.ParentID != parent.SpanID {
		t.Errorf("Expected %s parent %d (%s), got %d", child.Name, parent.SpanID, parent.Name, child.ParentID)
	}
}

// WaitFor polls cond until it holds or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met within %v", timeout)
		}
		<-ticker.C
	}
}
