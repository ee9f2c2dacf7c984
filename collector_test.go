package spanz

import (
	"sync"
	"testing"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector(100)
	defer collector.Stop()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces initially, got %d", collector.Count())
	}

	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped traces initially, got %d", collector.DroppedCount())
	}
}

func TestCollectorBasicCollection(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Stop()

	collector.Write(testTrace(1))

	// No sleep needed - synchronous.
	if collector.Count() != 1 {
		t.Errorf("Expected 1 trace, got %d", collector.Count())
	}

	traces := collector.Export()
	if len(traces) != 1 {
		t.Fatalf("Expected 1 exported trace, got %d", len(traces))
	}

	if traces[0][0].TraceID != 1 {
		t.Errorf("Expected trace ID 1, got %d", traces[0][0].TraceID)
	}

	// After export, collector should be empty.
	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces after export, got %d", collector.Count())
	}
}

func TestCollectorAsyncFlush(t *testing.T) {
	collector := NewCollector(100)
	defer collector.Stop()

	for i := uint64(1); i <= 10; i++ {
		collector.Write(testTrace(i))
	}
	collector.Flush()

	// Flush waits for everything written before it.
	if collector.Count() != 10 {
		t.Errorf("Expected 10 traces after flush, got %d", collector.Count())
	}

	traces := collector.Export()
	for i, tr := range traces {
		if tr[0].TraceID != uint64(i+1) {
			t.Errorf("Expected trace %d at position %d, got %d", i+1, i, tr[0].TraceID)
		}
	}
}

func TestCollectorBackpressure(t *testing.T) {
	// Small buffer to trigger backpressure quickly.
	collector := NewCollector(2)
	defer collector.Stop()

	for i := uint64(0); i < 100; i++ {
		collector.Write(testTrace(i + 1))
	}
	collector.Flush()

	if collector.Count()+int(collector.DroppedCount()) != 100 {
		t.Errorf("Expected collected + dropped = 100, got %d + %d", collector.Count(), collector.DroppedCount())
	}
	if collector.DroppedCount() == 0 {
		t.Log("No traces dropped; loop kept up with writes")
	}
}

func TestCollectorMemoryShrink(t *testing.T) {
	collector := NewCollector(1000)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Stop()

	numTraces := 300
	for i := 0; i < numTraces; i++ {
		collector.Write(testTrace(uint64(i + 1)))
	}

	traces := collector.Export()
	if len(traces) != numTraces {
		t.Errorf("Expected %d traces in export, got %d", numTraces, len(traces))
	}

	// Buffer should now be empty.
	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces after export, got %d", collector.Count())
	}

	// Add a small number of traces.
	for i := 0; i < 5; i++ {
		collector.Write(testTrace(uint64(i + 1)))
	}

	if collector.Count() != 5 {
		t.Errorf("Expected 5 traces after small batch, got %d", collector.Count())
	}
	if got := collector.Export(); len(got) != 5 {
		t.Errorf("Expected 5 exported traces, got %d", len(got))
	}
}

func TestCollectorExportIndependentSlice(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Stop()

	collector.Write(testTrace(1))
	exported := collector.Export()

	// Reusing the internal buffer must not touch a previous export.
	collector.Write(testTrace(2))
	if exported[0][0].TraceID != 1 {
		t.Errorf("Expected earlier export to keep trace 1, got %d", exported[0][0].TraceID)
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Stop()

	for i := 0; i < 5; i++ {
		collector.Write(testTrace(uint64(i + 1)))
	}

	if collector.Count() != 5 {
		t.Errorf("Expected 5 traces before reset, got %d", collector.Count())
	}

	// Set some dropped count.
	collector.droppedCount.Store(10)

	collector.Reset()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces after reset, got %d", collector.Count())
	}

	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped count after reset, got %d", collector.DroppedCount())
	}
}

func TestCollectorStop(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.

	for i := 0; i < 3; i++ {
		collector.Write(testTrace(uint64(i + 1)))
	}

	collector.Stop()
	collector.Stop() // Idempotent.

	// Should still be able to export what was collected.
	traces := collector.Export()
	if len(traces) != 3 {
		t.Errorf("Expected 3 traces after stop, got %d", len(traces))
	}

	// New traces are dropped.
	collector.Write(testTrace(4))
	collector.Flush() // Returns immediately once stopped.

	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces after writing to stopped collector, got %d", collector.Count())
	}
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected 1 dropped trace, got %d", collector.DroppedCount())
	}
}

func TestCollectorConcurrentCollection(t *testing.T) {
	collector := NewCollector(100)
	defer collector.Stop()

	var wg sync.WaitGroup
	numGoroutines := 50
	tracesPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < tracesPerGoroutine; j++ {
				collector.Write(testTrace(uint64(j + 1)))
			}
		}()
	}

	wg.Wait()
	collector.Flush()

	expectedTotal := numGoroutines * tracesPerGoroutine
	actualCount := collector.Count()
	droppedCount := collector.DroppedCount()
	totalProcessed := int(droppedCount) + actualCount

	if totalProcessed != expectedTotal {
		t.Errorf("Expected %d total traces (collected + dropped), got %d (collected: %d, dropped: %d)",
			expectedTotal, totalProcessed, actualCount, droppedCount)
	}
}

func TestCollectorConcurrentExport(t *testing.T) {
	collector := NewCollector(100)
	defer collector.Stop()

	for i := 0; i < 20; i++ {
		collector.Write(testTrace(uint64(i + 1)))
	}
	collector.Flush()

	var wg sync.WaitGroup
	var exportResults [][]Trace
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := collector.Export()

			mu.Lock()
			exportResults = append(exportResults, result)
			mu.Unlock()
		}()
	}

	wg.Wait()

	// Only one export should get the traces, others should be empty.
	var totalExported int
	var nonEmptyExports int

	for _, result := range exportResults {
		totalExported += len(result)
		if len(result) > 0 {
			nonEmptyExports++
		}
	}

	if nonEmptyExports != 1 {
		t.Errorf("Expected exactly 1 non-empty export, got %d", nonEmptyExports)
	}

	if totalExported != 20 {
		t.Errorf("Expected 20 total exported traces, got %d", totalExported)
	}
}

func TestSetSyncMode(t *testing.T) {
	collector := NewCollector(10)
	defer collector.Stop()

	// Async mode (default).
	collector.Write(testTrace(1))
	collector.Flush()

	if collector.Count() != 1 {
		t.Errorf("Expected 1 trace in async mode, got %d", collector.Count())
	}
	collector.Export()

	collector.SetSyncMode(true)

	collector.Write(testTrace(2))

	// Should be immediately available.
	if collector.Count() != 1 {
		t.Errorf("Expected 1 trace in sync mode (immediate), got %d", collector.Count())
	}

	traces := collector.Export()
	if len(traces) != 1 {
		t.Fatalf("Expected 1 exported trace, got %d", len(traces))
	}
	if traces[0][0].TraceID != 2 {
		t.Errorf("Expected trace 2, got %d", traces[0][0].TraceID)
	}
}
