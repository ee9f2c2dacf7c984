package spanz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments.
type Metrics struct {
	// Trace buffer
	PendingTraces  prometheus.Gauge
	ProtocolErrors *prometheus.CounterVec

	// Writer
	QueuedTraces  prometheus.Gauge
	DroppedTraces prometheus.Counter
	SentTraces    prometheus.Counter
	SentBatches   prometheus.Counter
	FailedBatches prometheus.Counter
	SendAttempts  prometheus.Counter
}

// NewMetrics creates the pipeline metrics and registers them with reg.
// A nil reg creates unregistered metrics, which still count.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PendingTraces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "spanz",
			Name:      "pending_traces",
			Help:      "Traces with at least one span still open",
		}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spanz",
			Name:      "protocol_errors_total",
			Help:      "Span registration or finish calls that violated the trace protocol",
		}, []string{"kind"}),
		QueuedTraces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "spanz",
			Name:      "queued_traces",
			Help:      "Completed traces waiting for the next send cycle",
		}),
		DroppedTraces: f.NewCounter(prometheus.CounterOpts{
			Namespace: "spanz",
			Name:      "dropped_traces_total",
			Help:      "Completed traces dropped because the writer queue was full",
		}),
		SentTraces: f.NewCounter(prometheus.CounterOpts{
			Namespace: "spanz",
			Name:      "sent_traces_total",
			Help:      "Traces accepted by the agent",
		}),
		SentBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "spanz",
			Name:      "sent_batches_total",
			Help:      "Batches accepted by the agent",
		}),
		FailedBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "spanz",
			Name:      "failed_batches_total",
			Help:      "Batches dropped after encoding failure or exhausted retries",
		}),
		SendAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "spanz",
			Name:      "send_attempts_total",
			Help:      "HTTP requests made to the agent, including retries",
		}),
	}
}
