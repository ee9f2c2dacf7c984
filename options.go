package spanz

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Defaults for Options and WriterConfig.
const (
	DefaultAgentHost       = "localhost"
	DefaultAgentPort       = 8126
	DefaultType            = "web"
	DefaultSampleRate      = 1.0
	DefaultWritePeriod     = time.Second
	DefaultTimeout         = 2 * time.Second
	DefaultMaxQueuedTraces = 7000
	DefaultLogLevel        = "warn"
)

// Options configures a Tracer.
//
//nolint:govet // Field order optimized for readability over memory efficiency
type Options struct {
	// AgentHost is the hostname or IP address of the trace agent.
	AgentHost string `envconfig:"AGENT_HOST" default:"localhost"`
	// AgentPort is the port the trace agent listens on.
	AgentPort uint32 `envconfig:"AGENT_PORT" default:"8126"`
	// Service is the name of the service being traced. Required.
	Service string `envconfig:"SERVICE"`
	// Type is the default span type, such as web, db or cache.
	Type string `envconfig:"TYPE" default:"web"`
	// SampleRate is the share of traces the caller keeps, in [0, 1]. Sampling
	// decisions are made before spans are started; the rate is informational.
	// Unlike the other fields, zero is not replaced by the default.
	SampleRate float64 `envconfig:"SAMPLE_RATE" default:"1.0"`
	// WritePeriod is the maximum time between send cycles. The agent drops
	// traces older than 10s, so keep this well below that.
	WritePeriod time.Duration `envconfig:"WRITE_PERIOD" default:"1s"`
	// Timeout bounds each request to the agent.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"2s"`
	// MaxQueuedTraces bounds the writer queue.
	MaxQueuedTraces int `envconfig:"MAX_QUEUED_TRACES" default:"7000"`
	// RetryPeriods is the retry schedule.
	RetryPeriods []time.Duration `envconfig:"RETRY_PERIODS" default:"500ms,2500ms"`
	// LogLevel is used when Logger is nil.
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`

	// Logger receives pipeline errors. Defaults to JSON on stderr.
	Logger *zap.Logger `ignored:"true"`
	// Clock drives span timing and the writer schedule.
	Clock clockz.Clock `ignored:"true"`
	// Registerer receives the pipeline metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer `ignored:"true"`
	// Transport overrides the default HTTP transport.
	Transport Transport `ignored:"true"`
}

// DefaultOptions returns the documented defaults. Service is left empty.
func DefaultOptions() Options {
	return Options{
		AgentHost:       DefaultAgentHost,
		AgentPort:       DefaultAgentPort,
		Type:            DefaultType,
		SampleRate:      DefaultSampleRate,
		WritePeriod:     DefaultWritePeriod,
		Timeout:         DefaultTimeout,
		MaxQueuedTraces: DefaultMaxQueuedTraces,
		RetryPeriods:    append([]time.Duration(nil), DefaultSchedule...),
		LogLevel:        DefaultLogLevel,
	}
}

// OptionsFromEnv loads options from environment variables named
// PREFIX_AGENT_HOST, PREFIX_SERVICE and so on. Unset variables take the
// defaults.
func OptionsFromEnv(prefix string) (Options, error) {
	var opts Options
	if err := envconfig.Process(prefix, &opts); err != nil {
		return Options{}, fmt.Errorf("failed to load options: %w", err)
	}
	return opts, nil
}

// withDefaults fills zero fields from DefaultOptions. SampleRate is kept
// as-is since zero is a valid rate; RetryPeriods is kept when non-nil so an
// empty schedule can disable retries.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AgentHost == "" {
		o.AgentHost = d.AgentHost
	}
	if o.AgentPort == 0 {
		o.AgentPort = d.AgentPort
	}
	if o.Type == "" {
		o.Type = d.Type
	}
	if o.WritePeriod == 0 {
		o.WritePeriod = d.WritePeriod
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxQueuedTraces == 0 {
		o.MaxQueuedTraces = d.MaxQueuedTraces
	}
	if o.RetryPeriods == nil {
		o.RetryPeriods = d.RetryPeriods
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if o.Clock == nil {
		o.Clock = clockz.RealClock
	}
	return o
}

// Validate reports every invalid field at once.
func (o Options) Validate() error {
	var result *multierror.Error
	if o.Service == "" {
		result = multierror.Append(result, errors.New("service name is required"))
	}
	if o.AgentHost == "" {
		result = multierror.Append(result, errors.New("agent host is required"))
	}
	if o.SampleRate < 0 || o.SampleRate > 1 {
		result = multierror.Append(result, fmt.Errorf("sample rate %v outside [0, 1]", o.SampleRate))
	}
	if o.WritePeriod <= 0 {
		result = multierror.Append(result, fmt.Errorf("write period %s must be positive", o.WritePeriod))
	}
	if o.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("timeout %s must be positive", o.Timeout))
	}
	if o.MaxQueuedTraces <= 0 {
		result = multierror.Append(result, fmt.Errorf("max queued traces %d must be positive", o.MaxQueuedTraces))
	}
	for i, d := range o.RetryPeriods {
		if d < 0 {
			result = multierror.Append(result, fmt.Errorf("retry period %d is negative: %s", i, d))
		}
	}
	return result.ErrorOrNil()
}
