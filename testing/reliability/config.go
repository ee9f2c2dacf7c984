package reliability

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for reliability testing, read from
// SPANZ_RELIABILITY_* environment variables.
type Config struct {
	Level         string        `envconfig:"LEVEL"`                  // "basic" or "stress"
	Duration      time.Duration `envconfig:"DURATION" default:"5s"`  // Test duration for stress tests
	MaxGoroutines int           `envconfig:"MAX_GOROUTINES" default:"100"`
}

// loadConfig reads the configuration and skips the test when reliability
// testing is not enabled.
func loadConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	if err := envconfig.Process("spanz_reliability", &cfg); err != nil {
		t.Fatalf("Invalid reliability config: %v", err)
	}
	if cfg.Level == "" {
		t.Skip("reliability tests disabled; set SPANZ_RELIABILITY_LEVEL=basic or stress")
	}
	return cfg
}

// stress reports whether the long-running variants should run.
func (c Config) stress() bool { return c.Level == "stress" }
