// spanzgen generates synthetic traces and ships them to a trace agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3"
	"github.com/zoobzio/spanz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		ctx    = context.Background()
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	host     string
	port     uint
	service  string
	rate     float64
	depth    int
	fanout   int
	count    int
	logLevel string
	dryRun   bool
}

func exec(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	fs := flag.NewFlagSet("spanzgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cfg config
	fs.StringVar(&cfg.host, "agent-host", spanz.DefaultAgentHost, "trace agent host")
	fs.UintVar(&cfg.port, "agent-port", spanz.DefaultAgentPort, "trace agent port")
	fs.StringVar(&cfg.service, "service", "spanzgen", "service name on generated spans")
	fs.Float64Var(&cfg.rate, "rate", 10, "traces per second")
	fs.IntVar(&cfg.depth, "depth", 3, "span tree depth")
	fs.IntVar(&cfg.fanout, "fanout", 2, "children per span")
	fs.IntVar(&cfg.count, "count", 0, "stop after this many traces (0 runs until interrupted)")
	fs.StringVar(&cfg.logLevel, "log", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.dryRun, "dry-run", false, "print one encoded batch as JSON instead of sending")
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("SPANZGEN")); err != nil {
		return err
	}

	if cfg.rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	if cfg.depth < 1 || cfg.fanout < 0 {
		return fmt.Errorf("depth must be at least 1 and fanout non-negative")
	}

	logger, err := newLogger(cfg.logLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.dryRun {
		return dryRun(stdout, cfg, logger)
	}

	tracer, err := spanz.New(spanz.Options{
		AgentHost: cfg.host,
		AgentPort: uint32(cfg.port),
		Service:   cfg.service,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating tracer: %w", err)
	}
	defer tracer.Close()

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return generate(ctx, tracer, cfg, logger)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, os.Interrupt))
	}

	err = g.Run()
	tracer.Flush()
	return err
}

// generate emits traces at the configured rate until ctx is done or the
// count is reached.
func generate(ctx context.Context, tracer *spanz.Tracer, cfg config, logger *zap.Logger) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.rate))
	defer ticker.Stop()

	for n := 0; cfg.count == 0 || n < cfg.count; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		emitTrace(ctx, tracer, cfg, n)
		if (n+1)%100 == 0 {
			logger.Info("generated traces", zap.Int("count", n+1))
		}
	}
	return nil
}

func emitTrace(ctx context.Context, tracer *spanz.Tracer, cfg config, n int) {
	ctx, root := tracer.StartSpan(ctx, "spanzgen.request",
		spanz.WithResource(fmt.Sprintf("GET /synthetic/%d", n%10)),
		spanz.WithTags(map[string]any{"generator.seq": n}),
	)
	root.SetBaggageItem("generator", "spanzgen")
	emitChildren(ctx, tracer, cfg, 1)
	root.Finish()
}

func emitChildren(ctx context.Context, tracer *spanz.Tracer, cfg config, level int) {
	if level >= cfg.depth {
		return
	}
	for i := 0; i < cfg.fanout; i++ {
		childCtx, child := tracer.StartSpan(ctx, fmt.Sprintf("spanzgen.level%d", level),
			spanz.WithSpanType("custom"),
		)
		child.SetTag("generator.level", level)
		child.SetTag("generator.path", []any{level, i})
		emitChildren(childCtx, tracer, cfg, level+1)
		child.Finish()
	}
}

// dryRun builds a small batch in memory and prints its decoded wire form.
func dryRun(stdout io.Writer, cfg config, logger *zap.Logger) error {
	collector := spanz.NewCollector(16)
	collector.SetSyncMode(true)

	tracer, err := spanz.NewWithWriter(spanz.Options{Service: cfg.service, Logger: logger}, collector)
	if err != nil {
		return fmt.Errorf("creating tracer: %w", err)
	}
	defer tracer.Close()

	count := cfg.count
	if count <= 0 {
		count = 1
	}
	for n := 0; n < count; n++ {
		emitTrace(context.Background(), tracer, cfg, n)
	}

	traces := collector.Export()
	enc := spanz.NewAgentEncoder(spanz.Version)
	body, err := enc.Encode(traces)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	decoded, err := spanz.DecodeTraces(body)
	if err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	headers := enc.Headers(traces)
	for _, k := range []string{"Content-Type", "X-Datadog-Trace-Count"} {
		fmt.Fprintf(stdout, "%s: %s\n", k, headers[k])
	}
	fmt.Fprintf(stdout, "POST %s (%d bytes)\n", enc.Path(), len(body))

	out, err := sonic.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering: %w", err)
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

func newLogger(level string, stderr io.Writer) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(stderr), lvl)
	return zap.New(core), nil
}
