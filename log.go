package spanz

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// newLogger builds the default library logger: JSON to stderr at the given
// level. Falls back to a no-op logger if the level is invalid or the logger
// cannot be built, since logging must never stop tracing.
func newLogger(level string) *zap.Logger {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zap.NewNop()
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(l),
		Encoding:          "json",
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("spanz")
}

// errorLogger logs pipeline errors with a rate limit, so an agent that is
// down for an hour costs a handful of log lines rather than thousands.
type errorLogger struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func newErrorLogger(logger *zap.Logger) *errorLogger {
	return &errorLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// Error logs msg unless the rate limit is exhausted. The next line that gets
// through reports how many were suppressed in between.
func (l *errorLogger) Error(msg string, fields ...zap.Field) {
	if !l.limiter.Allow() {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}
	l.logger.Error(msg, fields...)
}
