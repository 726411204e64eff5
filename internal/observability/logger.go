package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type runKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// Run identifies one submit or poll pass over a batch.
type Run struct {
	ID       string
	Kind     string
	Customer string
	Batch    string
}

// WithRun tags ctx with the run it belongs to.
func WithRun(ctx context.Context, run Run) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, runKey{}, run)
}

func RunFromContext(ctx context.Context) (Run, bool) {
	if ctx == nil {
		return Run{}, false
	}

	run, ok := ctx.Value(runKey{}).(Run)
	if !ok || run.ID == "" {
		return Run{}, false
	}

	return run, true
}

// WithContextLogger adds the run and batch fields carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	run, ok := RunFromContext(ctx)
	if !ok {
		return logger
	}

	fields := []zap.Field{zap.String("runId", run.ID)}
	if run.Kind != "" {
		fields = append(fields, zap.String("runKind", run.Kind))
	}
	if run.Customer != "" {
		fields = append(fields, zap.String("customer", run.Customer))
	}
	if run.Batch != "" {
		fields = append(fields, zap.String("batch", run.Batch))
	}
	return logger.With(fields...)
}
