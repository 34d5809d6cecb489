package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "sms-dispatcher"

// visibleDigits is how much of a destination survives masking.
const visibleDigits = 4

type runKey struct{}

// runFields is what a dispatch run attaches to every log line it emits.
type runFields struct {
	id          string
	destination string
}

// NewLogger builds the JSON production logger at the given level (default
// info). Every entry carries the service name.
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
	cfg.InitialFields = map[string]interface{}{"service": serviceName}

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

// WithRun stores the run ID and its destination on ctx.
func WithRun(ctx context.Context, runID, destination string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, runKey{}, runFields{id: runID, destination: destination})
}

func runFromContext(ctx context.Context) (runFields, bool) {
	if ctx == nil {
		return runFields{}, false
	}

	run, ok := ctx.Value(runKey{}).(runFields)
	if !ok || run.id == "" {
		return runFields{}, false
	}
	return run, true
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	run, ok := runFromContext(ctx)
	return run.id, ok
}

// MaskDestination hides all but the last few characters of a phone number.
func MaskDestination(destination string) string {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return ""
	}
	if len(destination) <= visibleDigits {
		return strings.Repeat("*", len(destination))
	}
	return strings.Repeat("*", len(destination)-visibleDigits) + destination[len(destination)-visibleDigits:]
}

// WithContextLogger returns logger annotated with the run carried by ctx:
// its ID and the masked destination.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	run, ok := runFromContext(ctx)
	if !ok {
		return logger
	}

	fields := []zap.Field{zap.String("runId", run.id)}
	if masked := MaskDestination(run.destination); masked != "" {
		fields = append(fields, zap.String("destination", masked))
	}
	return logger.With(fields...)
}
