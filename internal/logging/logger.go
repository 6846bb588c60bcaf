package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production JSON logger at the given level ("debug", "info", "warn", "error").
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and correlation identifiers.
func WithOperation(logger *zap.Logger, operation, correlationID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	return logger.With(fields...)
}
