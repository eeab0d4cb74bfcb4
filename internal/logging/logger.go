package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and image-query identifiers.
func WithOperation(logger *zap.Logger, operation, queryID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if queryID != "" {
		fields = append(fields, zap.String("image_query_id", queryID))
	}
	return logger.With(fields...)
}
