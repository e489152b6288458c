package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// ItemLogger returns a child logger with outbox-item context fields.
func ItemLogger(base *zap.Logger, itemID, tenantID string, attempt int) *zap.Logger {
	return base.With(
		zap.String("item_id", itemID),
		zap.String("tenant_id", tenantID),
		zap.Int("attempt", attempt),
	)
}
