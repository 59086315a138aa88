package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options select the log output shape from the CLI flags.
type Options struct {
	Level zapcore.Level
	JSON  bool
}

// New builds the process logger. JSON output is single-line machine
// readable; console output is for humans and carries no ANSI codes so
// it stays greppable when redirected.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(opts.Level)
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	if !opts.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg.Build()
}

// NewNop returns a no-op logger for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
