// Package logging provides zap logger helpers shared across the service.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the global logger. It defaults to a no-op logger until InitLogger
// or Set is called, so packages may log safely during early startup.
var L = zap.NewNop()

// InitLogger replaces the global logger with a production logger.
// It is called once at process start, before configuration is loaded.
func InitLogger() {
	logger, err := New(false)
	if err != nil {
		// Nothing sensible to do without a logger; keep the no-op one.
		return
	}
	Set(logger)
}

// Set installs the given logger as the global logger and as zap's globals.
func Set(logger *zap.Logger) {
	L = logger
	zap.ReplaceGlobals(logger)
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
