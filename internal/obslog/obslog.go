// Package obslog builds the tagged, leveled loggers every subsystem uses.
//
// Each subsystem gets its own named logger built once at startup and threaded
// through its constructor, the way the teacher threads a general_i.Logger
// through service.Config.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a named logger. tag shows up as the "component" field on every
// entry so a single process's logs can be filtered per subsystem.
func New(tag string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger.With(zap.String("component", tag))
}

// Dev builds a human-readable console logger, used by cmd/matchserver for
// its top-level "APP" logger.
func Dev(tag string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger.With(zap.String("component", tag))
}
