// Package logging builds the zap loggers used across the module.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ReleaseMode selects the production JSON logger; any other mode gets the development logger.
const ReleaseMode = "release"

// FileConfig describes an optional rotating log file. An empty Filename disables it.
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a logger for mode.
func New(mode string) (*zap.Logger, error) {
	return build(mode)
}

// NewWithFile returns a logger for mode that also writes JSON lines to a rotating file.
func NewWithFile(mode string, file FileConfig) (*zap.Logger, error) {
	if file.Filename == "" {
		return build(mode)
	}

	sink := &lumberjack.Logger{
		Filename:   file.Filename,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}

	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	if mode == ReleaseMode {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(sink),
		level,
	)

	return build(mode, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

func build(mode string, opts ...zap.Option) (*zap.Logger, error) {
	var cfg zap.Config

	if mode == ReleaseMode {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return cfg.Build(opts...)
}

// Sync flushes logger, ignoring the error stderr-backed loggers report on some platforms.
func Sync(logger *zap.Logger) {
	if logger != nil {
		_ = logger.Sync()
	}
}
