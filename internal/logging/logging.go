// Package logging builds the structured logger every other component is
// handed through Services; nothing in this repo reaches for a package
// level logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"banchod/internal/config"
)

// Logger is the narrow interface named in the external-interfaces
// section. *zap.SugaredLogger satisfies it directly; components depend
// on this interface, not on zap, so a test double never needs the real
// encoder.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debugw(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}

// New builds a zap-backed Logger from logging configuration.
func New(cfg config.LoggingConfig) (Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	base, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: base.Sugar()}, nil
}

// NewNop is used by tests that don't want log noise.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}
