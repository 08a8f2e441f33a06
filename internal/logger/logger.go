// Package logger wraps zap with the key-value calling convention used across
// the service (component-scoped children via With, sugar-logger ergonomics).
package logger

import (
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: z.Sugar()}, nil
}

func (l *Logger) Sync() {
	if l == nil || l.sugar == nil {
		return
	}
	_ = l.sugar.Sync()
}

func (l *Logger) With(kv ...interface{}) *Logger {
	if l == nil || l.sugar == nil {
		return l
	}
	return &Logger{sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugw(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infow(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnw(msg, kv...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorw(msg, kv...)
}

// Log provides the level-parameterized logging shape some third-party
// clients expect; nothing in this module calls it. Unused fields are
// accepted and ignored by the variadic signature.
func (l *Logger) Log(level string, msg string, kv ...interface{}) {
	switch strings.ToLower(level) {
	case "debug":
		l.Debug(msg, kv...)
	case "warn":
		l.Warn(msg, kv...)
	case "error":
		l.Error(msg, kv...)
	default:
		l.Info(msg, kv...)
	}
}
