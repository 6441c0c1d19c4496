// Package logging constructs the zap logger shared by every component.
// Modeled on the discovery service's logger package (pkg/logger/logger.go
// in the wider example pack): a fixed encoder config, switchable between a
// human-readable console encoding for local runs and JSON for production.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger. development selects a console encoder at
// debug level; otherwise it builds a JSON encoder at info level suitable
// for shipping to a log aggregator.
func New(development bool) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	encoding := "json"
	if development {
		level = zapcore.DebugLevel
		encoding = "console"
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: development,
		Encoding:    encoding,
		OutputPaths: []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "message",

			LevelKey:    "level",
			EncodeLevel: zapcore.CapitalLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.ISO8601TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
