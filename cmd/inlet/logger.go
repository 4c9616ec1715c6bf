package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
)

// initLogger builds the process logger. The returned level can be changed
// at runtime by a configuration reload.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	zc := zap.NewProductionConfig()
	zc.Level = level
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	switch cfg.Output {
	case "", "stdout":
		zc.OutputPaths = []string{"stdout"}
	case "stderr":
		zc.OutputPaths = []string{"stderr"}
	case "file":
		zc.OutputPaths = []string{cfg.OutputPath}
	default:
		return nil, level, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, level, nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
