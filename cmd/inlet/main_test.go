package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitThenValidate(t *testing.T) {
	for _, profile := range []string{"default", "development", "production"} {
		t.Run(profile, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "inlet.yaml")

			out, err := execute(t, "init", "--config", path, "--profile", profile)
			require.NoError(t, err)
			assert.Contains(t, out, "wrote "+profile)

			out, err = execute(t, "validate", "--config", path)
			require.NoError(t, err)
			assert.Contains(t, out, "is valid")
			assert.Contains(t, out, "nats-in (nats)")
		})
	}
}

func TestInit_UnknownProfile(t *testing.T) {
	_, err := execute(t, "init", "--config", filepath.Join(t.TempDir(), "x.yaml"), "--profile", "staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestValidate_RejectsBadConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Adapter.BlastSize = -5
	path := filepath.Join(t.TempDir(), "inlet.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blast_size")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Setenv("INLET_ADAPTER_BLAST_SIZE", "42")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Adapter.BlastSize)
	assert.Equal(t, config.AdapterNATS, cfg.Adapter.Type)
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		level   zapcore.Level
		wantErr bool
	}{
		{name: "json stdout", cfg: config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, level: zapcore.DebugLevel},
		{name: "console stderr", cfg: config.LoggingConfig{Level: "warn", Format: "console", Output: "stderr"}, level: zapcore.WarnLevel},
		{name: "unknown level", cfg: config.LoggingConfig{Level: "loud"}, level: zapcore.InfoLevel},
		{name: "bad output", cfg: config.LoggingConfig{Output: "syslog"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, level, err := initLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.level, level.Level())
			_ = logger.Sync()
		})
	}

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "inlet.log")
		logger, _, err := initLogger(config.LoggingConfig{Level: "info", Output: "file", OutputPath: path})
		require.NoError(t, err)
		logger.Info("hello")
		require.NoError(t, logger.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
	})
}

func TestReportDeadLetters(t *testing.T) {
	tests := []struct {
		name     string
		written  int
		maxSize  int
		wantLogs int
		retained int64
		evicted  int64
	}{
		{name: "empty", written: 0, maxSize: 5, wantLogs: 0},
		{name: "some", written: 3, maxSize: 5, wantLogs: 4, retained: 3},
		{name: "evicting", written: 20, maxSize: 15, wantLogs: 1 + deadLetterReportLimit, retained: 15, evicted: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dlq := inerrors.NewInMemoryDLQ(tt.maxSize)
			for i := 0; i < tt.written; i++ {
				require.NoError(t, dlq.Write(context.Background(), &inerrors.FailedMessage{
					Source:          "nats-in",
					Payload:         []byte("{broken"),
					Window:          uint64(i),
					FailureReason:   fmt.Sprintf("bad item %d", i),
					FailureCategory: inerrors.CategoryDecode.String(),
				}))
			}

			core, logs := observer.New(zapcore.WarnLevel)
			reportDeadLetters(dlq, zap.New(core))

			require.Equal(t, tt.wantLogs, logs.Len())
			if tt.wantLogs == 0 {
				return
			}
			summary := logs.All()[0].ContextMap()
			assert.Equal(t, tt.retained, summary["retained"])
			assert.Equal(t, tt.evicted, summary["evicted"])

			// oldest retained first
			first := logs.All()[1].ContextMap()
			assert.Equal(t, fmt.Sprintf("bad item %d", tt.evicted), first["reason"])
			assert.Equal(t, "nats-in", first["source"])
		})
	}
}
