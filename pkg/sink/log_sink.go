package sink

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// LogSink writes each record to the process log
type LogSink struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogSink creates a log sink. An empty level means debug.
func NewLogSink(cfg config.LogSinkConfig, logger *zap.Logger) (*LogSink, error) {
	level := zapcore.DebugLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{
		logger: logger.With(zap.String("sink", cfg.Name)),
		level:  level,
	}, nil
}

func (l *LogSink) Write(_ context.Context, record *stream.Record) error {
	if ce := l.logger.Check(l.level, "Record"); ce != nil {
		ce.Write(
			zap.String("id", record.ID),
			zap.Uint64("window", uint64(record.Window)),
			zap.String("key", record.Key),
			zap.String("source", record.Source),
			zap.Any("value", record.Value),
		)
	}
	return nil
}

func (l *LogSink) Flush(context.Context) error { return nil }

func (l *LogSink) Close() error { return nil }

func (l *LogSink) EndWindow(_ context.Context, w stream.Window) error {
	l.logger.Debug("Window ended", zap.Uint64("window", uint64(w.ID)), zap.Time("end", w.End))
	return nil
}

func (l *LogSink) BeginWindow(context.Context, stream.Window) error { return nil }
