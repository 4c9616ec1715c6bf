package ingestion

import (
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
)

// NewAdapter builds the adapter selected by cfg.Type
func NewAdapter(cfg config.AdapterConfig, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type + "-in"
	}
	logger = logger.With(zap.String("adapter", cfg.Name), zap.String("type", cfg.Type))

	switch cfg.Type {
	case config.AdapterNATS:
		return NewNATSAdapter(cfg, logger), nil
	case config.AdapterRedis:
		return NewRedisAdapter(cfg, logger), nil
	case config.AdapterSocket:
		return NewSocketAdapter(cfg, logger), nil
	case config.AdapterWebSocket:
		return NewWebSocketAdapter(cfg, logger), nil
	case config.AdapterKafka:
		return NewKafkaAdapter(cfg, logger), nil
	default:
		return nil, inerrors.ConfigError("adapter.type", "unknown adapter type %q", cfg.Type)
	}
}
