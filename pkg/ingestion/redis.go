package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// RedisAdapter pattern-subscribes to Redis pub/sub channels
type RedisAdapter struct {
	cfg    config.AdapterConfig
	logger *zap.Logger

	client *redis.Client
	pubsub *redis.PubSub
	ch     <-chan *redis.Message

	closeOnce sync.Once
	closeErr  error
}

// NewRedisAdapter creates a Redis adapter. Endpoint is host:port and Filter a
// PSUBSCRIBE pattern; Properties may carry username, password and db.
func NewRedisAdapter(cfg config.AdapterConfig, logger *zap.Logger) *RedisAdapter {
	return &RedisAdapter{cfg: cfg, logger: logger}
}

func (r *RedisAdapter) Name() string {
	return r.cfg.Name
}

// Open pings the server and confirms the subscription
func (r *RedisAdapter) Open(ctx context.Context) error {
	if r.cfg.Filter == "" {
		return fmt.Errorf("no Redis channel pattern specified")
	}

	opts := &redis.Options{
		Addr:        r.cfg.Endpoint,
		Username:    r.cfg.Properties["username"],
		Password:    r.cfg.Properties["password"],
		DialTimeout: r.cfg.ConnectTimeout,
	}
	if db := r.cfg.Properties["db"]; db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid redis db %q: %w", db, err)
		}
		opts.DB = n
	}

	r.logger.Info("Connecting to Redis",
		zap.String("addr", r.cfg.Endpoint),
		zap.String("pattern", r.cfg.Filter))

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	pubsub := client.PSubscribe(ctx, r.cfg.Filter)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.cfg.Filter, err)
	}

	r.client = client
	r.pubsub = pubsub
	r.ch = pubsub.Channel(redis.WithChannelSize(1024))
	return nil
}

// ReadNext waits on the subscription channel. The channel is closed together
// with the PubSub, which ends the stream.
func (r *RedisAdapter) ReadNext(ctx context.Context) (*stream.Message, error) {
	if r.ch == nil {
		return nil, ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-r.ch:
		if !ok {
			return nil, ErrEndOfStream
		}
		headers := headerMap(1)
		if msg.Pattern != "" {
			headers["pattern"] = msg.Pattern
		}
		return &stream.Message{
			Key:        msg.Channel,
			Payload:    []byte(msg.Payload),
			Headers:    headers,
			Source:     r.cfg.Name,
			ReceivedAt: time.Now(),
		}, nil
	}
}

// Close closes the subscription and the client
func (r *RedisAdapter) Close() error {
	r.closeOnce.Do(func() {
		if r.client == nil {
			return
		}
		r.closeErr = multierr.Combine(r.pubsub.Close(), r.client.Close())
	})
	return r.closeErr
}
