package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// NATSAdapter subscribes to a subject, optionally as part of a queue group
type NATSAdapter struct {
	cfg    config.AdapterConfig
	logger *zap.Logger

	conn *nats.Conn
	sub  *nats.Subscription

	closeOnce sync.Once
	closeErr  error
}

// NewNATSAdapter creates a NATS adapter. Filter is the subject and Queue the
// optional queue group; Properties may carry username, password or token.
func NewNATSAdapter(cfg config.AdapterConfig, logger *zap.Logger) *NATSAdapter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &NATSAdapter{cfg: cfg, logger: logger}
}

func (n *NATSAdapter) Name() string {
	return n.cfg.Name
}

// Open connects, subscribes and flushes so the subscription is live on return
func (n *NATSAdapter) Open(ctx context.Context) error {
	if n.cfg.Filter == "" {
		return fmt.Errorf("no NATS subject specified")
	}

	n.logger.Info("Connecting to NATS",
		zap.String("url", n.cfg.Endpoint),
		zap.String("subject", n.cfg.Filter),
		zap.String("queue", n.cfg.Queue))

	conn, err := nats.Connect(n.cfg.Endpoint, n.options()...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	var sub *nats.Subscription
	if n.cfg.Queue != "" {
		sub, err = conn.QueueSubscribeSync(n.cfg.Filter, n.cfg.Queue)
	} else {
		sub, err = conn.SubscribeSync(n.cfg.Filter)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", n.cfg.Filter, err)
	}

	if err := conn.FlushTimeout(n.cfg.ConnectTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}

	if ctx.Err() != nil {
		conn.Close()
		return ctx.Err()
	}

	n.conn = conn
	n.sub = sub
	return nil
}

func (n *NATSAdapter) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(n.cfg.Name),
		nats.Timeout(n.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			n.logger.Debug("NATS connection closed")
		}),
	}

	if user := n.cfg.Properties["username"]; user != "" {
		opts = append(opts, nats.UserInfo(user, n.cfg.Properties["password"]))
	}
	if token := n.cfg.Properties["token"]; token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

// ReadNext waits for the next message on the subscription
func (n *NATSAdapter) ReadNext(ctx context.Context) (*stream.Message, error) {
	if n.sub == nil {
		return nil, ErrNotOpen
	}

	msg, err := n.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, ErrEndOfStream
		}
		return nil, err
	}

	headers := headerMap(len(msg.Header))
	for k, v := range msg.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	if msg.Reply != "" {
		headers["reply"] = msg.Reply
	}

	return &stream.Message{
		Key:        msg.Subject,
		Payload:    msg.Data,
		Headers:    headers,
		Source:     n.cfg.Name,
		ReceivedAt: time.Now(),
	}, nil
}

// Close unsubscribes and closes the connection
func (n *NATSAdapter) Close() error {
	n.closeOnce.Do(func() {
		if n.conn == nil {
			return
		}
		if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			n.closeErr = err
		}
		n.conn.Close()
	})
	return n.closeErr
}
