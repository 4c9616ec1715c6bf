package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// KafkaAdapter consumes Kafka topics as a member of a consumer group
type KafkaAdapter struct {
	cfg    config.AdapterConfig
	logger *zap.Logger
	topics []string

	consumer  *kafka.Consumer
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewKafkaAdapter creates a Kafka adapter. Endpoint is the bootstrap server
// list and Filter a comma separated topic list.
func NewKafkaAdapter(cfg config.AdapterConfig, logger *zap.Logger) *KafkaAdapter {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	return &KafkaAdapter{cfg: cfg, logger: logger, topics: cfg.Topics()}
}

func (k *KafkaAdapter) Name() string {
	return k.cfg.Name
}

func (k *KafkaAdapter) configMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  k.cfg.Endpoint,
		"group.id":           k.cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": true,
		"client.id":          k.cfg.Name,
	}
	for key, v := range k.cfg.Properties {
		_ = cm.SetKey(key, v)
	}
	return cm
}

// Open creates the consumer and subscribes. Brokers are contacted lazily by
// the client, so an unreachable cluster surfaces on ReadNext.
func (k *KafkaAdapter) Open(ctx context.Context) error {
	if len(k.topics) == 0 {
		return fmt.Errorf("no Kafka topics specified")
	}
	if k.cfg.GroupID == "" {
		return fmt.Errorf("no Kafka group ID specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	k.logger.Info("Starting Kafka consumer",
		zap.String("brokers", k.cfg.Endpoint),
		zap.Strings("topics", k.topics),
		zap.String("group_id", k.cfg.GroupID))

	consumer, err := kafka.NewConsumer(k.configMap())
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	if err := consumer.SubscribeTopics(k.topics, nil); err != nil {
		_ = consumer.Close()
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	k.consumer = consumer
	return nil
}

// ReadNext polls until a message arrives. Poll timeouts and non-fatal client
// errors are absorbed; fatal ones end the read loop.
func (k *KafkaAdapter) ReadNext(ctx context.Context) (*stream.Message, error) {
	if k.consumer == nil {
		return nil, ErrNotOpen
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if k.closed.Load() {
			return nil, ErrEndOfStream
		}

		msg, err := k.consumer.ReadMessage(k.cfg.PollTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) {
				if kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				if !kafkaErr.IsFatal() && !k.closed.Load() {
					k.logger.Warn("Kafka consumer error", zap.Error(err))
					continue
				}
			}
			if k.closed.Load() {
				return nil, ErrEndOfStream
			}
			return nil, err
		}

		return k.toMessage(msg), nil
	}
}

func (k *KafkaAdapter) toMessage(msg *kafka.Message) *stream.Message {
	headers := headerMap(len(msg.Headers) + 3)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if msg.TopicPartition.Topic != nil {
		headers["topic"] = *msg.TopicPartition.Topic
	}
	headers["partition"] = fmt.Sprintf("%d", msg.TopicPartition.Partition)
	headers["offset"] = msg.TopicPartition.Offset.String()

	return &stream.Message{
		Key:        string(msg.Key),
		Payload:    msg.Value,
		Headers:    headers,
		Source:     k.cfg.Name,
		ReceivedAt: time.Now(),
	}
}

// Close leaves the group and closes the consumer
func (k *KafkaAdapter) Close() error {
	k.closeOnce.Do(func() {
		k.closed.Store(true)
		if k.consumer == nil {
			return
		}
		k.logger.Info("Stopping Kafka consumer")
		k.closeErr = k.consumer.Close()
	})
	return k.closeErr
}
