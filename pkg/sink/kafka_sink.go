package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// KafkaSink produces records to a Kafka topic. Produce is asynchronous;
// delivery failures are logged and counted from the events channel.
type KafkaSink struct {
	producer     *kafka.Producer
	topic        string
	flushTimeout time.Duration
	logger       *zap.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64

	events    sync.WaitGroup
	closeOnce sync.Once
}

// NewKafkaSink creates the producer. Brokers are contacted lazily.
func NewKafkaSink(cfg config.KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no Kafka topic specified")
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"acks":               "all",
		"enable.idempotence": true,
		"client.id":          cfg.Name,
	}
	for k, v := range cfg.Properties {
		if err := cm.SetKey(k, v); err != nil {
			return nil, fmt.Errorf("invalid producer property %s: %w", k, err)
		}
	}

	producer, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	k := &KafkaSink{
		producer:     producer,
		topic:        cfg.Topic,
		flushTimeout: cfg.FlushTimeout,
		logger:       logger.With(zap.String("sink", cfg.Name), zap.String("topic", cfg.Topic)),
	}

	k.events.Add(1)
	go k.handleEvents()

	return k, nil
}

// handleEvents drains delivery reports until the producer is closed
func (k *KafkaSink) handleEvents() {
	defer k.events.Done()
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				k.failed.Inc()
				k.logger.Error("Kafka delivery failed", zap.Error(ev.TopicPartition.Error))
				continue
			}
			k.delivered.Inc()
		case kafka.Error:
			k.logger.Warn("Kafka producer error", zap.Error(ev))
		}
	}
}

// Write queues the record for delivery
func (k *KafkaSink) Write(_ context.Context, record *stream.Record) error {
	value, err := encodeValue(record.Value)
	if err != nil {
		return err
	}

	headers := make([]kafka.Header, 0, len(record.Headers)+2)
	for key, v := range record.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: "inlet.id", Value: []byte(record.ID)},
		kafka.Header{Key: "inlet.window", Value: []byte(strconv.FormatUint(uint64(record.Window), 10))},
	)

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Value:          value,
		Headers:        headers,
		Timestamp:      record.ReceivedAt,
	}
	if record.Key != "" {
		msg.Key = []byte(record.Key)
	}

	return k.producer.Produce(msg, nil)
}

// encodeValue passes bytes and strings through and JSON-encodes the rest
func encodeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record value: %w", err)
		}
		return data, nil
	}
}

// Flush waits for outstanding deliveries, bounded by the flush timeout and
// the context deadline
func (k *KafkaSink) Flush(ctx context.Context) error {
	timeout := k.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	if remaining := k.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		return fmt.Errorf("%d messages still queued after %s", remaining, timeout)
	}
	return nil
}

// Delivered and Failed count delivery reports received so far
func (k *KafkaSink) Delivered() uint64 { return k.delivered.Load() }
func (k *KafkaSink) Failed() uint64    { return k.failed.Load() }

// Close closes the producer and waits for the report goroutine. Queued
// messages that were not flushed are dropped.
func (k *KafkaSink) Close() error {
	k.closeOnce.Do(func() {
		k.logger.Info("Closing Kafka sink")
		k.producer.Close()
		k.events.Wait()
	})
	return nil
}
