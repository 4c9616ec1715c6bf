// Package input implements the windowed input operator: an ingestion worker
// fills a bounded buffer in the background while the window scheduler drains
// it in bounded batches.
package input

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/buffer"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/codec"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/ingestion"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/sink"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/tracing"
)

var (
	ErrAlreadyActive = errors.New("input already active")
	ErrNotSetup      = errors.New("input not set up")
	ErrAlreadySetup  = errors.New("input already set up")
	ErrDuplicateSink = errors.New("sink already registered")
)

// decodeLogInterval controls how often decode failures are logged at warn
const decodeLogInterval = 1000

// Stats is a snapshot of the operator counters
type Stats struct {
	Active         bool
	Window         stream.WindowID
	BlastSize      int
	Buffered       int
	Capacity       int
	Read           uint64
	Dropped        uint64
	Emitted        uint64
	DecodeFailures uint64
	SourceErrors   uint64
	SinkErrors     uint64
	DeadLettered   int64
}

// Input is the operator registered with the window scheduler. BeginWindow,
// EmitTuples and EndWindow run on the scheduler's tick path; the lifecycle
// methods may be called from any goroutine.
type Input struct {
	cfg     config.AdapterConfig
	adapter ingestion.Adapter
	decoder codec.Decoder
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	retry   *inerrors.RetryPolicy
	dlq     inerrors.DeadLetterQueue
	sinks   []sink.Named

	producer *buffer.Producer[*stream.Message]
	consumer *buffer.Consumer[*stream.Message]

	mu       sync.Mutex
	worker   *ingestion.Worker
	active   atomic.Bool
	tornDown bool

	blastSize atomic.Int64
	window    atomic.Uint64

	counters       ingestion.Counters
	emitted        atomic.Uint64
	decodeFailures atomic.Uint64
	sinkErrors     atomic.Uint64
}

// Option configures an Input
type Option func(*Input)

// WithMetrics reports buffer, drain and error metrics to collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(in *Input) {
		in.metrics = collector
	}
}

// WithTracerProvider traces every drain call
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(in *Input) {
		in.tracer = tp.Tracer(tracing.InstrumentationName)
	}
}

// WithRetryPolicy overrides the policy built from the adapter config
func WithRetryPolicy(policy *inerrors.RetryPolicy) Option {
	return func(in *Input) {
		in.retry = policy
	}
}

// WithDeadLetterQueue keeps payloads that failed to decode
func WithDeadLetterQueue(dlq inerrors.DeadLetterQueue) Option {
	return func(in *Input) {
		in.dlq = dlq
	}
}

// New creates an input operator for adapter. Call Setup before Activate.
func New(cfg config.AdapterConfig, adapter ingestion.Adapter, decoder codec.Decoder, logger *zap.Logger, opts ...Option) *Input {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Second
	}
	if decoder == nil {
		decoder = codec.RawDecoder{}
	}

	in := &Input{
		cfg:     cfg,
		adapter: adapter,
		decoder: decoder,
		logger:  logger.With(zap.String("adapter", adapter.Name())),
		tracer:  noop.NewTracerProvider().Tracer(tracing.InstrumentationName),
		retry:   RetryPolicy(cfg.Retry),
		dlq:     inerrors.NewNullDLQ(),
	}
	in.blastSize.Store(int64(cfg.BlastSize))

	for _, opt := range opts {
		opt(in)
	}
	return in
}

// RetryPolicy converts the configured open retry settings
func RetryPolicy(cfg config.RetryConfig) *inerrors.RetryPolicy {
	return &inerrors.RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Jitter:            cfg.BackoffJitter,
		RetriableFunc:     inerrors.IsRetriable,
	}
}

// Name returns the adapter name
func (in *Input) Name() string {
	return in.adapter.Name()
}

// AddSink registers a named destination. Sinks must be added before Activate.
func (in *Input) AddSink(name string, s stream.Sink) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.active.Load() {
		return ErrAlreadyActive
	}
	for _, n := range in.sinks {
		if n.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateSink, name)
		}
	}
	in.sinks = append(in.sinks, sink.Named{Name: name, Sink: s})
	return nil
}

// Setup validates the configuration, allocates the buffer and opens the
// adapter. Open is retried according to the retry policy.
func (in *Input) Setup(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.producer != nil {
		return ErrAlreadySetup
	}
	if in.cfg.BufferCapacity <= 0 {
		return inerrors.ConfigError("adapter.buffer_capacity", "buffer capacity must be positive, got %d", in.cfg.BufferCapacity)
	}
	if in.blastSize.Load() <= 0 {
		return inerrors.ConfigError("adapter.blast_size", "blast size must be positive, got %d", in.blastSize.Load())
	}

	producer, consumer, err := buffer.New[*stream.Message](in.cfg.BufferCapacity)
	if err != nil {
		return inerrors.ConfigError("adapter.buffer_capacity", "%v", err)
	}

	if err := in.open(ctx); err != nil {
		return err
	}

	in.producer, in.consumer = producer, consumer

	in.logger.Info("Input set up",
		zap.Int("buffer_capacity", in.cfg.BufferCapacity),
		zap.Int64("blast_size", in.blastSize.Load()),
		zap.String("format", in.decoder.Format()),
		zap.Int("sinks", len(in.sinks)))
	return nil
}

func (in *Input) open(ctx context.Context) error {
	name := in.adapter.Name()

	result := in.retry.ExecuteWithCallback(ctx, func(ctx context.Context) error {
		if in.metrics != nil {
			in.metrics.ErrorMetrics.OpenAttempts.WithLabelValues(name).Inc()
		}
		return in.adapter.Open(ctx)
	}, func(attempt int, err error, next time.Duration) {
		if in.metrics != nil {
			in.metrics.ErrorMetrics.OpenFailures.WithLabelValues(name, inerrors.CategoryOf(err).String()).Inc()
		}
		if next > 0 {
			in.logger.Warn("Failed to open source, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}
	})

	if !result.Success {
		return fmt.Errorf("failed to open adapter after %d attempts: %w",
			result.Attempts, inerrors.SourceError(name, result.LastError))
	}
	if result.Attempts > 1 {
		in.logger.Info("Source opened", zap.Int("attempts", result.Attempts))
	}
	return nil
}

// Activate starts a fresh ingestion worker
func (in *Input) Activate(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.producer == nil || in.tornDown {
		return ErrNotSetup
	}
	if !in.active.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}

	opts := []ingestion.WorkerOption{ingestion.WithCounters(&in.counters)}
	if in.metrics != nil {
		opts = append(opts, ingestion.WithWorkerMetrics(in.metrics))
	}
	w := ingestion.NewWorker(in.adapter, in.producer, in.logger, opts...)
	if err := w.Start(ctx); err != nil {
		in.active.Store(false)
		return err
	}
	in.worker = w
	return nil
}

// Deactivate stops the worker. Calling it on an inactive input does nothing.
func (in *Input) Deactivate() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.deactivateLocked()
}

func (in *Input) deactivateLocked() error {
	if !in.active.CompareAndSwap(true, false) {
		return nil
	}

	w := in.worker
	in.worker = nil
	w.Stop(in.cfg.ShutdownGrace)

	if err := w.Err(); err != nil {
		in.logger.Warn("Ingestion worker ended with a source error", zap.Error(err))
	}
	in.logger.Info("Input deactivated", zap.Int("buffered", in.consumer.Size()))
	return nil
}

// Teardown deactivates, closes the adapter and every sink and discards
// whatever is still buffered
func (in *Input) Teardown() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.tornDown {
		return nil
	}
	in.tornDown = true

	errs := in.deactivateLocked()
	errs = multierr.Append(errs, in.adapter.Close())
	for _, s := range in.sinks {
		if err := s.Sink.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}

	if in.consumer != nil {
		if n := in.consumer.Discard(); n > 0 {
			in.logger.Info("Discarded buffered items on teardown", zap.Int("count", n))
		}
	}
	return errs
}

// Worker returns the running worker, or nil when inactive
func (in *Input) Worker() *ingestion.Worker {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.worker
}

// SetBlastSize changes the drain batch limit from the next drain on
func (in *Input) SetBlastSize(n int) error {
	if n <= 0 {
		return inerrors.ConfigError("adapter.blast_size", "blast size must be positive, got %d", n)
	}
	if old := in.blastSize.Swap(int64(n)); old != int64(n) {
		in.logger.Info("Blast size changed", zap.Int64("from", old), zap.Int("to", n))
	}
	return nil
}

// Stats returns the current counters
func (in *Input) Stats() Stats {
	s := Stats{
		Active:         in.active.Load(),
		Window:         stream.WindowID(in.window.Load()),
		BlastSize:      int(in.blastSize.Load()),
		Read:           in.counters.Read.Load(),
		SourceErrors:   in.counters.SourceErrors.Load(),
		Emitted:        in.emitted.Load(),
		DecodeFailures: in.decodeFailures.Load(),
		SinkErrors:     in.sinkErrors.Load(),
	}
	if n, err := in.dlq.Count(context.Background()); err == nil {
		s.DeadLettered = n
	}

	in.mu.Lock()
	consumer := in.consumer
	in.mu.Unlock()
	if consumer != nil {
		s.Buffered = consumer.Size()
		s.Capacity = consumer.Cap()
		s.Dropped = consumer.Dropped()
	}
	return s
}
