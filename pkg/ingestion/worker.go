package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/buffer"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// ErrWorkerStarted is returned when Start is called on a worker that already ran
var ErrWorkerStarted = errors.New("worker already started")

// dropLogInterval controls how often overflow is logged
const dropLogInterval = 10000

// Counters survive individual workers so totals span activations
type Counters struct {
	Read         atomic.Uint64
	SourceErrors atomic.Uint64
}

// Worker runs the read loop for one activation: it pulls messages from an
// adapter and puts them into the ring. It never emits downstream.
type Worker struct {
	adapter  Adapter
	producer *buffer.Producer[*stream.Message]
	logger   *zap.Logger
	metrics  *metrics.Collector
	counters *Counters

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
	err      atomic.Error
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithWorkerMetrics reports reads, drops and source errors to collector
func WithWorkerMetrics(collector *metrics.Collector) WorkerOption {
	return func(w *Worker) {
		w.metrics = collector
	}
}

// WithCounters shares counters across workers
func WithCounters(counters *Counters) WorkerOption {
	return func(w *Worker) {
		w.counters = counters
	}
}

// NewWorker creates a worker that reads from adapter into producer
func NewWorker(adapter Adapter, producer *buffer.Producer[*stream.Message], logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{
		adapter:  adapter,
		producer: producer,
		logger:   logger.With(zap.String("adapter", adapter.Name())),
		counters: &Counters{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the read goroutine. A worker runs at most once.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrWorkerStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)

	w.logger.Info("Ingestion worker started")
	return nil
}

// Stop cancels the read loop and waits for it to exit. If the loop is still
// blocked in ReadNext after grace, the adapter is closed to unblock it.
func (w *Worker) Stop(grace time.Duration) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if !w.started {
			// never ran; make sure it never will
			w.started = true
			close(w.done)
			w.mu.Unlock()
			return
		}
		cancel := w.cancel
		w.mu.Unlock()

		cancel()

		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-w.done:
			return
		case <-timer.C:
		}

		w.logger.Warn("Read loop did not stop within grace period, closing adapter",
			zap.Duration("grace", grace))
		if err := w.adapter.Close(); err != nil {
			w.logger.Warn("Failed to close adapter", zap.Error(err))
		}
		<-w.done
	})
}

// Done is closed when the read loop has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the source error that ended the loop, if any
func (w *Worker) Err() error {
	return w.err.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	name := w.adapter.Name()

	for {
		if ctx.Err() != nil {
			w.logger.Debug("Read loop cancelled")
			return
		}

		msg, err := w.adapter.ReadNext(ctx)
		if err != nil {
			w.terminate(ctx, err)
			return
		}

		if msg.Source == "" {
			msg.Source = name
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = time.Now()
		}

		w.counters.Read.Inc()
		if w.metrics != nil {
			w.metrics.ItemsRead.WithLabelValues(name).Inc()
		}

		if !w.producer.Put(msg) {
			if w.metrics != nil {
				w.metrics.ItemsDropped.WithLabelValues(name).Inc()
			}
			if dropped := w.producer.Dropped(); dropped == 1 || dropped%dropLogInterval == 0 {
				w.logger.Warn("Buffer full, dropping incoming items",
					zap.Uint64("dropped_total", dropped),
					zap.Int("capacity", w.producer.Cap()))
			}
		}
	}
}

// terminate ends the loop after a failed read. Errors caused by our own
// cancellation or a clean end of stream are not source failures.
func (w *Worker) terminate(ctx context.Context, err error) {
	if ctx.Err() != nil {
		w.logger.Debug("Read loop stopped", zap.Error(err))
		return
	}

	if errors.Is(err, ErrEndOfStream) {
		w.logger.Info("Source reached end of stream")
		return
	}

	srcErr := inerrors.SourceError(w.adapter.Name(), err)
	w.err.Store(srcErr)
	w.counters.SourceErrors.Inc()
	if w.metrics != nil {
		w.metrics.ErrorMetrics.SourceErrors.WithLabelValues(w.adapter.Name()).Inc()
	}

	w.logger.Error("Read loop terminated by source error",
		zap.Error(err),
		zap.Bool("retriable", inerrors.IsRetriable(err)))
}
