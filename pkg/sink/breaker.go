package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// BreakerSink stops calling a failing sink for a while. Rejected writes
// return *errors.ErrCircuitOpen and count as sink errors upstream.
type BreakerSink struct {
	name    string
	sink    stream.Sink
	breaker *inerrors.CircuitBreaker
}

// NewBreakerSink wraps s. collector may be nil.
func NewBreakerSink(name string, s stream.Sink, cfg config.BreakerConfig, collector *metrics.Collector, logger *zap.Logger) *BreakerSink {
	if logger == nil {
		logger = zap.NewNop()
	}

	onChange := func(name string, from, to inerrors.CircuitState) {
		if collector != nil {
			collector.ErrorMetrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			collector.ErrorMetrics.BreakerState.WithLabelValues(name).Set(float64(to))
		}
		logger.Warn("Sink circuit breaker state changed",
			zap.String("sink", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}

	return &BreakerSink{
		name: name,
		sink: s,
		breaker: inerrors.NewCircuitBreaker(inerrors.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
			OpenTimeout:      cfg.OpenTimeout,
			OnStateChange:    onChange,
		}),
	}
}

// WrapBreakers puts every sink behind its own breaker when cfg is enabled
func WrapBreakers(sinks []Named, cfg config.BreakerConfig, collector *metrics.Collector, logger *zap.Logger) []Named {
	if !cfg.Enabled {
		return sinks
	}
	out := make([]Named, len(sinks))
	for i, s := range sinks {
		out[i] = Named{Name: s.Name, Sink: NewBreakerSink(s.Name, s.Sink, cfg, collector, logger)}
	}
	return out
}

func (b *BreakerSink) Write(ctx context.Context, record *stream.Record) error {
	return b.breaker.Execute(func() error {
		return b.sink.Write(ctx, record)
	})
}

// Flush bypasses the breaker so shutdown always gets a chance to drain
func (b *BreakerSink) Flush(ctx context.Context) error {
	return b.sink.Flush(ctx)
}

func (b *BreakerSink) Close() error {
	return b.sink.Close()
}

func (b *BreakerSink) BeginWindow(ctx context.Context, w stream.Window) error {
	if l, ok := b.sink.(stream.WindowListener); ok {
		return l.BeginWindow(ctx, w)
	}
	return nil
}

// EndWindow goes through the breaker because window-aware sinks flush here
func (b *BreakerSink) EndWindow(ctx context.Context, w stream.Window) error {
	l, ok := b.sink.(stream.WindowListener)
	if !ok {
		return nil
	}
	return b.breaker.Execute(func() error {
		return l.EndWindow(ctx, w)
	})
}

// State returns the breaker state
func (b *BreakerSink) State() inerrors.CircuitState {
	return b.breaker.State()
}

// Unwrap returns the wrapped sink
func (b *BreakerSink) Unwrap() stream.Sink {
	return b.sink
}
