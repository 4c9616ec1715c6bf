package input

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/tracing"
)

// BeginWindow records the open window and forwards it to window-aware sinks
func (in *Input) BeginWindow(ctx context.Context, w stream.Window) error {
	in.window.Store(uint64(w.ID))
	return in.notifySinks(func(l stream.WindowListener) error {
		return l.BeginWindow(ctx, w)
	})
}

// EndWindow forwards the window end to window-aware sinks
func (in *Input) EndWindow(ctx context.Context, w stream.Window) error {
	return in.notifySinks(func(l stream.WindowListener) error {
		return l.EndWindow(ctx, w)
	})
}

func (in *Input) notifySinks(call func(stream.WindowListener) error) error {
	var errs error
	for _, s := range in.sinks {
		l, ok := s.Sink.(stream.WindowListener)
		if !ok {
			continue
		}
		if err := call(l); err != nil {
			in.sinkFailed(s.Name)
			errs = multierr.Append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}
	return errs
}

// EmitTuples drains min(blast size, buffered) items, decodes them and writes
// the records to every sink in drain order. Decode and sink failures are
// counted and never stop the drain.
func (in *Input) EmitTuples(ctx context.Context) error {
	consumer := in.consumer
	if consumer == nil {
		return nil
	}

	n := min(int(in.blastSize.Load()), consumer.Size())
	if n == 0 {
		if in.metrics != nil {
			in.metrics.RecordDrain(in.adapter.Name(), 0, 0, consumer.Utilization(), 0)
		}
		return nil
	}

	start := time.Now()
	window := stream.WindowID(in.window.Load())

	ctx, span := in.tracer.Start(ctx, "input.drain",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("inlet.adapter", in.adapter.Name()),
			attribute.Int64("inlet.window", int64(window)),
			attribute.Int("inlet.blast_size", n),
		))
	defer span.End()

	var drained, emitted, failures int
	for i := 0; i < n; i++ {
		msg, ok := consumer.Poll()
		if !ok {
			break
		}
		drained++

		if rsc := tracing.RemoteSpanContext(msg.Headers); rsc.IsValid() {
			span.AddLink(trace.Link{SpanContext: rsc})
		}

		rec, err := in.decoder.Decode(msg)
		if err != nil {
			failures++
			in.decodeFailed(ctx, msg, window, err)
			continue
		}

		rec.ID = uuid.NewString()
		rec.Window = window
		rec.Headers = tracing.InjectTraceContext(ctx, rec.Headers)

		in.emit(ctx, rec)
		emitted++
	}

	remaining := consumer.Size()
	span.SetAttributes(
		attribute.Int("inlet.drained", drained),
		attribute.Int("inlet.emitted", emitted),
		attribute.Int("inlet.decode_failures", failures),
		attribute.Int("inlet.remaining", remaining),
	)
	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d items failed to decode", failures))
	}

	if in.metrics != nil {
		in.metrics.RecordDrain(in.adapter.Name(), drained, remaining, consumer.Utilization(), time.Since(start).Seconds())
	}
	return nil
}

func (in *Input) emit(ctx context.Context, rec *stream.Record) {
	in.emitted.Inc()
	for _, s := range in.sinks {
		if err := s.Sink.Write(ctx, rec); err != nil {
			in.sinkFailed(s.Name)
			in.logger.Debug("Sink write failed",
				zap.String("sink", s.Name),
				zap.String("record", rec.ID),
				zap.Error(err))
			continue
		}
		if in.metrics != nil {
			in.metrics.ItemsEmitted.WithLabelValues(in.adapter.Name(), s.Name).Inc()
		}
	}
}

func (in *Input) sinkFailed(name string) {
	in.sinkErrors.Inc()
	if in.metrics != nil {
		in.metrics.ErrorMetrics.SinkErrors.WithLabelValues(in.adapter.Name(), name).Inc()
	}
}

func (in *Input) decodeFailed(ctx context.Context, msg *stream.Message, window stream.WindowID, err error) {
	total := in.decodeFailures.Inc()
	if in.metrics != nil {
		in.metrics.ErrorMetrics.DecodeFailures.WithLabelValues(in.adapter.Name(), in.decoder.Format()).Inc()
	}

	if total == 1 || total%decodeLogInterval == 0 {
		tracing.ContextLogger(ctx, in.logger).Warn("Dropping undecodable item",
			zap.String("format", in.decoder.Format()),
			zap.Uint64("decode_failures_total", total),
			zap.Error(err))
	}

	failed := &inerrors.FailedMessage{
		Key:             msg.Key,
		Payload:         msg.Payload,
		Headers:         msg.Headers,
		Source:          msg.Source,
		ReceivedAt:      msg.ReceivedAt,
		Window:          uint64(window),
		FailureReason:   err.Error(),
		FailureCategory: inerrors.CategoryOf(err).String(),
		FailureTime:     time.Now(),
	}
	if dlqErr := in.dlq.Write(ctx, failed); dlqErr != nil {
		in.logger.Debug("Failed to write to dead letter queue", zap.Error(dlqErr))
	}
}
