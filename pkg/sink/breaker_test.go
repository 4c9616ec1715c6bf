package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// flakySink fails every call while err is set
type flakySink struct {
	CollectorSink
	err    error
	writes int
}

func (f *flakySink) Write(ctx context.Context, r *stream.Record) error {
	f.writes++
	if f.err != nil {
		return f.err
	}
	return f.CollectorSink.Write(ctx, r)
}

func TestBreakerSink_OpensAfterFailures(t *testing.T) {
	collector := metrics.NewCollector(zap.NewNop())
	inner := &flakySink{err: errors.New("broker down")}

	b := NewBreakerSink("kafka", inner, config.BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	}, collector, zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.EqualError(t, b.Write(context.Background(), record(i)), "broker down")
	}
	assert.Equal(t, inerrors.StateOpen, b.State())

	var open *inerrors.ErrCircuitOpen
	require.ErrorAs(t, b.Write(context.Background(), record(3)), &open)
	assert.Equal(t, 3, inner.writes, "open circuit must not reach the sink")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ErrorMetrics.BreakerTransitions.WithLabelValues("kafka", "closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ErrorMetrics.BreakerState.WithLabelValues("kafka")))

	// flush and close are never blocked
	require.NoError(t, b.Flush(context.Background()))
	require.NoError(t, b.Close())
	assert.True(t, inner.Closed())
}

func TestBreakerSink_ForwardsWindows(t *testing.T) {
	inner := NewCollectorSink()
	b := NewBreakerSink("c", inner, config.BreakerConfig{}, nil, nil)

	w := stream.Window{ID: 4}
	require.NoError(t, b.BeginWindow(context.Background(), w))
	require.NoError(t, b.Write(context.Background(), record(1)))
	require.NoError(t, b.EndWindow(context.Background(), w))

	begun, ended := inner.Windows()
	assert.Equal(t, []stream.WindowID{4}, begun)
	assert.Equal(t, []stream.WindowID{4}, ended)
	assert.Len(t, inner.Records(), 1)
	assert.Same(t, inner, b.Unwrap())
}

func TestWrapBreakers(t *testing.T) {
	sinks := []Named{{Name: "a", Sink: NewCollectorSink()}, {Name: "b", Sink: NewCollectorSink()}}

	assert.Equal(t, sinks, WrapBreakers(sinks, config.BreakerConfig{Enabled: false}, nil, nil))

	wrapped := WrapBreakers(sinks, config.BreakerConfig{Enabled: true}, nil, nil)
	require.Len(t, wrapped, 2)
	for i, s := range wrapped {
		assert.Equal(t, sinks[i].Name, s.Name)
		assert.IsType(t, &BreakerSink{}, s.Sink)
	}
}
