package window

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/clock"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// recorder logs every event it sees into a shared journal
type recorder struct {
	name    string
	journal *[]string
	fail    string // phase to fail: begin, end or emit
}

func (r *recorder) BeginWindow(_ context.Context, w stream.Window) error {
	*r.journal = append(*r.journal, fmt.Sprintf("%s:begin:%d", r.name, w.ID))
	if r.fail == "begin" {
		return errors.New("begin refused")
	}
	return nil
}

func (r *recorder) EndWindow(_ context.Context, w stream.Window) error {
	*r.journal = append(*r.journal, fmt.Sprintf("%s:end:%d", r.name, w.ID))
	if r.fail == "end" {
		return errors.New("end refused")
	}
	return nil
}

// emitter additionally receives per-tick emit calls
type emitter struct {
	recorder
}

func (e *emitter) EmitTuples(context.Context) error {
	*e.journal = append(*e.journal, e.name+":emit")
	if e.fail == "emit" {
		return errors.New("emit refused")
	}
	return nil
}

func newTestScheduler(t *testing.T, k int, opts ...Option) (*Scheduler, *clock.ManualClock) {
	t.Helper()
	tick := 100 * time.Millisecond
	clk := clock.NewManualClock(epoch, tick)
	s, err := NewScheduler(Config{
		FirstWindow: epoch,
		WindowWidth: time.Duration(k) * tick,
		TickWidth:   tick,
	}, clk, zap.NewNop(), opts...)
	require.NoError(t, err)
	return s, clk
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"equal widths", Config{WindowWidth: time.Second, TickWidth: time.Second}, false},
		{"five ticks", Config{WindowWidth: 500 * time.Millisecond, TickWidth: 100 * time.Millisecond}, false},
		{"not a multiple", Config{WindowWidth: 700 * time.Millisecond, TickWidth: 200 * time.Millisecond}, true},
		{"zero tick", Config{WindowWidth: time.Second}, true},
		{"zero window", Config{TickWidth: time.Second}, true},
		{"tick wider than window", Config{WindowWidth: time.Second, TickWidth: 2 * time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, inerrors.IsFatal(err), "window config errors must be fatal")
		})
	}
}

func TestConfig_Geometry(t *testing.T) {
	cfg := Config{FirstWindow: epoch, WindowWidth: 500 * time.Millisecond, TickWidth: 100 * time.Millisecond}

	assert.Equal(t, uint64(5), cfg.TicksPerWindow())
	assert.Equal(t, uint64(10), cfg.AlignTick(12))
	assert.Equal(t, uint64(12), cfg.TickAt(epoch.Add(1250*time.Millisecond)))
	assert.Equal(t, uint64(0), cfg.TickAt(epoch.Add(-time.Hour)))

	w := cfg.Bounds(3, 15)
	assert.Equal(t, stream.WindowID(3), w.ID)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), w.Start)
	assert.Equal(t, epoch.Add(2*time.Second), w.End)
	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	clk := clock.NewManualClock(epoch, time.Second)
	_, err := NewScheduler(Config{WindowWidth: 3 * time.Second, TickWidth: 2 * time.Second}, clk, nil)
	require.Error(t, err)
	assert.True(t, inerrors.IsFatal(err))
}

func TestScheduler_TwelveTicksTwoWindows(t *testing.T) {
	s, clk := newTestScheduler(t, 5)

	var journal []string
	require.NoError(t, s.Register("a", &recorder{name: "a", journal: &journal}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clk.Advance(12)

	assert.Equal(t, []string{
		"a:begin:0",
		"a:end:0", "a:begin:1",
		"a:end:1", "a:begin:2",
	}, journal)

	stats := s.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(12), stats.Ticks)
	assert.Equal(t, uint64(2), stats.CompletedWindows)
	assert.Equal(t, stream.WindowID(2), stats.CurrentWindow)

	// one more tick still leaves window 2 open
	clk.Advance(1)
	assert.Equal(t, uint64(2), s.Stats().CompletedWindows)

	current := s.Current()
	assert.Equal(t, epoch.Add(time.Second), current.Start)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), current.End)
}

func TestScheduler_EmitsInsideOpenWindow(t *testing.T) {
	s, clk := newTestScheduler(t, 2)

	var journal []string
	require.NoError(t, s.Register("src", &emitter{recorder{name: "src", journal: &journal}}))
	require.NoError(t, s.Register("sink", &recorder{name: "sink", journal: &journal}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clk.Advance(4)

	assert.Equal(t, []string{
		"src:begin:0", "sink:begin:0",
		"src:emit",
		"src:emit", "src:end:0", "sink:end:0", "src:begin:1", "sink:begin:1",
		"src:emit",
		"src:emit", "src:end:1", "sink:end:1", "src:begin:2", "sink:begin:2",
	}, journal)

	// every emit happens between a begin and its end on the emitting stage
	open := false
	for _, e := range journal {
		switch {
		case len(e) > 10 && e[:10] == "src:begin:":
			open = true
		case len(e) > 8 && e[:8] == "src:end:":
			open = false
		case e == "src:emit":
			assert.True(t, open, "emit outside an open window")
		}
	}
}

func TestScheduler_ReplaysSkippedTicks(t *testing.T) {
	s, clk := newTestScheduler(t, 5)

	var journal []string
	require.NoError(t, s.Register("a", &emitter{recorder{name: "a", journal: &journal}}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clk.AdvanceTo(11)

	stats := s.Stats()
	assert.Equal(t, uint64(11), stats.Ticks)
	assert.Equal(t, uint64(2), stats.CompletedWindows)

	emits := 0
	for _, e := range journal {
		if e == "a:emit" {
			emits++
		}
	}
	assert.Equal(t, 11, emits)
}

func TestScheduler_AlignsToBaseTick(t *testing.T) {
	s, clk := newTestScheduler(t, 5)
	clk.AdvanceTo(7) // nobody is listening yet

	var journal []string
	require.NoError(t, s.Register("a", &recorder{name: "a", journal: &journal}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	w := s.Current()
	assert.Equal(t, stream.WindowID(0), w.ID)
	assert.Equal(t, epoch.Add(500*time.Millisecond), w.Start)

	// tick 10 closes the window that started at tick 5
	clk.Advance(3)
	assert.Equal(t, []string{"a:begin:0", "a:end:0", "a:begin:1"}, journal)
}

func TestScheduler_StageFailureDoesNotStopFanOut(t *testing.T) {
	collector := metrics.NewCollector(zap.NewNop())
	core, logs := observer.New(zap.WarnLevel)

	tick := 100 * time.Millisecond
	clk := clock.NewManualClock(epoch, tick)
	s, err := NewScheduler(Config{FirstWindow: epoch, WindowWidth: tick, TickWidth: tick},
		clk, zap.New(core), WithMetrics(collector))
	require.NoError(t, err)

	var journal []string
	require.NoError(t, s.Register("broken", &emitter{recorder{name: "broken", journal: &journal, fail: "begin"}}))
	require.NoError(t, s.Register("healthy", &recorder{name: "healthy", journal: &journal}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clk.Advance(2)

	assert.Equal(t, []string{
		"broken:begin:0", "healthy:begin:0",
		"broken:emit", "broken:end:0", "healthy:end:0", "broken:begin:1", "healthy:begin:1",
		"broken:emit", "broken:end:1", "healthy:end:1", "broken:begin:2", "healthy:begin:2",
	}, journal)

	assert.Equal(t, uint64(3), s.Stats().StageErrors)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.ErrorMetrics.StageErrors.WithLabelValues("broken", "begin")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.WindowsCompleted))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.WindowsBegun))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.TicksProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.CurrentWindow))
	assert.Equal(t, 3, logs.FilterMessage("Window delivery failed for some stages").Len())
}

func TestScheduler_StopAbandonsOpenWindow(t *testing.T) {
	s, clk := newTestScheduler(t, 5)

	var journal []string
	require.NoError(t, s.Register("a", &recorder{name: "a", journal: &journal}))
	require.NoError(t, s.Start(context.Background()))

	clk.Advance(3)
	s.Stop()
	s.Stop()
	clk.Advance(10)

	assert.Equal(t, []string{"a:begin:0"}, journal)
	assert.False(t, s.Stats().Running)
}

func TestScheduler_Registration(t *testing.T) {
	s, _ := newTestScheduler(t, 1)

	var journal []string
	require.NoError(t, s.Register("a", &recorder{name: "a", journal: &journal}))
	assert.ErrorIs(t, s.Register("a", &recorder{name: "a", journal: &journal}), ErrDuplicateStage)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.ErrorIs(t, s.Register("b", &recorder{name: "b", journal: &journal}), ErrSchedulerRunning)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerRunning)
}

// countingStage is safe to read from the test goroutine while a wall clock drives it
type countingStage struct {
	ends chan stream.WindowID
}

func (c *countingStage) BeginWindow(context.Context, stream.Window) error { return nil }

func (c *countingStage) EndWindow(_ context.Context, w stream.Window) error {
	select {
	case c.ends <- w.ID:
	default:
	}
	return nil
}

func TestScheduler_WallClock(t *testing.T) {
	tick := 20 * time.Millisecond
	first := time.Now().Add(-time.Second).Truncate(tick)

	clk, err := clock.NewWallClock(first, tick, 2)
	require.NoError(t, err)

	s, err := NewScheduler(Config{FirstWindow: first, WindowWidth: 2 * tick, TickWidth: tick}, clk, zap.NewNop())
	require.NoError(t, err)

	stage := &countingStage{ends: make(chan stream.WindowID, 16)}
	require.NoError(t, s.Register("count", stage))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	for want := stream.WindowID(0); want < 2; want++ {
		select {
		case got := <-stage.ends:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("window %d never closed", want)
		}
	}
}
