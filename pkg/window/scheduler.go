package window

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/clock"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

var (
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrDuplicateStage   = errors.New("stage already registered")
)

// Stage receives window boundaries. Calls for one scheduler never overlap,
// and a stage must not call back into the scheduler.
type Stage interface {
	BeginWindow(ctx context.Context, w stream.Window) error
	EndWindow(ctx context.Context, w stream.Window) error
}

// Emitter is a stage that produces data inside the open window
type Emitter interface {
	EmitTuples(ctx context.Context) error
}

// Stats is a snapshot of scheduler progress
type Stats struct {
	Running          bool
	Ticks            uint64
	CurrentWindow    stream.WindowID
	CompletedWindows uint64
	StageErrors      uint64
}

type namedStage struct {
	name  string
	stage Stage
}

// Scheduler turns clock ticks into begin/end window events. Every tick
// first lets emitters run inside the open window; a tick that lands on a
// window boundary then closes that window and opens the next one.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	stages []namedStage
	ctx    context.Context

	running         bool
	ticksPerWindow  uint64
	lastTick        uint64
	windowStartTick uint64
	current         stream.Window
	stats           Stats
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics reports ticks, windows and stage failures to collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = collector
	}
}

// NewScheduler validates cfg and builds a scheduler driven by clk
func NewScheduler(cfg Config, clk clock.Clock, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cfg:            cfg,
		clock:          clk,
		logger:         logger,
		ticksPerWindow: cfg.TicksPerWindow(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds a stage. Stages receive events in registration order.
func (s *Scheduler) Register(name string, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	for _, ns := range s.stages {
		if ns.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
		}
	}
	s.stages = append(s.stages, namedStage{name: name, stage: stage})
	return nil
}

// Start opens window 0 on every stage and begins consuming ticks
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}

	// The lock is held across clock.Start so that a tick racing with startup
	// waits until window 0 is open.
	base, err := s.clock.Start(ctx, s.onTick)
	if err != nil {
		return fmt.Errorf("failed to start clock: %w", err)
	}

	s.ctx = ctx
	s.running = true
	s.lastTick = base
	s.windowStartTick = s.cfg.AlignTick(base)
	s.current = s.cfg.Bounds(0, s.windowStartTick)
	s.stats = Stats{Running: true}

	s.logger.Info("Window scheduler started",
		zap.Stringer("config", s.cfg),
		zap.Uint64("base_tick", base),
		zap.Uint64("ticks_per_window", s.ticksPerWindow),
		zap.Int("stages", len(s.stages)))

	s.beginWindow()
	return nil
}

// Stop halts tick processing. The open window is abandoned without an end event.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stats.Running = false
	open := s.current.ID
	s.mu.Unlock()

	// Outside the lock: a wall clock may be blocked delivering a tick to onTick.
	s.clock.Stop()

	s.logger.Info("Window scheduler stopped", zap.Uint64("open_window", uint64(open)))
}

// Stats returns a snapshot of scheduler progress
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Current returns the open window
func (s *Scheduler) Current() stream.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) onTick(tick clock.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || tick.Number <= s.lastTick {
		return
	}

	if gap := tick.Number - s.lastTick; gap > 1 {
		s.logger.Debug("Replaying skipped ticks",
			zap.Uint64("from", s.lastTick+1),
			zap.Uint64("to", tick.Number))
	}

	for n := s.lastTick + 1; n <= tick.Number; n++ {
		s.processTick(n)
	}
}

// processTick must be called with mu held
func (s *Scheduler) processTick(n uint64) {
	s.lastTick = n
	s.stats.Ticks++
	if s.metrics != nil {
		s.metrics.TicksProcessed.Inc()
	}

	s.emit()

	if n == s.windowStartTick+s.ticksPerWindow {
		s.endWindow()
		s.windowStartTick = n
		s.current = s.cfg.Bounds(s.current.ID+1, n)
		s.beginWindow()
	}
}

func (s *Scheduler) beginWindow() {
	w := s.current
	var errs error
	for _, ns := range s.stages {
		if err := ns.stage.BeginWindow(s.ctx, w); err != nil {
			errs = multierr.Append(errs, s.stageFailed(ns.name, "begin", err))
		}
	}

	s.stats.CurrentWindow = w.ID
	if s.metrics != nil {
		s.metrics.WindowsBegun.Inc()
		s.metrics.CurrentWindow.Set(float64(w.ID))
	}
	s.report(w, "begin", errs)
}

func (s *Scheduler) endWindow() {
	w := s.current
	var errs error
	for _, ns := range s.stages {
		if err := ns.stage.EndWindow(s.ctx, w); err != nil {
			errs = multierr.Append(errs, s.stageFailed(ns.name, "end", err))
		}
	}

	s.stats.CompletedWindows++
	if s.metrics != nil {
		s.metrics.WindowsCompleted.Inc()
	}
	s.report(w, "end", errs)
}

func (s *Scheduler) emit() {
	var errs error
	for _, ns := range s.stages {
		emitter, ok := ns.stage.(Emitter)
		if !ok {
			continue
		}
		if err := emitter.EmitTuples(s.ctx); err != nil {
			errs = multierr.Append(errs, s.stageFailed(ns.name, "emit", err))
		}
	}
	s.report(s.current, "emit", errs)
}

func (s *Scheduler) stageFailed(name, phase string, err error) error {
	s.stats.StageErrors++
	if s.metrics != nil {
		s.metrics.ErrorMetrics.StageErrors.WithLabelValues(name, phase).Inc()
	}
	return fmt.Errorf("stage %s: %w", name, err)
}

func (s *Scheduler) report(w stream.Window, phase string, errs error) {
	if errs == nil {
		return
	}
	s.logger.Warn("Window delivery failed for some stages",
		zap.Uint64("window", uint64(w.ID)),
		zap.String("phase", phase),
		zap.Int("failures", len(multierr.Errors(errs))),
		zap.Error(errs))
}
