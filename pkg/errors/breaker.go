package errors

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the state of a circuit breaker
type CircuitState int

const (
	// StateClosed lets every call through
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the open timeout has passed
	StateOpen
	// StateHalfOpen lets a single trial call through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// Consecutive failures that open the circuit
	FailureThreshold int
	// Successful trial calls needed in half-open before closing again
	SuccessThreshold int
	// How long the circuit stays open before a trial call is allowed
	OpenTimeout time.Duration
	// OnStateChange runs synchronously on the calling goroutine, after the
	// breaker lock is released
	OnStateChange func(name string, from, to CircuitState)
}

// ErrCircuitOpen is returned without calling the operation while the circuit is open
type ErrCircuitOpen struct {
	Name     string
	OpenedAt time.Time
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit %s is open since %s", e.Name, e.OpenedAt.Format(time.RFC3339))
}

// CircuitBreakerStats is a snapshot of breaker counters
type CircuitBreakerStats struct {
	State    CircuitState
	Calls    uint64
	Failures uint64
	Rejected uint64
	OpenedAt time.Time
}

// CircuitBreaker stops calling a failing dependency for a while. It is not
// meant for highly concurrent use: half-open allows a single trial call.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	probing     bool
	openedAt    time.Time
	calls       uint64
	totalFailed uint64
	rejected    uint64
}

// NewCircuitBreaker creates a closed breaker. Non-positive thresholds
// default to 5 failures and 1 success; the open timeout to 30s.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs op unless the circuit is open
func (cb *CircuitBreaker) Execute(op func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := op()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			cb.rejected++
			err := &ErrCircuitOpen{Name: cb.cfg.Name, OpenedAt: cb.openedAt}
			cb.mu.Unlock()
			return err
		}
		notify := cb.transition(StateHalfOpen)
		cb.probing = true
		cb.calls++
		cb.mu.Unlock()
		notify()
		return nil

	case StateHalfOpen:
		if cb.probing {
			cb.rejected++
			cb.mu.Unlock()
			return &ErrCircuitOpen{Name: cb.cfg.Name, OpenedAt: cb.openedAt}
		}
		cb.probing = true
	}

	cb.calls++
	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	notify := func() {}

	if err != nil {
		cb.totalFailed++
		switch cb.state {
		case StateClosed:
			cb.failures++
			if cb.failures >= cb.cfg.FailureThreshold {
				notify = cb.open()
			}
		case StateHalfOpen:
			notify = cb.open()
		}
	} else {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.probing = false
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.failures, cb.successes = 0, 0
				notify = cb.transition(StateClosed)
			}
		}
	}

	cb.mu.Unlock()
	notify()
}

// open must be called with mu held
func (cb *CircuitBreaker) open() func() {
	cb.openedAt = cb.now()
	cb.probing = false
	cb.successes = 0
	return cb.transition(StateOpen)
}

// transition must be called with mu held. The returned func fires the
// callback and must be called after unlocking.
func (cb *CircuitBreaker) transition(to CircuitState) func() {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange == nil || from == to {
		return func() {}
	}
	return func() { cb.cfg.OnStateChange(cb.cfg.Name, from, to) }
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:    cb.state,
		Calls:    cb.calls,
		Failures: cb.totalFailed,
		Rejected: cb.rejected,
		OpenedAt: cb.openedAt,
	}
}
