package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ErrorMetrics counts the non-fatal failures of the ingestion path
type ErrorMetrics struct {
	SourceErrors   *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	StageErrors    *prometheus.CounterVec

	// Adapter open retries
	OpenAttempts *prometheus.CounterVec
	OpenFailures *prometheus.CounterVec

	// Sink circuit breakers
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
}

// NewErrorMetrics creates the error metrics and registers them
func NewErrorMetrics(registry *prometheus.Registry) *ErrorMetrics {
	em := &ErrorMetrics{}
	em.initMetrics()
	em.registerMetrics(registry)
	return em
}

func (em *ErrorMetrics) initMetrics() {
	em.SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_source_errors_total",
			Help: "Read failures that stopped an ingestion worker",
		},
		[]string{"adapter"},
	)

	em.DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_decode_failures_total",
			Help: "Drained items dropped because they could not be decoded",
		},
		[]string{"adapter", "format"},
	)

	em.SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_sink_errors_total",
			Help: "Failed writes or window notifications per sink",
		},
		[]string{"adapter", "sink"},
	)

	em.StageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_stage_errors_total",
			Help: "Errors returned by stages during window delivery",
		},
		[]string{"stage", "phase"},
	)

	em.OpenAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_adapter_open_attempts_total",
			Help: "Attempts to open an external source handle",
		},
		[]string{"adapter"},
	)

	em.OpenFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_adapter_open_failures_total",
			Help: "Open attempts that returned an error",
		},
		[]string{"adapter", "error_category"},
	)

	em.BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inlet_sink_breaker_state",
			Help: "Sink circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"sink"},
	)

	em.BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_sink_breaker_transitions_total",
			Help: "Sink circuit breaker state changes",
		},
		[]string{"sink", "from", "to"},
	)
}

func (em *ErrorMetrics) registerMetrics(registry *prometheus.Registry) {
	registry.MustRegister(em.SourceErrors)
	registry.MustRegister(em.DecodeFailures)
	registry.MustRegister(em.SinkErrors)
	registry.MustRegister(em.StageErrors)
	registry.MustRegister(em.OpenAttempts)
	registry.MustRegister(em.OpenFailures)
	registry.MustRegister(em.BreakerState)
	registry.MustRegister(em.BreakerTransitions)
}
