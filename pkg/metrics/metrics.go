package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds all Prometheus metrics for the ingestion bridge
type Collector struct {
	// Ingestion metrics
	ItemsRead       *prometheus.CounterVec
	ItemsDropped    *prometheus.CounterVec
	BufferOccupancy *prometheus.GaugeVec
	BufferUtil      *prometheus.GaugeVec

	// Drain metrics
	ItemsEmitted   *prometheus.CounterVec
	DrainBatchSize *prometheus.HistogramVec
	DrainLatency   *prometheus.HistogramVec

	// Window metrics
	TicksProcessed   prometheus.Counter
	WindowsBegun     prometheus.Counter
	WindowsCompleted prometheus.Counter
	CurrentWindow    prometheus.Gauge

	// Error metrics
	ErrorMetrics *ErrorMetrics

	// Custom metrics registry for user applications
	customMetrics map[string]prometheus.Collector
	customMu      sync.RWMutex

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a new Prometheus metrics collector with its own registry
func NewCollector(logger *zap.Logger) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry:      registry,
		logger:        logger,
		customMetrics: make(map[string]prometheus.Collector),
	}

	c.initMetrics()
	c.registerMetrics()

	c.ErrorMetrics = NewErrorMetrics(registry)

	return c
}

// initMetrics initializes all Prometheus metrics
func (c *Collector) initMetrics() {
	c.ItemsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_items_read_total",
			Help: "Total number of items read from the external source",
		},
		[]string{"adapter"},
	)

	c.ItemsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_items_dropped_total",
			Help: "Total number of items rejected because the buffer was full",
		},
		[]string{"adapter"},
	)

	c.BufferOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inlet_buffer_occupancy_items",
			Help: "Number of items waiting in the buffer after the last drain",
		},
		[]string{"adapter"},
	)

	c.BufferUtil = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inlet_buffer_utilization_ratio",
			Help: "Buffer occupancy as a fraction of capacity (0.0 to 1.0)",
		},
		[]string{"adapter"},
	)

	c.ItemsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inlet_items_emitted_total",
			Help: "Total number of records written to a sink",
		},
		[]string{"adapter", "sink"},
	)

	c.DrainBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inlet_drain_batch_items",
			Help:    "Items removed from the buffer per drain call",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000, 5000, 10000},
		},
		[]string{"adapter"},
	)

	c.DrainLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inlet_drain_latency_seconds",
			Help:    "Time spent in one drain call",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"adapter"},
	)

	c.TicksProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inlet_scheduler_ticks_total",
			Help: "Total number of clock ticks processed by the scheduler",
		},
	)

	c.WindowsBegun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inlet_windows_begun_total",
			Help: "Total number of windows opened",
		},
	)

	c.WindowsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inlet_windows_completed_total",
			Help: "Total number of windows closed",
		},
	)

	c.CurrentWindow = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inlet_current_window_id",
			Help: "Id of the window currently open",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (c *Collector) registerMetrics() {
	c.registry.MustRegister(c.ItemsRead)
	c.registry.MustRegister(c.ItemsDropped)
	c.registry.MustRegister(c.BufferOccupancy)
	c.registry.MustRegister(c.BufferUtil)

	c.registry.MustRegister(c.ItemsEmitted)
	c.registry.MustRegister(c.DrainBatchSize)
	c.registry.MustRegister(c.DrainLatency)

	c.registry.MustRegister(c.TicksProcessed)
	c.registry.MustRegister(c.WindowsBegun)
	c.registry.MustRegister(c.WindowsCompleted)
	c.registry.MustRegister(c.CurrentWindow)

	c.registry.MustRegister(collectors.NewGoCollector())
	c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// RecordDrain records the outcome of a single drain call
func (c *Collector) RecordDrain(adapter string, drained, remaining int, utilization, seconds float64) {
	c.DrainBatchSize.WithLabelValues(adapter).Observe(float64(drained))
	c.DrainLatency.WithLabelValues(adapter).Observe(seconds)
	c.BufferOccupancy.WithLabelValues(adapter).Set(float64(remaining))
	c.BufferUtil.WithLabelValues(adapter).Set(utilization)
}

// RegisterCustomMetric allows applications to register custom metrics
func (c *Collector) RegisterCustomMetric(name string, collector prometheus.Collector) error {
	c.customMu.Lock()
	defer c.customMu.Unlock()

	if _, exists := c.customMetrics[name]; exists {
		return prometheus.AlreadyRegisteredError{}
	}

	if err := c.registry.Register(collector); err != nil {
		return err
	}

	c.customMetrics[name] = collector
	c.logger.Info("Registered custom metric", zap.String("name", name))
	return nil
}

// Registry exposes the underlying registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server creates an HTTP server for metrics exposition
type Server struct {
	collector *Collector
	server    *http.Server
	logger    *zap.Logger
}

// NewServer creates a new metrics HTTP server. path defaults to /metrics.
func NewServer(addr, path string, collector *Collector, logger *zap.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, collector.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		collector: collector,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Handler returns the server's mux
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics HTTP server in the background
func (s *Server) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("Stopping metrics server")
	return s.server.Close()
}
