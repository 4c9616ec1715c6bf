package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordDrain(t *testing.T) {
	c := NewCollector(zap.NewNop())

	c.RecordDrain("nats-in", 10, 25, 0.25, 0.001)

	assert.Equal(t, 25.0, testutil.ToFloat64(c.BufferOccupancy.WithLabelValues("nats-in")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.BufferUtil.WithLabelValues("nats-in")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.DrainBatchSize))
}

func TestErrorMetricsRegistered(t *testing.T) {
	c := NewCollector(zap.NewNop())

	c.ErrorMetrics.DecodeFailures.WithLabelValues("socket", "json").Add(3)
	c.ErrorMetrics.StageErrors.WithLabelValues("input", "begin").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.ErrorMetrics.DecodeFailures.WithLabelValues("socket", "json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorMetrics.StageErrors.WithLabelValues("input", "begin")))
}

func TestRegisterCustomMetric(t *testing.T) {
	c := NewCollector(zap.NewNop())
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "inlet_custom_total", Help: "custom"})

	require.NoError(t, c.RegisterCustomMetric("custom", counter))
	assert.Error(t, c.RegisterCustomMetric("custom", counter))
}

func TestServerHandler(t *testing.T) {
	c := NewCollector(zap.NewNop())
	c.ItemsRead.WithLabelValues("redis-in").Add(7)

	srv := NewServer(":0", "", c, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `inlet_items_read_total{adapter="redis-in"} 7`))

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
