package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg).(*PrometheusRecorder)

	r.IncCounter(OrdersCreated, map[string]string{LabelChain: "rococo", LabelAction: "DMN_REG"})
	r.IncCounter(OrdersCreated, map[string]string{LabelChain: "rococo", LabelAction: "DMN_REG"})
	r.IncCounter(ParserSkipped, nil)
	r.ObserveLatency("register_domain", 150*time.Millisecond, map[string]string{LabelChain: "soonsocial"})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.counters.WithLabelValues(OrdersCreated, "rococo", "DMN_REG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counters.WithLabelValues(ParserSkipped, "", "")))

	n, err := testutil.GatherAndCount(reg, "remarkpay_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.IncCounter("x", nil)
		Since(r, "y", time.Now(), nil)
	})
}
