package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveDelivery("send_email", ResultSent, 10*time.Millisecond)
	m.ObserveDelivery("send_email", ResultSent, 20*time.Millisecond)
	m.ObserveDelivery("send_email", ResultFailed, time.Millisecond)
	m.PersistFailed("send_email_to_group")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("send_email", ResultSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("send_email", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues("send_email_to_group")))
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.PersistFailed("send_email")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.PersistFailures.WithLabelValues("send_email")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDelivery("send_email", ResultSent, time.Second)
	m.PersistFailed("send_email")
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
