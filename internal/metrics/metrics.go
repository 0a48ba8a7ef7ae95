package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results recorded on mailmcp_deliveries_total.
const (
	ResultSent     = "sent"
	ResultDegraded = "degraded"
	ResultFailed   = "failed"
)

// Metrics holds the dispatch and HTTP collectors. A nil *Metrics records
// nothing, so callers never need to check.
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	PersistFailures  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg (or the default
// registerer if nil). Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmcp_deliveries_total",
			Help: "Send workflows by tool and result",
		}, []string{"tool", "result"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmcp_persist_failures_total",
			Help: "History writes that failed after a successful delivery",
		}, []string{"tool"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailmcp_delivery_duration_seconds",
			Help:    "Time spent handing messages to the SMTP transport",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmcp_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailmcp_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	var err error
	m.Deliveries, err = register(reg, m.Deliveries)
	if err != nil {
		return nil, err
	}
	m.PersistFailures, err = register(reg, m.PersistFailures)
	if err != nil {
		return nil, err
	}
	m.DeliveryDuration, err = register(reg, m.DeliveryDuration)
	if err != nil {
		return nil, err
	}
	m.HTTPRequests, err = register(reg, m.HTTPRequests)
	if err != nil {
		return nil, err
	}
	m.HTTPDuration, err = register(reg, m.HTTPDuration)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) ObserveDelivery(tool, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(tool, result).Inc()
	if result != ResultFailed {
		m.DeliveryDuration.WithLabelValues(tool).Observe(took.Seconds())
	}
}

func (m *Metrics) PersistFailed(tool string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(tool).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
