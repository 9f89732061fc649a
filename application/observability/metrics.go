// Package observability records Prometheus metrics for servers and routes.
package observability

import (
	"hermes/application/http/actor/server"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// DurationBuckets spans 1ms to 10s.
var DurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

type Metrics struct {
	connsActive  prometheus.Gauge
	connsTotal   prometheus.Counter
	acceptErrors prometheus.Counter

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	clock clock.Clock
}

var _ server.Metrics = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them to reg.
func NewMetrics(reg prometheus.Registerer, clock clock.Clock) (*Metrics, error) {
	m := &Metrics{
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hermes_connections_active",
			Help: "Connections being served",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_connections_total",
			Help: "Accepted connections",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_accept_errors_total",
			Help: "Failed accepts",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_requests_total",
				Help: "Handled requests",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_request_duration_seconds",
				Help:    "Time spent in handlers",
				Buckets: DurationBuckets,
			},
			[]string{"method"},
		),
		clock: clock,
	}

	for _, c := range []prometheus.Collector{m.connsActive, m.connsTotal, m.acceptErrors, m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering collector")
		}
	}

	return m, nil
}

func (m *Metrics) ConnOpened() {
	m.connsActive.Inc()
	m.connsTotal.Inc()
}

func (m *Metrics) ConnClosed() { m.connsActive.Dec() }

func (m *Metrics) AcceptFailed() { m.acceptErrors.Inc() }
