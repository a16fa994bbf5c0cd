package dispatch

import (
	"time"

	"basil/pkg/plugin"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	Dispatched      *prometheus.CounterVec
	Executions      *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Dispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basil_dispatched_total",
				Help: "Inbound events dispatched, by channel and source",
			},
			[]string{"channel", "source"},
		),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basil_handler_executions_total",
				Help: "Handler executions by handler kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "basil_handler_duration_seconds",
				Help:    "Duration of handler actions in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) dispatched(channel string, source string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(channel, source).Inc()
}

func (m *Metrics) executed(kind plugin.Kind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	outcome := outcomeOK
	if err != nil {
		outcome = outcomeFailed
	}
	m.Executions.WithLabelValues(string(kind), outcome).Inc()
	m.HandlerDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}
