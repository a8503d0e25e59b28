package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	qerrors "quiz-session-backend/internal/errors"
)

const namespace = "quiz"

type Metrics struct {
	registry *prometheus.Registry

	Broadcasts    *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Submissions   *prometheus.CounterVec
	TimeLeftDrift prometheus.Counter
	Subscribers   prometheus.Gauge
	ActiveTimers  prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Messages fanned out on session channels.",
		}, []string{"kind", "type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Messages not delivered to a subscriber.",
		}, []string{"reason"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Host-issued session transitions.",
		}, []string{"action", "result"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "submissions_total",
			Help:      "Answer submissions by question type.",
		}, []string{"type", "result"}),
		TimeLeftDrift: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_left_drift_total",
			Help:      "Submissions whose reported time_left exceeds the server estimate.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Open session channel subscriptions.",
		}),
		ActiveTimers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_countdowns",
			Help:      "Question countdowns currently armed.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case qerrors.IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
