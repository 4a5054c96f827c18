package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authclient"

// Metrics holds all Prometheus metrics for the session client
type Metrics struct {
	// Session metrics
	SessionTransitions *prometheus.CounterVec
	ForcedLogouts      prometheus.Counter
	LoginFailures      *prometheus.CounterVec

	// Realtime connection metrics
	RealtimeState      *prometheus.GaugeVec
	RealtimeReconnects prometheus.Counter
}

// NewMetrics registers every collector with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by source and target status",
		}, []string{"from", "to"}),
		ForcedLogouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logouts_total",
			Help:      "Logouts forced by a realtime channel rejection",
		}),
		LoginFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Failed login, register and provider login attempts by error kind",
		}, []string{"kind"}),
		RealtimeState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_state",
			Help:      "1 for the realtime connection's current state, 0 for the others",
		}, []string{"state"}),
		RealtimeReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Reconnect attempts after a dropped realtime connection",
		}),
	}
}

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordTransition counts a session transition.
func (m *Metrics) RecordTransition(from, to string, forced bool) {
	m.SessionTransitions.WithLabelValues(from, to).Inc()
	if forced {
		m.ForcedLogouts.Inc()
	}
}

func (m *Metrics) RecordLoginFailure(kind string) {
	m.LoginFailures.WithLabelValues(kind).Inc()
}

// SetRealtimeState marks current as the only active state among all.
func (m *Metrics) SetRealtimeState(all []string, current string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.RealtimeState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) RecordReconnect() {
	m.RealtimeReconnects.Inc()
}
