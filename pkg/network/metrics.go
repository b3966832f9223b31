package network

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the stack's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sends       *prometheus.CounterVec
	relays      *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	handshakes  *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubstack",
			Name:      "sends_total",
			Help:      "Messages submitted to the sender by route and outcome.",
		}, []string{"route", "outcome"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubstack",
			Name:      "relays_total",
			Help:      "Relay messages handled by action.",
		}, []string{"action"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubstack",
			Name:      "lookups_total",
			Help:      "Node lookups by outcome.",
		}, []string{"outcome"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubstack",
			Name:      "handshakes_total",
			Help:      "Connection handshakes by role and result.",
		}, []string{"role", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hubstack",
			Name:      "connections",
			Help:      "Established connections in the pool.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.sends, m.relays, m.lookups, m.handshakes, m.connections)
	}
	return m
}

func (m *Metrics) send(route Route, outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(route.String(), outcome).Inc()
}

func (m *Metrics) relay(action string) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(action).Inc()
}

func (m *Metrics) lookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) handshake(role, result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(role, result).Inc()
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}
