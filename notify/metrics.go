package notify

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type hubMetrics struct {
	sessions    prometheus.Gauge
	pushes      *prometheus.CounterVec
	joinsDenied prometheus.Counter
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	m := &hubMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tutorly",
			Subsystem: "hub",
			Name:      "sessions",
			Help:      "Live WebSocket sessions.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "hub",
			Name:      "pushes_total",
			Help:      "Frames offered to sessions, by result.",
		}, []string{"result"}),
		joinsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "hub",
			Name:      "joins_denied_total",
			Help:      "Room joins refused by the authorizer.",
		}),
	}
	if reg != nil {
		m.sessions = register(reg, m.sessions)
		m.pushes = register(reg, m.pushes)
		m.joinsDenied = register(reg, m.joinsDenied)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
