package tutorly

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	requests       *prometheus.CounterVec
	shared         prometheus.Counter
	rateLimited    prometheus.Counter
	sessionExpired prometheus.Counter
	events         *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests sent by the gateway, by method and status code.",
		}, []string{"method", "code"}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gateway",
			Name:      "shared_results_total",
			Help:      "Calls that received the outcome of an identical in-flight request.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "429 responses observed by the gateway.",
		}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gateway",
			Name:      "session_expired_total",
			Help:      "401 responses that cleared the session.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Inbound realtime events, by event type.",
		}, []string{"type"}),
	}
	if reg != nil {
		m.requests = register(reg, m.requests)
		m.shared = register(reg, m.shared)
		m.rateLimited = register(reg, m.rateLimited)
		m.sessionExpired = register(reg, m.sessionExpired)
		m.events = register(reg, m.events)
	}
	return m
}

// register adds c to reg, reusing an identical collector that is already registered.
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
