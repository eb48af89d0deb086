package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	invalidations prometheus.Counter
}

// NewMetrics registers the cache counters with reg.
func NewMetrics(reg prometheus.Registerer, prefix string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_cache_requests_total",
				Help: "Cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		invalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_cache_invalidations_total",
				Help: "Namespace invalidations",
			},
		),
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.requests.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.requests.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.requests.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) invalidation() {
	if m != nil {
		m.invalidations.Inc()
	}
}
