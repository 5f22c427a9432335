package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks registry writes and lookups.
type Metrics struct {
	Mutations       *prometheus.CounterVec
	Lookups         *prometheus.CounterVec
	MutationLatency prometheus.Histogram
}

// New registers the registry metrics on reg (the default registry when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_registry_mutations_total",
			Help: "Registry register/update calls by operation and outcome",
		}, []string{"op", "outcome"}),
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_registry_lookups_total",
			Help: "Registry lookups by result",
		}, []string{"result"}),
		MutationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sos_registry_mutation_duration_seconds",
			Help:    "Duration of registry mutations including store writes",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) ObserveMutation(op string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Mutations.WithLabelValues(op, outcome).Inc()
	m.MutationLatency.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.Lookups.WithLabelValues(result).Inc()
}
