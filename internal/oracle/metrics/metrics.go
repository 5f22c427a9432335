package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests     *prometheus.CounterVec
	Fulfillments *prometheus.CounterVec
	Pending      prometheus.Gauge
	BreakerOpen  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_oracle_requests_total",
			Help: "Oracle requests by outcome (sent, failed)",
		}, []string{"outcome"}),
		Fulfillments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_oracle_fulfillments_total",
			Help: "Oracle fulfilments by result (pass, fail, rejected)",
		}, []string{"result"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "sos_oracle_pending_requests",
			Help: "Dispatched oracle requests awaiting fulfilment",
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "sos_oracle_dispatch_breaker_open",
			Help: "1 while the oracle dispatch circuit breaker is open",
		}),
	}
}

// ObserveBreaker is a dispatch.StateObserver.
func (m *Metrics) ObserveBreaker(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
