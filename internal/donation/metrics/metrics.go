package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Donations        *prometheus.CounterVec
	DonationRejected *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Donations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_donations_total",
			Help: "Completed donations by token",
		}, []string{"token"}),
		DonationRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_donations_rejected_total",
			Help: "Donations rejected before any transfer, by error code",
		}, []string{"code"}),
	}
}

func (m *Metrics) IncrementDonation(token string) {
	m.Donations.WithLabelValues(token).Inc()
}

func (m *Metrics) IncrementRejected(code string) {
	m.DonationRejected.WithLabelValues(code).Inc()
}
