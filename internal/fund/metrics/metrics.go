package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers fund creation, lifecycle transitions and donation bookkeeping.
type Metrics struct {
	FundsCreated      *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	BalanceUpdates    prometheus.Counter
	BalanceReadErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FundsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_funds_created_total",
			Help: "Funds created, by whether a safe was deployed for them",
		}, []string{"with_safe"}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_fund_status_transitions_total",
			Help: "Fund status changes by target status",
		}, []string{"status"}),
		BalanceUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "sos_fund_balance_updates_total",
			Help: "Donations recorded against funds",
		}),
		BalanceReadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sos_fund_balance_read_errors_total",
			Help: "Token balance reads that failed during GetBalances",
		}),
	}
}

func (m *Metrics) IncrementFundCreated(withSafe bool) {
	label := "false"
	if withSafe {
		label = "true"
	}
	m.FundsCreated.WithLabelValues(label).Inc()
}

func (m *Metrics) IncrementTransition(status string) {
	m.StatusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementBalanceUpdate() {
	m.BalanceUpdates.Inc()
}
