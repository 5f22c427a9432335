package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers request creation, check approvals and oracle dispatch.
type Metrics struct {
	RequestsCreated  prometheus.Counter
	RequestsApproved prometheus.Counter
	CheckApprovals   *prometheus.CounterVec
	CheckDeclines    prometheus.Counter
	OracleDispatches *prometheus.CounterVec
	PendingChecks    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "sos_governor_requests_created_total",
			Help: "Disbursement requests created",
		}),
		RequestsApproved: f.NewCounter(prometheus.CounterOpts{
			Name: "sos_governor_requests_approved_total",
			Help: "Requests whose last pending check was approved",
		}),
		CheckApprovals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_governor_check_approvals_total",
			Help: "Checks approved, by source (approver or oracle)",
		}, []string{"source"}),
		CheckDeclines: f.NewCounter(prometheus.CounterOpts{
			Name: "sos_governor_check_declines_total",
			Help: "Approver calls that declined a check",
		}),
		OracleDispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_governor_oracle_dispatches_total",
			Help: "Oracle requests handed to the consumer, by outcome",
		}, []string{"outcome"}),
		PendingChecks: f.NewGauge(prometheus.GaugeOpts{
			Name: "sos_governor_pending_checks",
			Help: "Checks awaiting approval across all requests",
		}),
	}
}

func (m *Metrics) IncrementRequestCreated(checks int) {
	m.RequestsCreated.Inc()
	m.PendingChecks.Add(float64(checks))
}

func (m *Metrics) IncrementApproval(source string, requestApproved bool) {
	m.CheckApprovals.WithLabelValues(source).Inc()
	m.PendingChecks.Dec()
	if requestApproved {
		m.RequestsApproved.Inc()
	}
}

func (m *Metrics) IncrementDispatch(outcome string) {
	m.OracleDispatches.WithLabelValues(outcome).Inc()
}
