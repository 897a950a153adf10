// Package metrics счётчики движка расчётов.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EscrowReleases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_releases_total",
			Help: "Escrow releases by target and outcome",
		},
		[]string{"target", "outcome"},
	)
	EscrowFreezes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_freezes_total",
			Help: "Applied escrow freezes",
		},
	)
	LedgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger operations by transaction type and outcome",
		},
		[]string{"type", "outcome"},
	)
	DisputeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disputes_transitions_total",
			Help: "Dispute status transitions by target status",
		},
		[]string{"to"},
	)
	DisputesEscalated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "disputes_escalated_total",
			Help: "Disputes escalated by the SLA sweep",
		},
	)
	ReconciliationEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_enqueued_total",
			Help: "Items queued for manual reconciliation",
		},
		[]string{"kind"},
	)
	EventDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_deliveries_total",
			Help: "Audit events delivered to sinks by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Background job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)
	ReleaseAttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "release_attempt_duration_seconds",
			Help:    "Duration of milestone release attempts including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Исходы операций для метки outcome.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
)

var registerOnce sync.Once

// MustRegister регистрирует метрики в реестре по умолчанию. Повторные вызовы игнорируются.
func MustRegister() {
	registerOnce.Do(func() {
		Register(prometheus.DefaultRegisterer)
	})
}

// Register регистрирует метрики в заданном реестре.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EscrowReleases,
		EscrowFreezes,
		LedgerTransactions,
		DisputeTransitions,
		DisputesEscalated,
		ReconciliationEnqueued,
		EventDeliveries,
		JobRuns,
		ReleaseAttemptDuration,
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome возвращает метку исхода операции.
func Outcome(applied bool, err error) string {
	switch {
	case err != nil:
		return OutcomeFailed
	case applied:
		return OutcomeApplied
	default:
		return OutcomeNoop
	}
}
