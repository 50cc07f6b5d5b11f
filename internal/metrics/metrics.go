package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring pipeline health and throughput
var (
	SubmissionsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocs_submissions_enqueued_total",
			Help: "Total number of submissions accepted into the ledger, by kind",
		},
		[]string{"kind"},
	)

	SubmissionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocs_submission_attempts_total",
			Help: "Total number of regulator submission attempts, by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionAttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocs_submission_attempt_duration_seconds",
			Help:    "Duration of regulator submission attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocs_dead_lettered_total",
			Help: "Total number of submissions parked after exhausting retries",
		},
	)

	ClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocs_claim_conflicts_total",
			Help: "Total number of claims lost to another worker",
		},
	)

	StaleReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocs_stale_reclaimed_total",
			Help: "Total number of submissions recovered from crashed workers",
		},
	)

	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocs_token_refreshes_total",
			Help: "Total number of token refresh exchanges, by result",
		},
		[]string{"result"},
	)

	NoticesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocs_shipment_notices_fetched_total",
			Help: "Total number of shipment notices seen by the reconciler, by disposition",
		},
		[]string{"disposition"},
	)

	AuditDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocs_audit_dropped_total",
			Help: "Total number of audit entries dropped because the buffer was full",
		},
	)

	LedgerDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ocs_ledger_depth",
			Help: "Current number of ledger rows per status, refreshed each scheduler pass",
		},
		[]string{"status"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(SubmissionsEnqueuedTotal)
	prometheus.MustRegister(SubmissionAttemptsTotal)
	prometheus.MustRegister(SubmissionAttemptDuration)
	prometheus.MustRegister(DeadLetteredTotal)
	prometheus.MustRegister(ClaimConflictsTotal)
	prometheus.MustRegister(StaleReclaimedTotal)
	prometheus.MustRegister(TokenRefreshesTotal)
	prometheus.MustRegister(NoticesFetchedTotal)
	prometheus.MustRegister(AuditDroppedTotal)
	prometheus.MustRegister(LedgerDepth)
}
