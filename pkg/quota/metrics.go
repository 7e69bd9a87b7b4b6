package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the quota subsystem.
type Metrics struct {
	// Admission checks by result and deny reason
	admissionChecks *prometheus.CounterVec

	// Commits by outcome
	commits *prometheus.CounterVec

	// Tokens committed per subject
	tokensCommitted *prometheus.CounterVec

	// Current daily usage
	dailyUsage *prometheus.GaugeVec

	// Check and commit latency
	opDuration *prometheus.HistogramVec

	// Retention prune results
	pruneDeleted *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered against reg. Pass
// prometheus.DefaultRegisterer for production use, or a fresh registry in
// tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		admissionChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_admission_checks_total",
				Help: "Total number of admission checks performed",
			},
			[]string{"result", "reason"},
		),

		commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_commits_total",
				Help: "Total number of usage commits recorded",
			},
			[]string{"outcome"},
		),

		tokensCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_tokens_committed_total",
				Help: "Total tokens committed against daily quotas",
			},
			[]string{"subject"},
		),

		dailyUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tollgate_quota_daily_usage_ratio",
				Help: "Current daily token usage as a fraction of the ceiling (0.0-1.0)",
			},
			[]string{"subject"},
		),

		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_quota_op_duration_seconds",
				Help:    "Duration of quota operations",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op"},
		),

		pruneDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_prune_deleted_total",
				Help: "Total rows removed by retention pruning",
			},
			[]string{"kind"},
		),
	}
}

// RecordCheck records an admission check result.
func (m *Metrics) RecordCheck(allowed bool, reason string, duration time.Duration) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.admissionChecks.WithLabelValues(result, reason).Inc()
	m.opDuration.WithLabelValues("check").Observe(duration.Seconds())
}

// RecordCommit records a usage commit.
func (m *Metrics) RecordCommit(subject, outcome string, tokens int64, duration time.Duration) {
	m.commits.WithLabelValues(outcome).Inc()
	m.tokensCommitted.WithLabelValues(subject).Add(float64(tokens))
	m.opDuration.WithLabelValues("commit").Observe(duration.Seconds())
}

// RecordUsageRatio records a subject's daily usage fraction.
func (m *Metrics) RecordUsageRatio(subject string, used, limit int64) {
	if limit <= 0 {
		return
	}
	m.dailyUsage.WithLabelValues(subject).Set(float64(used) / float64(limit))
}

// RecordPrune records retention prune results.
func (m *Metrics) RecordPrune(days, hours, entries int64) {
	m.pruneDeleted.WithLabelValues("daily_windows").Add(float64(days))
	m.pruneDeleted.WithLabelValues("hour_windows").Add(float64(hours))
	m.pruneDeleted.WithLabelValues("journal_entries").Add(float64(entries))
}
