// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the progression engine.
var (
	// XP ledger.
	XPAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xp_awarded_total",
			Help: "Total XP appended to the ledger, by source",
		},
		[]string{"source"},
	)

	XPEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xp_events_total",
			Help: "XP append attempts by source and outcome (created, deduplicated, failed)",
		},
		[]string{"source", "outcome"},
	)

	// Achievements.
	AchievementsUnlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "achievements_unlocked_total",
			Help: "Total number of achievements unlocked",
		},
		[]string{"code"},
	)

	AchievementEvaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "achievement_evaluation_errors_total",
			Help: "Achievement criteria that failed to evaluate",
		},
		[]string{"code"},
	)

	ActiveAchievementHolders = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_achievement_holders",
			Help: "Current number of learners holding each achievement",
		},
		[]string{"code"},
	)

	// Hearts.
	HeartsRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearts_recovered_total",
			Help: "Hearts restored, by path (timer, ad)",
		},
		[]string{"path"},
	)

	HeartsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hearts_lost_total",
			Help: "Hearts consumed by incorrect answers",
		},
	)

	// Spaced repetition.
	ReviewsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srs_reviews_submitted_total",
			Help: "Flashcard reviews submitted, by quality rating",
		},
		[]string{"quality"},
	)

	ReviewIntervalDays = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "srs_review_interval_days",
			Help:    "Scheduled review interval in days",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512 days
		},
	)

	// Leaderboard.
	LeaderboardRerankDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaderboard_rerank_duration_seconds",
			Help:    "Time taken to re-rank one leaderboard partition",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"period"},
	)

	LeaderboardRanksWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_ranks_written_total",
			Help: "Leaderboard rows whose rank changed during re-ranking",
		},
		[]string{"period"},
	)

	SideEffectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Best-effort side effects that failed after XP was awarded",
		},
		[]string{"effect"},
	)

	// Reconciliation.
	ReconcileDriftLearners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_drift_learners",
			Help: "Learners whose cached total differed from the ledger in the last run",
		},
	)

	// Scheduler metrics.
	SchedulerJobsRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_run_total",
			Help: "Total scheduler job executions",
		},
		[]string{"job", "status"},
	)

	SchedulerLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_last_run_timestamp",
			Help: "Unix timestamp of last scheduler run",
		},
		[]string{"job"},
	)

	SchedulerJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Time taken to execute a scheduler job",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)
)

// RecordXPEvent records the outcome of an XP append.
func RecordXPEvent(source, outcome string, amount int64) {
	XPEventsTotal.WithLabelValues(source, outcome).Inc()
	if outcome == "created" && amount > 0 {
		XPAwardedTotal.WithLabelValues(source).Add(float64(amount))
	}
}

// RecordAchievementUnlocked records an achievement unlock.
func RecordAchievementUnlocked(code string) {
	AchievementsUnlockedTotal.WithLabelValues(code).Inc()
}

// RecordAchievementEvaluationError records a criterion that could not be evaluated.
func RecordAchievementEvaluationError(code string) {
	AchievementEvaluationErrorsTotal.WithLabelValues(code).Inc()
}

// SetActiveAchievementHolders sets the number of holders for an achievement.
func SetActiveAchievementHolders(code string, count int64) {
	ActiveAchievementHolders.WithLabelValues(code).Set(float64(count))
}

// RecordHeartsRecovered records hearts restored via path.
func RecordHeartsRecovered(path string, count int) {
	HeartsRecoveredTotal.WithLabelValues(path).Add(float64(count))
}

// RecordHeartLost records one heart consumed.
func RecordHeartLost() {
	HeartsLostTotal.Inc()
}

// RecordReviewSubmitted records a flashcard review and its new interval.
func RecordReviewSubmitted(quality string, intervalDays int) {
	ReviewsSubmittedTotal.WithLabelValues(quality).Inc()
	ReviewIntervalDays.Observe(float64(intervalDays))
}

// ObserveRerank records one partition re-rank.
func ObserveRerank(period string, seconds float64, written int) {
	LeaderboardRerankDurationSeconds.WithLabelValues(period).Observe(seconds)
	LeaderboardRanksWrittenTotal.WithLabelValues(period).Add(float64(written))
}

// RecordSideEffectFailure records a swallowed side-effect failure.
func RecordSideEffectFailure(effect string) {
	SideEffectFailuresTotal.WithLabelValues(effect).Inc()
}

// SetReconcileDrift sets the number of drifted learners.
func SetReconcileDrift(count int) {
	ReconcileDriftLearners.Set(float64(count))
}

// RecordSchedulerJobRun records a scheduler job execution.
func RecordSchedulerJobRun(job, status string) {
	SchedulerJobsRunTotal.WithLabelValues(job, status).Inc()
}

// SetSchedulerLastRun sets the timestamp of the last run of job.
func SetSchedulerLastRun(job string) {
	SchedulerLastRunTimestamp.WithLabelValues(job).SetToCurrentTime()
}

// ObserveSchedulerJobDuration observes the duration of a scheduler job.
func ObserveSchedulerJobDuration(job string, seconds float64) {
	SchedulerJobDurationSeconds.WithLabelValues(job).Observe(seconds)
}
