package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var itemsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_items_created",
	Help: "Number of moderation items queued for review",
}, []string{"content_type"})

var submissionsBypassed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_submissions_bypassed",
	Help: "Number of submissions approved without review because of submitter trust tier",
}, []string{"tier"})

var itemDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_item_decisions",
	Help: "Number of moderation items moved to a terminal status",
}, []string{"status", "source"})

var itemDecisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_item_decision_conflicts",
	Help: "Number of review attempts on items which were already reviewed",
})

var bestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_best_effort_failures",
	Help: "Number of failed downstream notifications after a committed decision",
}, []string{"step"})

var trustChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_trust_tier_changes",
	Help: "Number of automatic trust tier changes",
}, []string{"direction"})

var cascadeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "warden_cascade_duration_sec",
	Help:    "Duration of bulk auto-approval of a user's pending items",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
})

var reportActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_report_actions",
	Help: "Number of abuse report submissions and dispositions",
}, []string{"action"})
