package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jimini_evaluations_total",
			Help: "Total number of policy evaluations by returned action",
		},
		[]string{"action"},
	)

	RuleHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jimini_rule_hits_total",
			Help: "Total number of rule firings",
		},
		[]string{"rule_id"},
	)

	ShadowOverridesEnforced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jimini_shadow_overrides_enforced_total",
			Help: "Total number of decisions enforced despite global shadow mode",
		},
	)

	LLMUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jimini_llm_unavailable_total",
			Help: "Total number of LLM rule checks skipped because the capability was missing, timed out, or errored",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jimini_auth_failures_total",
			Help: "Total number of rejected credentials",
		},
	)

	AuditAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jimini_audit_append_duration_seconds",
			Help:    "Durable audit append latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jimini_audit_append_failures_total",
			Help: "Total number of failed audit appends",
		},
	)

	// Forwarder metrics
	ForwarderDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jimini_forwarder_deliveries_total",
			Help: "Total number of forwarder delivery attempts by outcome",
		},
		[]string{"target", "status"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jimini_forwarder_dropped_total",
			Help: "Total number of events dropped from full forwarder queues",
		},
		[]string{"target"},
	)

	AlertsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jimini_alerts_throttled_total",
			Help: "Total number of webhook alerts suppressed by the rate limit",
		},
	)

	DLQDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jimini_dlq_depth",
			Help: "Current number of entries in the dead letter queue",
		},
		[]string{"target"},
	)

	RuleReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jimini_rule_reloads_total",
			Help: "Total number of rule reload attempts by outcome",
		},
		[]string{"status"},
	)
)
