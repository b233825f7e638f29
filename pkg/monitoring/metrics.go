package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AllocationsTotal counts allocation attempts by outcome.
	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_allocations_total",
			Help: "Total account allocation attempts",
		},
		[]string{"service_type", "strategy", "outcome"},
	)

	// ProbeDuration measures health probe duration.
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "account_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"account_id", "result"},
	)

	// HealthScore exports the latest health score per account.
	HealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "account_health_score",
			Help: "Latest health score (0-100) per account",
		},
		[]string{"account_id"},
	)

	// UsageCostTotal counts metered cost in dollars.
	UsageCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_cost_dollars_total",
			Help: "Total metered cost in dollars",
		},
		[]string{"model", "enterprise_id"},
	)

	// AlertsTriggered counts triggered alerts.
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_alerts_triggered_total",
			Help: "Total governance alerts triggered",
		},
		[]string{"type", "severity"},
	)
)
