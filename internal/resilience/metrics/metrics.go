package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsTotal tracks classified errors per category and severity
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_errors_total",
			Help: "Total number of classified errors",
		},
		[]string{"category", "severity"},
	)

	// RecoveryActionsTotal tracks dispatched recovery actions per type
	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_recovery_actions_total",
			Help: "Total number of dispatched recovery actions",
		},
		[]string{"action"},
	)

	// BreakerState tracks circuit breaker state per service
	// (0 = closed, 1 = half-open, 2 = open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"service"},
	)

	// EscalationsTotal tracks triggered escalations per rule level
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_escalations_total",
			Help: "Total number of triggered escalations",
		},
		[]string{"level"},
	)

	// DegradedServices tracks the number of currently degraded services
	DegradedServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilience_degraded_services",
			Help: "Number of currently degraded services",
		},
	)

	// ServiceErrorRate tracks the tracked error rate per service
	ServiceErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_service_error_rate",
			Help: "Tracked error rate per service (0..1)",
		},
		[]string{"service"},
	)
)
