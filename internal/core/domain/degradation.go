package domain

import "time"

// HealthStatus is the coarse state of a monitored service.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ServiceHealth is the rolling health summary for one service.
type ServiceHealth struct {
	Service      string        `json:"service"`
	Status       HealthStatus  `json:"status"`
	LastCheck    time.Time     `json:"last_check"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorRate    float64       `json:"error_rate"` // 0..1
	Uptime       float64       `json:"uptime"`     // 0..100
}

// DegradeCondition holds thresholds for degrading or restoring a service.
// A zero field means "not configured".
type DegradeCondition struct {
	ErrorRate    float64       `json:"error_rate,omitempty"    yaml:"error_rate"`
	ResponseTime time.Duration `json:"response_time,omitempty" yaml:"response_time"`
	Availability float64       `json:"availability,omitempty"  yaml:"availability"` // min uptime %
}

// DegradationRule is static per-service configuration: which features to
// shed and when. RestoreThreshold, when set, should be tighter than
// Condition to avoid flapping.
type DegradationRule struct {
	Service          string            `json:"service"           yaml:"service"`
	Features         []string          `json:"features"          yaml:"features"`
	Condition        DegradeCondition  `json:"condition"         yaml:"condition"`
	Priority         int               `json:"priority"          yaml:"priority"`
	AutoRestore      bool              `json:"auto_restore"      yaml:"auto_restore"`
	RestoreThreshold *DegradeCondition `json:"restore_threshold" yaml:"restore_threshold"`
}

// DegradedService is the live record of a currently narrowed service.
type DegradedService struct {
	Service          string            `json:"service"`
	DegradedFeatures []string          `json:"degraded_features"`
	DegradedAt       time.Time         `json:"degraded_at"`
	Reason           string            `json:"reason"`
	AutoRestore      bool              `json:"auto_restore"`
	RestoreCondition *DegradeCondition `json:"restore_condition,omitempty"`
}
