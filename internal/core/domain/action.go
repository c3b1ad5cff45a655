package domain

import "time"

// ActionType identifies the decided response to a classified error.
type ActionType string

const (
	ActionRestart         ActionType = "restart"
	ActionFallback        ActionType = "fallback"
	ActionEscalate        ActionType = "escalate"
	ActionIgnore          ActionType = "ignore"
	ActionCircuitBreak    ActionType = "circuit_break"
	ActionGracefulDegrade ActionType = "graceful_degrade"
)

// RecoveryAction is the per-category response template. It is a value
// type: each CategorizedError carries its own copy.
type RecoveryAction struct {
	Type             ActionType    `json:"type"`
	Delay            time.Duration `json:"delay"`
	MaxAttempts      int           `json:"max_attempts"`
	FallbackStrategy string        `json:"fallback_strategy,omitempty"`
	EscalationLevel  int           `json:"escalation_level,omitempty"`
}
