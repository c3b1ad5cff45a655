package domain

import (
	"time"
)

// Category classifies a runtime failure into one of the known buckets.
type Category string

const (
	CategoryStreamFailure   Category = "stream_failure"
	CategoryRTMPConnection  Category = "rtmp_connection"
	CategoryDatabaseError   Category = "database_error"
	CategoryExternalService Category = "external_service"
	CategoryValidationError Category = "validation_error"
	CategoryAuthentication  Category = "authentication"
	CategoryResourceLimit   Category = "resource_limit"
	CategorySystemError     Category = "system_error"
)

// Severity ranks how urgent a classified error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorContext carries where and when a failure happened. Created by the
// caller at the failure site and never mutated afterwards.
type ErrorContext struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Timestamp time.Time      `json:"timestamp"`
	ChannelID string         `json:"channel_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CategorizedError is the classifier's record of a reported failure.
// AttemptCount lives here, never on the shared action template.
type CategorizedError struct {
	ID           string         `json:"id"`
	Category     Category       `json:"category"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Context      ErrorContext   `json:"context"`
	Action       RecoveryAction `json:"action"`
	AttemptCount int            `json:"attempt_count"`
	CreatedAt    time.Time      `json:"created_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// Resolved reports whether the error has been explicitly resolved.
func (e *CategorizedError) Resolved() bool {
	return e.ResolvedAt != nil
}
