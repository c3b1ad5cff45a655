package classifier

import (
	"strings"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// rule maps a predicate over (service, message) to a category. Rules are
// evaluated top to bottom; the first match wins.
type rule struct {
	category domain.Category
	match    func(service, message string) bool
}

// categoryRules is the ordered predicate table. Both inputs arrive
// lowercased.
var categoryRules = []rule{
	{
		category: domain.CategoryStreamFailure,
		match: func(service, message string) bool {
			return strings.Contains(service, "playout") ||
				strings.Contains(message, "ffmpeg") ||
				strings.Contains(message, "stream")
		},
	},
	{
		category: domain.CategoryRTMPConnection,
		match: func(service, message string) bool {
			return strings.Contains(service, "rtmp") ||
				strings.Contains(message, "rtmp") ||
				strings.Contains(message, "connection refused")
		},
	},
	{
		category: domain.CategoryDatabaseError,
		match: func(service, message string) bool {
			if strings.Contains(service, "database") {
				return true
			}
			return strings.Contains(message, "database") &&
				strings.Contains(message, "connection")
		},
	},
	{
		category: domain.CategoryExternalService,
		match: func(service, message string) bool {
			return strings.Contains(service, "analytics") ||
				strings.Contains(service, "monetization") ||
				strings.Contains(service, "distribution") ||
				strings.Contains(message, "timeout")
		},
	},
	{
		category: domain.CategoryValidationError,
		match: func(service, message string) bool {
			return strings.Contains(message, "validation") ||
				strings.Contains(message, "invalid")
		},
	},
	{
		category: domain.CategoryResourceLimit,
		match: func(service, message string) bool {
			return strings.Contains(message, "limit") ||
				strings.Contains(message, "quota") ||
				strings.Contains(message, "exceeded")
		},
	},
}

// categorize walks the predicate table, defaulting to system_error.
func categorize(service, message string) domain.Category {
	service = strings.ToLower(service)
	message = strings.ToLower(message)
	for _, r := range categoryRules {
		if r.match(service, message) {
			return r.category
		}
	}
	return domain.CategorySystemError
}

// severityFor is a pure function of category.
func severityFor(c domain.Category) domain.Severity {
	switch c {
	case domain.CategoryStreamFailure, domain.CategoryDatabaseError:
		return domain.SeverityCritical
	case domain.CategoryRTMPConnection, domain.CategoryResourceLimit:
		return domain.SeverityHigh
	case domain.CategoryExternalService:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// actionTemplates holds the static recovery template per category.
// Templates are copied onto each CategorizedError, never shared.
var actionTemplates = map[domain.Category]domain.RecoveryAction{
	domain.CategoryStreamFailure: {
		Type:            domain.ActionRestart,
		Delay:           5 * time.Second,
		MaxAttempts:     3,
		EscalationLevel: 2,
	},
	domain.CategoryRTMPConnection: {
		Type:            domain.ActionRestart,
		Delay:           10 * time.Second,
		MaxAttempts:     5,
		EscalationLevel: 1,
	},
	domain.CategoryDatabaseError: {
		Type:            domain.ActionEscalate,
		Delay:           1 * time.Second,
		MaxAttempts:     3,
		EscalationLevel: 3,
	},
	domain.CategoryExternalService: {
		Type:             domain.ActionCircuitBreak,
		Delay:            30 * time.Second,
		MaxAttempts:      3,
		FallbackStrategy: "cached_response",
		EscalationLevel:  1,
	},
	domain.CategoryValidationError: {
		Type:        domain.ActionIgnore,
		MaxAttempts: 1,
	},
	domain.CategoryResourceLimit: {
		Type:            domain.ActionGracefulDegrade,
		Delay:           5 * time.Second,
		MaxAttempts:     1,
		EscalationLevel: 2,
	},
	domain.CategorySystemError: {
		Type:            domain.ActionEscalate,
		Delay:           5 * time.Second,
		MaxAttempts:     1,
		EscalationLevel: 3,
	},
}

// templateFor returns a copy of the category's action template.
func templateFor(c domain.Category) domain.RecoveryAction {
	if tpl, ok := actionTemplates[c]; ok {
		return tpl
	}
	return actionTemplates[domain.CategorySystemError]
}
