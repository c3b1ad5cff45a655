package escalation

import (
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// DefaultRules returns the shipped three-tier escalation policy.
//
// Tier 1 catches noisy low-impact errors and only logs; tier 2 pages the
// on-call channels for sustained high-severity trouble; tier 3 fires on
// the first critical error.
func DefaultRules() []domain.EscalationRule {
	return []domain.EscalationRule{
		{
			Level:      1,
			Severities: []domain.Severity{domain.SeverityLow, domain.SeverityMedium},
			Categories: []domain.Category{
				domain.CategoryValidationError,
				domain.CategoryAuthentication,
				domain.CategoryExternalService,
			},
			Threshold:  10,
			TimeWindow: 5 * time.Minute,
			Actions: []domain.EscalationAction{
				{Channel: domain.ChannelLog, Priority: "low"},
			},
		},
		{
			Level:      2,
			Severities: []domain.Severity{domain.SeverityHigh},
			Categories: []domain.Category{
				domain.CategoryRTMPConnection,
				domain.CategoryResourceLimit,
			},
			Threshold:  3,
			TimeWindow: 3 * time.Minute,
			Actions: []domain.EscalationAction{
				{Channel: domain.ChannelEmail, Target: "oncall@streaming.local", Priority: "high"},
				{Channel: domain.ChannelWebhook, Target: "/alerts/high", Priority: "high"},
			},
		},
		{
			Level:      3,
			Severities: []domain.Severity{domain.SeverityCritical},
			Categories: []domain.Category{
				domain.CategoryStreamFailure,
				domain.CategoryDatabaseError,
				domain.CategorySystemError,
			},
			Threshold:  1,
			TimeWindow: 1 * time.Minute,
			Actions: []domain.EscalationAction{
				{Channel: domain.ChannelEmail, Target: "oncall@streaming.local", Priority: "critical"},
				{Channel: domain.ChannelSMS, Target: "+0000000000", Priority: "critical"},
				{Channel: domain.ChannelWebhook, Target: "/alerts/critical", Priority: "critical"},
			},
		},
	}
}
