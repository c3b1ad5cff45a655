package degradation

import (
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// DefaultRules returns the shipped per-service degradation policy.
// Restore thresholds sit well below the degrade conditions so a service
// hovering around the limit does not flap.
func DefaultRules() []domain.DegradationRule {
	return []domain.DegradationRule{
		{
			Service:  "analytics",
			Features: []string{"realtime_dashboards", "viewer_heatmaps", "export_reports"},
			Condition: domain.DegradeCondition{
				ErrorRate:    0.3,
				ResponseTime: 5 * time.Second,
			},
			Priority:         2,
			AutoRestore:      true,
			RestoreThreshold: &domain.DegradeCondition{ErrorRate: 0.1, ResponseTime: 2 * time.Second},
		},
		{
			Service:  "monetization",
			Features: []string{"ad_insertion", "sponsor_overlays", "revenue_projections"},
			Condition: domain.DegradeCondition{
				ErrorRate:    0.2,
				Availability: 95,
			},
			Priority:         1,
			AutoRestore:      true,
			RestoreThreshold: &domain.DegradeCondition{ErrorRate: 0.05, Availability: 99},
		},
		{
			Service:  "ai",
			Features: []string{"auto_highlights", "content_tagging", "thumbnail_generation"},
			Condition: domain.DegradeCondition{
				ErrorRate:    0.4,
				ResponseTime: 10 * time.Second,
			},
			Priority:         3,
			AutoRestore:      true,
			RestoreThreshold: &domain.DegradeCondition{ErrorRate: 0.15},
		},
		{
			Service:  "distribution",
			Features: []string{"multi_platform_publish", "social_clips"},
			Condition: domain.DegradeCondition{
				ErrorRate: 0.25,
			},
			Priority:         1,
			AutoRestore:      true,
			RestoreThreshold: &domain.DegradeCondition{ErrorRate: 0.1},
		},
		{
			Service:  "interaction",
			Features: []string{"polls", "reactions", "chat_overlays"},
			Condition: domain.DegradeCondition{
				ErrorRate:    0.35,
				ResponseTime: 3 * time.Second,
			},
			Priority:         2,
			AutoRestore:      true,
			RestoreThreshold: &domain.DegradeCondition{ErrorRate: 0.1, ResponseTime: 1 * time.Second},
		},
	}
}
