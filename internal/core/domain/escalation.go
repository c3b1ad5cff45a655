package domain

import "time"

// AlertChannel is the delivery mechanism for an escalation action.
// Actual transport is performed by external consumers of the event bus.
type AlertChannel string

const (
	ChannelLog       AlertChannel = "log"
	ChannelEmail     AlertChannel = "email"
	ChannelSMS       AlertChannel = "sms"
	ChannelWebhook   AlertChannel = "webhook"
	ChannelSlack     AlertChannel = "slack"
	ChannelPagerDuty AlertChannel = "pagerduty"
)

// EscalationAction describes one alert to dispatch when a rule trips.
type EscalationAction struct {
	Channel  AlertChannel `json:"channel"`
	Target   string       `json:"target,omitempty"`
	Priority string       `json:"priority,omitempty"`
	Template string       `json:"template,omitempty"`
}

// EscalationRule is static configuration: trip when Threshold matching
// errors are seen within TimeWindow.
type EscalationRule struct {
	Level      int                `json:"level"`
	Severities []Severity         `json:"severities"`
	Categories []Category         `json:"categories"`
	Threshold  int                `json:"threshold"`
	TimeWindow time.Duration      `json:"time_window"`
	Actions    []EscalationAction `json:"actions"`
}

// Matches reports whether the rule applies to the given error.
func (r EscalationRule) Matches(e *CategorizedError) bool {
	return containsSeverity(r.Severities, e.Severity) &&
		containsCategory(r.Categories, e.Category)
}

func containsSeverity(set []Severity, s Severity) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsCategory(set []Category, c Category) bool {
	for _, v := range set {
		if v == c {
			return true
		}
	}
	return false
}

// EscalationEvent records a tripped rule. Immutable once its actions have
// been dispatched; only the acknowledgement/resolution flags toggle.
type EscalationEvent struct {
	ID           string             `json:"id"`
	Level        int                `json:"level"`
	Errors       []*CategorizedError `json:"errors"`
	TriggeredAt  time.Time          `json:"triggered_at"`
	Acknowledged bool               `json:"acknowledged"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
	Actions      []EscalationAction `json:"actions"`
}
