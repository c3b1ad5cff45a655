package domain

import "time"

// Event is an outbound resilience notification. Consumers (audit sinks,
// alert delivery, streaming engines reacting to restart/fallback signals)
// subscribe via the event bus; the subsystem never waits on them.
type Event struct {
	Type      EventType      `json:"type"`
	Service   string         `json:"service,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type EventType string

const (
	// Classifier stream.
	EventErrorClassified EventType = "error_classified"
	EventRestart         EventType = "restart"
	EventFallback        EventType = "fallback"
	EventCircuitBreak    EventType = "circuit_break"
	EventGracefulDegrade EventType = "graceful_degrade"
	EventEscalate        EventType = "escalate"
	EventResolved        EventType = "resolved"

	// Circuit breaker.
	EventBreakerStateChange EventType = "breaker_state_change"

	// Escalation lifecycle.
	EventEscalationTriggered EventType = "escalation_triggered"

	// Escalation alert dispatch, one per channel kind.
	EventSendEmail     EventType = "send_email"
	EventSendSMS       EventType = "send_sms"
	EventSendWebhook   EventType = "send_webhook"
	EventSendSlack     EventType = "send_slack"
	EventSendPagerDuty EventType = "send_pagerduty"

	// Degradation.
	EventServiceDegrade EventType = "service_degrade"
	EventServiceRestore EventType = "service_restore"
	EventHealthCheck    EventType = "health_check"
)
