package degradation

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
)

func floatPtr(v float64) *float64 { return &v }

func durPtr(v time.Duration) *time.Duration { return &v }

func analyticsRule() []domain.DegradationRule {
	return []domain.DegradationRule{
		{
			Service:          "analytics",
			Features:         []string{"realtime_dashboards", "export_reports"},
			Condition:        domain.DegradeCondition{ErrorRate: 0.3},
			AutoRestore:      true,
			RestoreThreshold: &domain.DegradeCondition{ErrorRate: 0.1},
		},
	}
}

func TestDegradeAndAutoRestore(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(analyticsRule(), bus)

	var degrades, restores int
	bus.Subscribe(domain.EventServiceDegrade, func(ev domain.Event) { degrades++ })
	bus.Subscribe(domain.EventServiceRestore, func(ev domain.Event) { restores++ })

	// Above the degrade threshold: features become unavailable.
	m.UpdateServiceHealth("analytics", HealthSample{ErrorRate: floatPtr(0.35)})
	if m.IsFeatureAvailable("analytics", "realtime_dashboards") {
		t.Error("expected feature shed after degrade")
	}
	if degrades != 1 {
		t.Fatalf("expected 1 degrade event, got %d", degrades)
	}
	if h, _ := m.Health("analytics"); h.Status != domain.StatusDegraded {
		t.Errorf("expected degraded status, got %s", h.Status)
	}

	// Between restore and degrade thresholds: must NOT restore.
	m.UpdateServiceHealth("analytics", HealthSample{ErrorRate: floatPtr(0.2)})
	if restores != 0 {
		t.Error("rate between thresholds must not restore")
	}
	if m.IsFeatureAvailable("analytics", "realtime_dashboards") {
		t.Error("feature should remain shed between thresholds")
	}

	// Below the restore threshold: features come back.
	m.UpdateServiceHealth("analytics", HealthSample{ErrorRate: floatPtr(0.05)})
	if restores != 1 {
		t.Errorf("expected 1 restore event, got %d", restores)
	}
	if !m.IsFeatureAvailable("analytics", "realtime_dashboards") {
		t.Error("expected feature available after restore")
	}
	if h, _ := m.Health("analytics"); h.Status != domain.StatusHealthy {
		t.Errorf("expected healthy status, got %s", h.Status)
	}
}

func TestDegrade_ResponseTimeAndAvailability(t *testing.T) {
	rules := []domain.DegradationRule{
		{
			Service:   "monetization",
			Features:  []string{"ad_insertion"},
			Condition: domain.DegradeCondition{ResponseTime: time.Second, Availability: 95},
		},
	}
	m := NewManager(rules, events.NewBus())

	// Any-of: slow responses alone are enough.
	m.UpdateServiceHealth("monetization", HealthSample{ResponseTime: durPtr(2 * time.Second)})
	if m.IsFeatureAvailable("monetization", "ad_insertion") {
		t.Error("expected degrade on response time breach")
	}

	m2 := NewManager(rules, events.NewBus())
	m2.UpdateServiceHealth("monetization", HealthSample{Uptime: floatPtr(90)})
	if m2.IsFeatureAvailable("monetization", "ad_insertion") {
		t.Error("expected degrade on availability breach")
	}
}

func TestDegrade_Idempotent(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(analyticsRule(), bus)

	degrades := 0
	bus.Subscribe(domain.EventServiceDegrade, func(ev domain.Event) { degrades++ })

	m.UpdateServiceHealth("analytics", HealthSample{ErrorRate: floatPtr(0.5)})
	m.UpdateServiceHealth("analytics", HealthSample{ErrorRate: floatPtr(0.6)})
	m.ForceDegrade("analytics", nil, "manual")

	if degrades != 1 {
		t.Errorf("already-degraded service must not re-degrade, got %d events", degrades)
	}
}

func TestRestore_IdempotentNoop(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(analyticsRule(), bus)

	restores := 0
	bus.Subscribe(domain.EventServiceRestore, func(ev domain.Event) { restores++ })

	// Not degraded: restore is a silent no-op.
	m.ForceRestore("analytics")
	if restores != 0 {
		t.Errorf("restore of healthy service must emit nothing, got %d", restores)
	}
}

func TestNoRule_AllFeaturesAvailable(t *testing.T) {
	m := NewManager(nil, events.NewBus())

	m.UpdateServiceHealth("playout", HealthSample{ErrorRate: floatPtr(0.99)})
	if !m.IsFeatureAvailable("playout", "anything") {
		t.Error("service without a rule must never shed features")
	}
}

func TestForceDegradeWithExplicitFeatures(t *testing.T) {
	m := NewManager(nil, events.NewBus())

	m.ForceDegrade("playout", []string{"multi_bitrate"}, "resource limit hit")
	if m.IsFeatureAvailable("playout", "multi_bitrate") {
		t.Error("expected forced feature shed")
	}
	if !m.IsFeatureAvailable("playout", "basic_stream") {
		t.Error("unlisted features stay available")
	}

	m.ForceRestore("playout")
	if !m.IsFeatureAvailable("playout", "multi_bitrate") {
		t.Error("expected feature back after ForceRestore")
	}
}

func TestNoAutoRestoreWithoutThreshold(t *testing.T) {
	rules := []domain.DegradationRule{
		{
			Service:     "ai",
			Features:    []string{"auto_highlights"},
			Condition:   domain.DegradeCondition{ErrorRate: 0.3},
			AutoRestore: true,
			// No RestoreThreshold: only manual restore applies.
		},
	}
	m := NewManager(rules, events.NewBus())

	m.UpdateServiceHealth("ai", HealthSample{ErrorRate: floatPtr(0.5)})
	m.UpdateServiceHealth("ai", HealthSample{ErrorRate: floatPtr(0.0)})

	if m.IsFeatureAvailable("ai", "auto_highlights") {
		t.Error("missing restore threshold must prevent auto-restore")
	}
}

func TestPartialMerge(t *testing.T) {
	m := NewManager(nil, events.NewBus())

	m.UpdateServiceHealth("chat", HealthSample{ErrorRate: floatPtr(0.2)})
	m.UpdateServiceHealth("chat", HealthSample{ResponseTime: durPtr(time.Second)})

	h, ok := m.Health("chat")
	if !ok {
		t.Fatal("expected health record")
	}
	if h.ErrorRate != 0.2 {
		t.Errorf("partial update must keep prior error rate, got %f", h.ErrorRate)
	}
	if h.ResponseTime != time.Second {
		t.Errorf("expected merged response time, got %v", h.ResponseTime)
	}
	if h.Uptime != 100 {
		t.Errorf("expected default uptime kept, got %f", h.Uptime)
	}
}

func TestBumpErrorRate_ConcurrentBumpsAccumulate(t *testing.T) {
	m := NewManager(nil, events.NewBus())

	band := func(rate float64) domain.HealthStatus {
		if rate > 0.2 {
			return domain.StatusDegraded
		}
		return domain.StatusHealthy
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.BumpErrorRate("ingest", 0.1, band)
		}()
	}
	wg.Wait()

	h, ok := m.Health("ingest")
	if !ok {
		t.Fatal("expected health record")
	}
	if math.Abs(h.ErrorRate-0.4) > 1e-9 {
		t.Errorf("expected error rate 0.4 after 4 bumps, got %v", h.ErrorRate)
	}
	if h.Status != domain.StatusDegraded {
		t.Errorf("expected degraded status, got %s", h.Status)
	}
}

func TestBumpErrorRate_CapsAtOneAndEvaluatesRules(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(analyticsRule(), bus)

	var degrades int
	bus.Subscribe(domain.EventServiceDegrade, func(ev domain.Event) { degrades++ })

	var last domain.ServiceHealth
	for i := 0; i < 15; i++ {
		last = m.BumpErrorRate("analytics", 0.1, nil)
	}

	if last.ErrorRate != 1.0 {
		t.Errorf("expected error rate capped at 1.0, got %v", last.ErrorRate)
	}
	if degrades != 1 {
		t.Errorf("expected one degrade once the rule threshold was crossed, got %d", degrades)
	}
	if m.IsFeatureAvailable("analytics", "realtime_dashboards") {
		t.Error("expected rule features shed")
	}
}
