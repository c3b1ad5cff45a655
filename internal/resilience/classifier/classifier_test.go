package classifier

import (
	"errors"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
)

func testContext(service, operation string) domain.ErrorContext {
	return domain.ErrorContext{
		Service:   service,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		name    string
		service string
		message string
		want    domain.Category
	}{
		{"playout service", "PlayoutEngine", "ffmpeg crashed", domain.CategoryStreamFailure},
		{"stream keyword", "SomeService", "stream buffer underrun", domain.CategoryStreamFailure},
		{"rtmp refused", "IngestService", "rtmp connection refused", domain.CategoryRTMPConnection},
		{"connection refused", "IngestService", "connection refused by peer", domain.CategoryRTMPConnection},
		{"database service", "DatabaseService", "something broke", domain.CategoryDatabaseError},
		{"db connection msg", "SomeService", "database connection lost", domain.CategoryDatabaseError},
		{"analytics service", "AnalyticsEngine", "500 from upstream", domain.CategoryExternalService},
		{"timeout message", "SomeService", "request timeout after 30s", domain.CategoryExternalService},
		{"validation", "SomeService", "validation failed for field x", domain.CategoryValidationError},
		{"invalid", "SomeService", "invalid channel id", domain.CategoryValidationError},
		{"quota", "SomeService", "monthly quota reached", domain.CategoryResourceLimit},
		{"exceeded", "SomeService", "max connections exceeded", domain.CategoryResourceLimit},
		{"default", "SomeService", "segfault", domain.CategorySystemError},
	}

	for _, tc := range cases {
		if got := categorize(tc.service, tc.message); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(events.NewBus())

	ce := c.Classify(errors.New("ffmpeg crashed"), testContext("PlayoutEngine", "transcode"))
	if ce.Category != domain.CategoryStreamFailure {
		t.Errorf("expected stream_failure, got %s", ce.Category)
	}
	if ce.Severity != domain.SeverityCritical {
		t.Errorf("expected critical, got %s", ce.Severity)
	}
	if ce.Action.Type != domain.ActionRestart {
		t.Errorf("expected restart action, got %s", ce.Action.Type)
	}
	if ce.Action.Delay != 5*time.Second {
		t.Errorf("expected 5s delay, got %v", ce.Action.Delay)
	}
	if ce.Action.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", ce.Action.MaxAttempts)
	}

	ce2 := c.Classify(errors.New("rtmp connection refused"), testContext("IngestService", "publish"))
	if ce2.Category != domain.CategoryRTMPConnection {
		t.Errorf("expected rtmp_connection, got %s", ce2.Category)
	}
	if ce2.Severity != domain.SeverityHigh {
		t.Errorf("expected high, got %s", ce2.Severity)
	}
	if ce2.Action.Type != domain.ActionRestart || ce2.Action.Delay != 10*time.Second || ce2.Action.MaxAttempts != 5 {
		t.Errorf("unexpected rtmp action template: %+v", ce2.Action)
	}
}

func TestHandleError_AttemptExhaustionForcesEscalate(t *testing.T) {
	c := New(events.NewBus())
	ctx := testContext("PlayoutEngine", "transcode")
	err := errors.New("ffmpeg crashed")

	// Template allows 3 attempts; the first three keep the restart action.
	for i := 0; i < 3; i++ {
		action, _ := c.HandleError(err, ctx)
		if action.Type != domain.ActionRestart {
			t.Fatalf("attempt %d: expected restart, got %s", i+1, action.Type)
		}
	}

	action, _ := c.HandleError(err, ctx)
	if action.Type != domain.ActionEscalate {
		t.Errorf("expected forced escalate after exhaustion, got %s", action.Type)
	}
}

func TestHandleError_TemplateNotContaminated(t *testing.T) {
	c := New(events.NewBus())

	// Drive one logical error past several attempts.
	for i := 0; i < 4; i++ {
		c.HandleError(errors.New("ffmpeg crashed"), testContext("PlayoutEngine", "transcode"))
	}

	// A fresh error of the same category must start from a clean template.
	ce := c.Classify(errors.New("stream stalled"), testContext("OtherPlayout", "transcode"))
	if ce.AttemptCount != 0 {
		t.Errorf("fresh error should have attempt count 0, got %d", ce.AttemptCount)
	}
	if tpl := actionTemplates[domain.CategoryStreamFailure]; tpl.MaxAttempts != 3 {
		t.Errorf("shared template mutated: %+v", tpl)
	}

	// Mutating one error's action copy must not leak into another's.
	ce.Action.MaxAttempts = 99
	ce2 := c.Classify(errors.New("stream stalled again"), testContext("ThirdPlayout", "transcode"))
	if ce2.Action.MaxAttempts != 3 {
		t.Errorf("action template shared between errors: %+v", ce2.Action)
	}
}

func TestHandleError_EmitsActionEvent(t *testing.T) {
	bus := events.NewBus()
	c := New(bus)

	var got []domain.EventType
	bus.SubscribeAll(func(ev domain.Event) {
		got = append(got, ev.Type)
	})

	c.HandleError(errors.New("ffmpeg crashed"), testContext("PlayoutEngine", "transcode"))

	want := map[domain.EventType]bool{
		domain.EventErrorClassified: false,
		domain.EventRestart:         false,
	}
	for _, evt := range got {
		if _, ok := want[evt]; ok {
			want[evt] = true
		}
	}
	for evt, seen := range want {
		if !seen {
			t.Errorf("expected event %s to be published", evt)
		}
	}
}

func TestHandleError_IgnoreEmitsNoAction(t *testing.T) {
	bus := events.NewBus()
	c := New(bus)

	actionEvents := 0
	bus.Subscribe(domain.EventEscalate, func(ev domain.Event) { actionEvents++ })
	bus.Subscribe(domain.EventRestart, func(ev domain.Event) { actionEvents++ })

	action, _ := c.HandleError(errors.New("invalid channel id"), testContext("APIGateway", "create"))
	if action.Type != domain.ActionIgnore {
		t.Fatalf("expected ignore, got %s", action.Type)
	}
	if actionEvents != 0 {
		t.Errorf("ignore should not emit recovery events, got %d", actionEvents)
	}
}

func TestResolveError(t *testing.T) {
	c := New(events.NewBus())
	ctx := testContext("PlayoutEngine", "transcode")

	c.HandleError(errors.New("ffmpeg crashed"), ctx)
	active := c.ActiveErrors()
	if len(active) != 1 {
		t.Fatalf("expected 1 active error, got %d", len(active))
	}

	if err := c.ResolveError(active[0].ID); err != nil {
		t.Fatalf("ResolveError failed: %v", err)
	}
	if len(c.ActiveErrors()) != 0 {
		t.Error("expected no active errors after resolve")
	}
	if len(c.ErrorHistory(0)) != 1 {
		t.Error("resolved error should stay in history")
	}

	// Resolving the logical error frees its key: the next report opens a
	// new record with a fresh attempt count.
	action, _ := c.HandleError(errors.New("ffmpeg crashed"), ctx)
	if action.Type != domain.ActionRestart {
		t.Errorf("expected restart for fresh logical error, got %s", action.Type)
	}

	if err := c.ResolveError("no-such-id"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestErrorHistory_NewestFirst(t *testing.T) {
	c := New(events.NewBus())

	first := c.Classify(errors.New("ffmpeg crashed"), testContext("PlayoutEngine", "a"))
	first.CreatedAt = time.Now().Add(-time.Minute)
	c.Classify(errors.New("invalid input"), testContext("APIGateway", "b"))

	history := c.ErrorHistory(0)
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].ID == first.ID {
		t.Error("expected newest error first")
	}

	if got := c.ErrorHistory(1); len(got) != 1 {
		t.Errorf("expected limit to apply, got %d entries", len(got))
	}
}

func TestHandleError_PublishedRecordDetached(t *testing.T) {
	bus := events.NewBus()
	c := New(bus)

	var published []*domain.CategorizedError
	bus.Subscribe(domain.EventErrorClassified, func(ev domain.Event) {
		if ce, ok := ev.Payload["error"].(*domain.CategorizedError); ok {
			published = append(published, ce)
		}
	})

	ctx := testContext("IngestService", "publish")
	c.HandleError(errors.New("rtmp connection refused"), ctx)
	c.HandleError(errors.New("rtmp connection refused"), ctx)

	if len(published) != 2 {
		t.Fatalf("expected 2 published records, got %d", len(published))
	}
	if published[0] == published[1] {
		t.Fatal("each report must publish its own record")
	}
	if published[0].AttemptCount != 1 {
		t.Errorf("first published record must keep attempt count 1, got %d", published[0].AttemptCount)
	}
	if published[1].AttemptCount != 2 {
		t.Errorf("second published record should carry attempt count 2, got %d", published[1].AttemptCount)
	}
}
