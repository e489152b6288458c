package core

import (
	"encoding/json"
	"testing"
	"time"
)

func validDraft() EventDraft {
	return EventDraft{
		TenantID:  "tenant-a",
		EventTS:   time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC),
		EventType: "order.approved",
		Severity:  SeverityInfo,
		Actor:     json.RawMessage(`{"name":"alice"}`),
		ActorID:   "user-1",
		Action:    "approve",
	}
}

func TestDraftValidate_OK(t *testing.T) {
	d := validDraft()
	if err := d.Validate(); err != nil {
		t.Fatalf("expected valid draft, got %v", err)
	}
}

func TestDraftValidate_RequiredFields(t *testing.T) {
	cases := map[string]func(*EventDraft){
		"tenant_id":  func(d *EventDraft) { d.TenantID = "" },
		"event_ts":   func(d *EventDraft) { d.EventTS = time.Time{} },
		"event_type": func(d *EventDraft) { d.EventType = "" },
		"actor_id":   func(d *EventDraft) { d.ActorID = "" },
		"actor":      func(d *EventDraft) { d.Actor = nil },
		"action":     func(d *EventDraft) { d.Action = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := validDraft()
			mutate(&d)
			err := d.Validate()
			if err == nil {
				t.Fatalf("expected validation error for missing %s", name)
			}
			if err.Code != ErrValidation {
				t.Errorf("expected code %s, got %s", ErrValidation, err.Code)
			}
		})
	}
}

func TestDraftValidate_Severity(t *testing.T) {
	d := validDraft()
	d.Severity = "fatal"
	if err := d.Validate(); err == nil {
		t.Fatal("expected validation error for unknown severity")
	}
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		d.Severity = s
		if err := d.Validate(); err != nil {
			t.Errorf("severity %s rejected: %v", s, err)
		}
	}
}

func TestDraftValidate_EmptyCorrelationID(t *testing.T) {
	d := validDraft()
	empty := ""
	d.CorrelationID = &empty
	if err := d.Validate(); err == nil {
		t.Fatal("expected validation error for empty correlation_id")
	}
}
