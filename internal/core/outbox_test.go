package core

import (
	"testing"
	"time"
)

func TestNextBackoff_Doubles(t *testing.T) {
	base := 10 * time.Second
	max := 10 * time.Minute
	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}
	for i, w := range want {
		got := NextBackoff(i+1, base, max)
		if got != w {
			t.Errorf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
}

func TestNextBackoff_Capped(t *testing.T) {
	got := NextBackoff(20, 10*time.Second, 5*time.Minute)
	if got != 5*time.Minute {
		t.Errorf("expected cap 5m, got %s", got)
	}
}

func TestOutboxIsTerminal(t *testing.T) {
	for status, terminal := range map[OutboxStatus]bool{
		OutboxPending:    false,
		OutboxProcessing: false,
		OutboxFailed:     false,
		OutboxPersisted:  true,
		OutboxDead:       true,
	} {
		item := OutboxItem{Status: status}
		if item.IsTerminal() != terminal {
			t.Errorf("status %s: expected terminal=%v", status, terminal)
		}
	}
}
