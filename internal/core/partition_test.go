package core

import (
	"testing"
	"time"
)

func TestMonthRange(t *testing.T) {
	ts := time.Date(2026, 8, 15, 13, 45, 0, 0, time.UTC)
	from, to := MonthRange(ts)
	if !from.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected range start %s", from)
	}
	if !to.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected range end %s", to)
	}
}

func TestMonthRange_YearBoundary(t *testing.T) {
	ts := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	from, to := MonthRange(ts)
	if from.Month() != time.December || to.Year() != 2027 || to.Month() != time.January {
		t.Errorf("year boundary mishandled: [%s, %s)", from, to)
	}
}

func TestPartitionName(t *testing.T) {
	ts := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	if got := PartitionName(ts); got != "audit_events_202603" {
		t.Errorf("expected audit_events_202603, got %s", got)
	}
}

func TestSealed(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	_, julyEnd := MonthRange(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if !Sealed(julyEnd, now) {
		t.Error("last month should be sealed")
	}
	_, augEnd := MonthRange(now)
	if Sealed(augEnd, now) {
		t.Error("current month must not be sealed")
	}
}
