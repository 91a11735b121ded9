package utils

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func kigaliCalendar(t *testing.T, now time.Time) *Calendar {
	t.Helper()
	cal, err := LoadCalendar(clockwork.NewFakeClockAt(now), DefaultTimezone)
	if err != nil {
		t.Fatalf("LoadCalendar: %v", err)
	}
	return cal
}

func TestTodayUsesReferenceZone(t *testing.T) {
	// 23:30 UTC on the 31st is already 01:30 on the 1st in Kigali.
	cal := kigaliCalendar(t, time.Date(2026, 10, 31, 23, 30, 0, 0, time.UTC))

	today := cal.Today()
	if today.Day() != 1 || today.Month() != time.November {
		t.Fatalf("today = %v, want 1 November", today)
	}
	if !cal.IsFirstOfMonth() {
		t.Error("expected first of month in Kigali")
	}
	if cal.Period() != "2026-11" {
		t.Errorf("period = %s, want 2026-11", cal.Period())
	}
}

func TestHasPassedIsStrictlyBeforeToday(t *testing.T) {
	cal := kigaliCalendar(t, time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))

	cases := []struct {
		name     string
		deadline time.Time
		want     bool
	}{
		{"yesterday", time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), true},
		{"late yesterday utc is today in kigali", time.Date(2026, 10, 15, 22, 30, 0, 0, time.UTC), false},
		{"today", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), false},
		{"tomorrow", time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cal.HasPassed(tc.deadline); got != tc.want {
				t.Errorf("HasPassed(%v) = %v, want %v", tc.deadline, got, tc.want)
			}
		})
	}
}

func TestIsDaysAwayUsesDateEquality(t *testing.T) {
	cal := kigaliCalendar(t, time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))

	if !cal.IsDaysAway(time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC), 3) {
		t.Error("deadline three days out should match")
	}
	if cal.IsDaysAway(time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC), 3) {
		t.Error("deadline two days out should not match")
	}
	if cal.IsDaysAway(time.Date(2026, 10, 20, 1, 0, 0, 0, time.UTC), 3) {
		t.Error("deadline four days out should not match")
	}
}
