package utils

import (
	"testing"
	"time"

	"challenge-tasks/models"
)

func TestReportKeyIsDatedInZone(t *testing.T) {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		t.Fatalf("loading zone: %v", err)
	}
	run := &models.TaskRun{
		ID:        "Run 42",
		StartedAt: time.Date(2026, 10, 15, 22, 0, 5, 0, time.UTC),
	}

	got := ReportKey("reports/challenge-tasks", run, loc)
	want := "reports/challenge-tasks/2026-10-16/run-42.json"
	if got != want {
		t.Errorf("ReportKey = %q, want %q", got, want)
	}
}
