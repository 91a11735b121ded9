package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type fakeArchive struct {
	runs []string
	err  error
}

func (a *fakeArchive) ArchiveRun(_ context.Context, run *models.TaskRun) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.runs = append(a.runs, run.ID)
	return "https://cdn.example.com/reports/" + run.ID + ".json", nil
}

func newTestTrigger(t *testing.T, tasks []Task, retries int, archive RunArchiver) (*Trigger, *testEnv) {
	t.Helper()
	env := newTestEnv(t, time.Date(2026, 10, 15, 22, 0, 0, 0, time.UTC))
	runner := NewRunner(tasks, env.clock, env.metrics, zerolog.Nop())
	trigger := NewTrigger(env.db, runner, env.clock, TriggerOptions{MaxRetries: retries, Archive: archive}, env.metrics, zerolog.Nop())
	return trigger, env
}

func TestFirePersistsRunWithResults(t *testing.T) {
	archive := &fakeArchive{}
	trigger, env := newTestTrigger(t, []Task{
		{Name: "ok", Enabled: true, Run: func(context.Context) error { return nil }},
		{Name: "bad", Enabled: true, Run: func(context.Context) error { return errors.New("nope") }},
	}, 3, archive)

	run, err := trigger.Fire(context.Background(), models.TriggerManual)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if run.Succeeded != 1 || run.Failed != 1 || run.Attempt != 1 {
		t.Errorf("run = %+v", run)
	}
	if run.ReportURL == "" || len(archive.runs) != 1 {
		t.Errorf("report not archived: %q", run.ReportURL)
	}

	var count int64
	env.db.Model(&models.TaskRun{}).Count(&count)
	if count != 1 {
		t.Errorf("persisted runs = %d, want 1 (task failures are not retried)", count)
	}
	latest, err := trigger.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != run.ID || len(latest.Results) != 2 || latest.Results[1].Error != "nope" {
		t.Errorf("latest = %+v", latest)
	}
}

func TestFireRetriesRunnerFailures(t *testing.T) {
	trigger, env := newTestTrigger(t, []Task{
		{Name: "orphan", Enabled: true, After: []string{"missing"}},
	}, 2, nil)

	run, err := trigger.Fire(context.Background(), models.TriggerSchedule)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("err = %v, want ErrUnknownDependency", err)
	}
	if run == nil || run.Attempt != 3 || run.FatalError == "" {
		t.Errorf("last run = %+v", run)
	}
	var count int64
	env.db.Model(&models.TaskRun{}).Count(&count)
	if count != 3 {
		t.Errorf("persisted runs = %d, want 3", count)
	}
}

func TestFireIgnoresArchiveFailure(t *testing.T) {
	trigger, _ := newTestTrigger(t, []Task{
		{Name: "ok", Enabled: true, Run: func(context.Context) error { return nil }},
	}, 0, &fakeArchive{err: errors.New("bucket gone")})

	run, err := trigger.Fire(context.Background(), models.TriggerManual)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if run.ReportURL != "" {
		t.Errorf("report url = %q, want empty", run.ReportURL)
	}
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cal, err := utils.LoadCalendar(clock, utils.DefaultTimezone)
	if err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(nil, clock, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	trigger := NewTrigger(nil, runner, clock, TriggerOptions{}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())

	if _, err := NewScheduler(context.Background(), trigger, cal, "every full moon", zerolog.Nop()); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	s, err := NewScheduler(context.Background(), trigger, cal, "0 0 * * *", zerolog.Nop())
	if err != nil {
		t.Fatalf("valid cron: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
