package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// RunArchiver stores a finished run's report somewhere durable.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, run *models.TaskRun) (string, error)
}

// Trigger wraps one runner invocation: it records the run, archives its
// report and retries the whole invocation when the runner itself fails.
type Trigger struct {
	DB         *gorm.DB
	runner     *Runner
	archive    RunArchiver
	clock      clockwork.Clock
	maxRetries int
	backoff    time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu sync.Mutex
}

type TriggerOptions struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Archive      RunArchiver
}

func NewTrigger(db *gorm.DB, runner *Runner, clock clockwork.Clock, opts TriggerOptions, m *metrics.Metrics, logger zerolog.Logger) *Trigger {
	return &Trigger{
		DB:         db,
		runner:     runner,
		archive:    opts.Archive,
		clock:      clock,
		maxRetries: opts.MaxRetries,
		backoff:    opts.RetryBackoff,
		metrics:    m,
		logger:     logger.With().Str("component", "trigger").Logger(),
	}
}

// Fire runs the midnight tasks. Invocations never overlap; a second caller
// waits for the first to finish.
func (t *Trigger) Fire(ctx context.Context, trigger string) (*models.TaskRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		run *models.TaskRun
		err error
	)
	attempts := t.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		run, err = t.invoke(ctx, trigger, attempt)
		if err == nil {
			return run, nil
		}
		if attempt == attempts {
			break
		}
		t.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", t.backoff).Msg("run failed, retrying")
		if t.backoff > 0 {
			select {
			case <-ctx.Done():
				return run, ctx.Err()
			case <-t.clock.After(t.backoff):
			}
		}
	}
	return run, fmt.Errorf("midnight run failed after %d attempt(s): %w", attempts, err)
}

func (t *Trigger) invoke(ctx context.Context, trigger string, attempt int) (*models.TaskRun, error) {
	t.metrics.IncRunAttempt()
	run := &models.TaskRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Attempt:   attempt,
		StartedAt: t.clock.Now().UTC(),
	}

	results, runErr := t.runner.Run(ctx)
	finished := t.clock.Now().UTC()
	run.FinishedAt = &finished
	run.Results = results
	run.Succeeded, run.Failed = CountResults(results)
	if runErr != nil {
		run.FatalError = runErr.Error()
		t.metrics.IncRunnerFatal()
	}

	t.record(ctx, run)

	evt := t.logger.Info()
	if runErr != nil {
		evt = t.logger.Error().Err(runErr)
	}
	evt.Str("run_id", run.ID).
		Str("trigger", trigger).
		Int("attempt", attempt).
		Int("succeeded", run.Succeeded).
		Int("failed", run.Failed).
		Dur("elapsed", finished.Sub(run.StartedAt)).
		Msg("midnight run finished")
	return run, runErr
}

// record persists the run and archives its report. Neither failure affects
// the run's outcome.
func (t *Trigger) record(ctx context.Context, run *models.TaskRun) {
	if t.archive != nil {
		url, err := t.archive.ArchiveRun(ctx, run)
		if err != nil {
			t.logger.Warn().Err(err).Str("run_id", run.ID).Msg("run report not archived")
		} else {
			run.ReportURL = url
		}
	}
	if err := t.DB.WithContext(ctx).Create(run).Error; err != nil {
		t.logger.Error().Err(err).Str("run_id", run.ID).Msg("run not persisted")
	}
}

// LatestRun returns the most recently started run.
func (t *Trigger) LatestRun(ctx context.Context) (*models.TaskRun, error) {
	var run models.TaskRun
	if err := t.DB.WithContext(ctx).Order("started_at DESC").First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// Scheduler fires the trigger on a cron schedule in the calendar's zone.
type Scheduler struct {
	sched  gocron.Scheduler
	job    gocron.Job
	logger zerolog.Logger
}

func NewScheduler(ctx context.Context, trigger *Trigger, calendar *utils.Calendar, cronExpr string, logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("component", "scheduler").Logger()
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(calendar.Location()),
		gocron.WithClock(calendar.Clock()),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	job, err := sched.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			if _, err := trigger.Fire(ctx, models.TriggerSchedule); err != nil {
				logger.Error().Err(err).Msg("scheduled run gave up")
			}
		}),
		gocron.WithName("midnight-tasks"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule midnight tasks (%q): %w", cronExpr, err)
	}
	return &Scheduler{sched: sched, job: job, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	if next, err := s.job.NextRun(); err == nil {
		s.logger.Info().Time("next_run", next).Msg("scheduler started")
	}
}

func (s *Scheduler) NextRun() (time.Time, error) {
	return s.job.NextRun()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
