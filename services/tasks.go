package services

import (
	"context"

	"challenge-tasks/config"
)

// Midnight task names, also used as metric labels.
const (
	TaskReminders          = "reminders"
	TaskDeadlineProcessing = "deadline-processing"
	TaskReleasedScores     = "released-scores"
	TaskStatsRollover      = "stats-prev-rollover"
	TaskPublicStats        = "public-stats-recompute"
)

type TaskSet struct {
	Reminders *ReminderService
	Lifecycle *LifecycleService
	Scores    *ScoresService
	Stats     *StatsService
}

// MidnightTasks declares the daily tasks and their ordering.
//
// Reminders go first so a challenge due in a few days is evaluated before
// anything else touches it. Released scores run after deadline processing;
// a challenge never passes through both on the same night because only
// judging challenges are completed. The rollover must see every stat write
// of the night, and the public counters are recomputed last.
func MidnightTasks(set TaskSet, toggles config.Tasks) []Task {
	return []Task{
		{
			Name:    TaskReminders,
			Enabled: toggles.Reminders,
			Run: func(ctx context.Context) error {
				_, err := set.Reminders.SendDeadlineReminders(ctx)
				return err
			},
		},
		{
			Name:    TaskDeadlineProcessing,
			Enabled: toggles.DeadlineProcessing,
			After:   []string{TaskReminders},
			Run: func(ctx context.Context) error {
				_, err := set.Lifecycle.ProcessDeadlines(ctx)
				return err
			},
		},
		{
			Name:    TaskReleasedScores,
			Enabled: toggles.ReleasedScores,
			After:   []string{TaskDeadlineProcessing},
			Run: func(ctx context.Context) error {
				_, err := set.Scores.ProcessReleasedScores(ctx)
				return err
			},
		},
		{
			Name:    TaskStatsRollover,
			Enabled: toggles.StatsRollover,
			After:   []string{TaskDeadlineProcessing, TaskReleasedScores},
			Run: func(ctx context.Context) error {
				_, err := set.Stats.RolloverMonthly(ctx)
				return err
			},
		},
		{
			Name:    TaskPublicStats,
			Enabled: toggles.PublicStats,
			After:   []string{TaskStatsRollover},
			Run: func(ctx context.Context) error {
				_, err := set.Stats.RecomputePublicStats(ctx)
				return err
			},
		},
	}
}
