package services

import (
	"context"
	"fmt"
	"runtime/debug"

	"challenge-tasks/metrics"
	"challenge-tasks/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Task is one unit of the midnight run. After lists tasks that must run
// first; a disabled task still anchors the order of the tasks around it.
type Task struct {
	Name    string
	Enabled bool
	After   []string
	Run     func(ctx context.Context) error
}

// Runner executes tasks in dependency order. A failing or panicking task is
// recorded and the run moves on; only planning errors and cancellation stop
// a run.
type Runner struct {
	tasks   []Task
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewRunner(tasks []Task, clock clockwork.Clock, m *metrics.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		tasks:   tasks,
		clock:   clock,
		metrics: m,
		logger:  logger.With().Str("component", "runner").Logger(),
	}
}

// Plan orders the tasks so each runs after its dependencies. Ties keep
// declaration order.
func (r *Runner) Plan() ([]Task, error) {
	index := make(map[string]int, len(r.tasks))
	for i, t := range r.tasks {
		if _, dup := index[t.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
		}
		index[t.Name] = i
	}

	pending := make([]int, len(r.tasks))
	dependents := make([][]int, len(r.tasks))
	for i, t := range r.tasks {
		for _, dep := range t.After {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %q needs %q", ErrUnknownDependency, t.Name, dep)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	plan := make([]Task, 0, len(r.tasks))
	done := make([]bool, len(r.tasks))
	for len(plan) < len(r.tasks) {
		next := -1
		for i := range r.tasks {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, t := range r.tasks {
				if !done[i] {
					stuck = append(stuck, t.Name)
				}
			}
			return nil, fmt.Errorf("%w: %v", ErrTaskCycle, stuck)
		}
		done[next] = true
		plan = append(plan, r.tasks[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return plan, nil
}

// Run executes every enabled task once and returns their results in
// execution order.
func (r *Runner) Run(ctx context.Context) ([]models.TaskResult, error) {
	plan, err := r.Plan()
	if err != nil {
		return nil, fmt.Errorf("plan tasks: %w", err)
	}

	results := make([]models.TaskResult, 0, len(plan))
	for _, task := range plan {
		if !task.Enabled {
			r.logger.Debug().Str("task", task.Name).Msg("task disabled, skipping")
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("run cancelled before %s: %w", task.Name, err)
		}

		start := r.clock.Now()
		taskErr := r.execute(ctx, task)
		elapsed := r.clock.Since(start)

		result := models.TaskResult{
			TaskName:   task.Name,
			Success:    taskErr == nil,
			DurationMs: elapsed.Milliseconds(),
		}
		if taskErr != nil {
			result.Error = taskErr.Error()
			r.logger.Error().Err(taskErr).Str("task", task.Name).Dur("elapsed", elapsed).Msg("task failed")
		} else {
			r.logger.Info().Str("task", task.Name).Dur("elapsed", elapsed).Msg("task finished")
		}
		r.metrics.ObserveTask(task.Name, result.Success, elapsed)
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("task", task.Name).Bytes("stack", debug.Stack()).Msg("task panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if task.Run == nil {
		return fmt.Errorf("task %s has no body", task.Name)
	}
	return task.Run(ctx)
}

// CountResults returns how many tasks succeeded and failed.
func CountResults(results []models.TaskResult) (succeeded, failed int) {
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
