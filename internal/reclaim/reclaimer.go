// Package reclaim finds tasks stuck in an active state past a staleness
// threshold and forces them into the terminal "interrupted" state. A task
// whose worker crashed leaves no natural terminal transition; the threshold
// is a heuristic liveness timeout, not a hard guarantee.
package reclaim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/mirror"
	"github.com/intexuraos/code-dispatch/internal/observability"
	"github.com/intexuraos/code-dispatch/internal/taskstore"
)

// DefaultThreshold is how long an active task may go without an update
// before it is presumed abandoned
const DefaultThreshold = 30 * time.Minute

// TaskStore is the slice of the task store the reclaimer needs
type TaskStore interface {
	FindZombieTasks(ctx context.Context, staleBefore time.Time) ([]*domain.CodeTask, error)
	Update(ctx context.Context, id string, patch taskstore.TaskPatch) (*domain.CodeTask, error)
}

// Report summarizes one reclamation pass
type Report struct {
	Detected    int
	Interrupted int
	Errors      []error
}

// Reclaimer is a stateless periodic procedure over the task store
type Reclaimer struct {
	store     TaskStore
	mirror    *mirror.Mirror
	threshold time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reclaimer. A zero threshold uses DefaultThreshold.
func New(store TaskStore, statusMirror *mirror.Mirror, threshold time.Duration, logger *slog.Logger) *Reclaimer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{
		store:     store,
		mirror:    statusMirror,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one reclamation pass. Per-task failures are accumulated into
// the report rather than aborting the batch: one locked record must not
// block reclamation of the rest.
func (r *Reclaimer) Run(ctx context.Context) (Report, error) {
	staleBefore := r.now().Add(-r.threshold)

	zombies, err := r.store.FindZombieTasks(ctx, staleBefore)
	if err != nil {
		return Report{}, fmt.Errorf("querying zombie tasks: %w", err)
	}

	report := Report{Detected: len(zombies)}
	observability.ZombiesDetected.Add(float64(len(zombies)))

	status := domain.StatusInterrupted
	for _, task := range zombies {
		if _, err := r.store.Update(ctx, task.ID, taskstore.TaskPatch{
			Status: &status,
			Error: &domain.TaskError{
				Code:    "zombie_reclaimed",
				Message: fmt.Sprintf("no update since %s, presumed abandoned", task.UpdatedAt.Format(time.RFC3339)),
			},
		}); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}

		report.Interrupted++
		observability.ZombiesInterrupted.Inc()
		r.logger.Info("reclaimed zombie task",
			slog.String("task_id", task.ID),
			slog.String("previous_status", string(task.Status)),
			slog.Time("last_update", task.UpdatedAt))

		if r.mirror != nil {
			r.mirror.MirrorStatus(ctx, mirror.Params{
				ActionID:   task.ActionID,
				TaskStatus: domain.StatusInterrupted,
				TraceID:    task.TraceID,
			})
		}
	}

	return report, nil
}

// Start runs reclamation passes on the given cron schedule until the context
// is cancelled. Pass failures are logged, never fatal.
func (r *Reclaimer) Start(ctx context.Context, cronExpr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid reclaim cron %q: %w", cronExpr, err)
	}

	r.logger.Info("zombie reclaimer started",
		slog.String("cron", cronExpr),
		slog.Duration("threshold", r.threshold))

	for {
		next := sched.Next(r.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		report, err := r.Run(ctx)
		if err != nil {
			r.logger.Error("reclamation pass failed", slog.String("error", err.Error()))
			continue
		}
		if report.Detected > 0 || len(report.Errors) > 0 {
			r.logger.Info("reclamation pass finished",
				slog.Int("detected", report.Detected),
				slog.Int("interrupted", report.Interrupted),
				slog.Int("errors", len(report.Errors)))
		}
	}
}
