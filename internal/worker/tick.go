package worker

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"gemindex/internal/metrics"
	"gemindex/internal/models"
	"gemindex/internal/storage"

	"github.com/rs/zerolog"
)

// DefaultMaxTasks is the per-tick task budget for manual ticks.
const DefaultMaxTasks = 10

// TickResult is the aggregate outcome of one orchestrator tick.
type TickResult struct {
	Skipped        bool   `json:"skipped"`
	Source         string `json:"source"`
	TasksProcessed int    `json:"tasksProcessed"`
	JobsProcessed  int    `json:"jobsProcessed"`
}

// Orchestrator drains pending tasks and runs due jobs. At most one
// tick runs at a time within a process; a tick arriving while another
// is in flight is reported as skipped, never queued.
//
// Across processes there is no claim reconciliation: correctness
// relies on the PENDING->RUNNING transition being persisted before
// another process's next fresh read.
type Orchestrator struct {
	store    *storage.Store
	runner   *Runner
	logger   zerolog.Logger
	inFlight atomic.Bool
}

func NewOrchestrator(store *storage.Store, runner *Runner, logger *zerolog.Logger) *Orchestrator {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Orchestrator{store: store, runner: runner, logger: l}
}

// Tick processes up to maxTasks pending tasks in creation order, then
// all due jobs in nextRunAt order. Executor failures are absorbed into
// task/job state; only store-level errors propagate.
func (o *Orchestrator) Tick(ctx context.Context, source string, maxTasks int) (TickResult, error) {
	if source == "" {
		source = "manual"
	}
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		metrics.IncTick(source, "skipped")
		return TickResult{Skipped: true, Source: source}, nil
	}
	defer o.inFlight.Store(false)

	result := TickResult{Source: source}

	if err := cleanupAuthTokens(ctx, o.store); err != nil {
		return result, err
	}

	err := o.store.Mutate(ctx, func(doc *models.Document) error {
		now := time.Now()
		doc.Sync.LastWorkerRunAt = &now
		return nil
	})
	if err != nil {
		return result, err
	}

	tasks, err := o.pendingTasks(ctx, maxTasks)
	if err != nil {
		return result, err
	}
	for _, task := range tasks {
		claimed, err := o.claimTask(ctx, task.ID)
		if err != nil {
			return result, err
		}
		if !claimed {
			// Another process got there first; leave it alone.
			continue
		}
		if err := o.executeTask(ctx, task); err != nil {
			return result, err
		}
		result.TasksProcessed++
	}

	jobs, err := o.dueJobs(ctx)
	if err != nil {
		return result, err
	}
	for _, job := range jobs {
		ran, err := o.runScheduledJob(ctx, job)
		if err != nil {
			return result, err
		}
		if ran {
			result.JobsProcessed++
		}
	}

	metrics.IncTick(source, "completed")
	o.logger.Debug().
		Str("source", source).
		Int("tasks", result.TasksProcessed).
		Int("jobs", result.JobsProcessed).
		Msg("worker tick completed")

	return result, nil
}

func (o *Orchestrator) pendingTasks(ctx context.Context, maxTasks int) ([]models.SyncTaskRecord, error) {
	doc, err := o.store.Read(ctx, true)
	if err != nil {
		return nil, err
	}

	var pending []models.SyncTaskRecord
	for _, task := range doc.SyncTasks {
		if task.Status == models.TaskStatusPending {
			pending = append(pending, task)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > maxTasks {
		pending = pending[:maxTasks]
	}
	return pending, nil
}

func (o *Orchestrator) dueJobs(ctx context.Context) ([]models.SyncJobRecord, error) {
	doc, err := o.store.Read(ctx, true)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var due []models.SyncJobRecord
	for _, job := range doc.SyncJobs {
		if job.Enabled && !job.Running && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	return due, nil
}

// claimTask transitions PENDING->RUNNING. Returns false when the task
// is gone or no longer PENDING.
func (o *Orchestrator) claimTask(ctx context.Context, taskID string) (bool, error) {
	claimed := false
	err := o.store.Mutate(ctx, func(doc *models.Document) error {
		row := doc.FindTask(taskID)
		if row == nil || row.Status != models.TaskStatusPending {
			return nil
		}
		now := time.Now()
		row.Status = models.TaskStatusRunning
		row.StartedAt = &now
		claimed = true
		return nil
	})
	return claimed, err
}

func (o *Orchestrator) executeTask(ctx context.Context, task models.SyncTaskRecord) error {
	counters, execErr := o.runner.Run(ctx, task.Type, task.Options)
	if execErr != nil {
		metrics.IncTask(models.TaskStatusFailed)
		o.logger.Warn().Err(execErr).Str("task_id", task.ID).Str("type", task.Type).Msg("sync task failed")

		message := execErr.Error()
		return o.store.Mutate(ctx, func(doc *models.Document) error {
			row := doc.FindTask(task.ID)
			if row == nil {
				return nil
			}
			now := time.Now()
			row.Status = models.TaskStatusFailed
			row.FinishedAt = &now
			row.Error = message
			doc.Sync.LastError = timestamped(now, message)
			return nil
		})
	}

	metrics.IncTask(models.TaskStatusCompleted)
	summary := Summarize(counters)
	return o.store.Mutate(ctx, func(doc *models.Document) error {
		row := doc.FindTask(task.ID)
		if row == nil {
			return nil
		}
		now := time.Now()
		row.Status = models.TaskStatusCompleted
		row.FinishedAt = &now
		row.ResultSummary = summary
		return nil
	})
}

// runScheduledJob executes one due job. Returns false when the claim
// found the job already running, disabled, or deleted.
func (o *Orchestrator) runScheduledJob(ctx context.Context, job models.SyncJobRecord) (bool, error) {
	claimed := false
	err := o.store.Mutate(ctx, func(doc *models.Document) error {
		row := doc.FindJob(job.ID)
		if row == nil || !row.Enabled || row.Running {
			return nil
		}
		now := time.Now()
		row.Running = true
		row.LastRunAt = &now
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return false, err
	}

	counters, execErr := o.runner.Run(ctx, job.Type, job.Options)
	if execErr != nil {
		metrics.IncJob(models.JobStatusFailed)
		o.logger.Warn().Err(execErr).Str("job_id", job.ID).Str("type", job.Type).Msg("scheduled job failed")

		message := execErr.Error()
		err := o.store.Mutate(ctx, func(doc *models.Document) error {
			row := doc.FindJob(job.ID)
			if row == nil {
				return nil
			}
			now := time.Now()
			row.Running = false
			row.LastStatus = models.JobStatusFailed
			row.LastError = message
			// Backoff: half the interval, never under five minutes.
			row.NextRunAt = now.Add(time.Duration(max(5, ceilDiv(row.IntervalMinutes, 2))) * time.Minute)
			doc.Sync.LastError = timestamped(now, message)
			return nil
		})
		return true, err
	}

	metrics.IncJob(models.JobStatusSuccess)
	summary := Summarize(counters)
	err = o.store.Mutate(ctx, func(doc *models.Document) error {
		row := doc.FindJob(job.ID)
		if row == nil {
			return nil
		}
		now := time.Now()
		row.Running = false
		row.LastStatus = models.JobStatusSuccess
		row.LastSuccessAt = &now
		row.LastError = ""
		row.NextRunAt = now.Add(time.Duration(max(1, row.IntervalMinutes)) * time.Minute)

		started := now
		if row.LastRunAt != nil {
			started = *row.LastRunAt
		}
		startedAt := started
		finishedAt := now
		doc.SyncTasks = append(doc.SyncTasks, models.SyncTaskRecord{
			ID:            models.NextID("task"),
			Type:          row.Type,
			Status:        models.TaskStatusCompleted,
			RequestedBy:   "scheduler",
			Options:       row.Options,
			CreatedAt:     started,
			StartedAt:     &startedAt,
			FinishedAt:    &finishedAt,
			ResultSummary: summary,
		})
		doc.TrimTaskHistory()

		doc.Sync.LastError = ""
		return nil
	})
	return true, err
}

func timestamped(now time.Time, message string) string {
	return fmt.Sprintf("%s %s", now.Format(time.RFC3339), message)
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}
