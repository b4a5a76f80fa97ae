package worker

import (
	"context"
	"fmt"
	"time"

	"gemindex/internal/models"
	"gemindex/internal/storage"

	"github.com/rs/zerolog"
)

// TickNotifier wakes a tick in another process. Delivery is
// best-effort; the orchestrator never depends on it for correctness.
type TickNotifier interface {
	PublishTick(ctx context.Context, source string) error
}

// Tasks creates one-shot background tasks. There is no cancel or
// remove operation; a PENDING task can only be consumed by a tick.
type Tasks struct {
	store    *storage.Store
	notifier TickNotifier
	logger   zerolog.Logger
}

func NewTasks(store *storage.Store, notifier TickNotifier, logger *zerolog.Logger) *Tasks {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Tasks{store: store, notifier: notifier, logger: l}
}

// Enqueue appends a PENDING task record and returns it without waiting
// for execution. History is trimmed to the newest entries.
func (t *Tasks) Enqueue(ctx context.Context, jobType, requestedBy string, opts *models.SyncOptions) (models.SyncTaskRecord, error) {
	record := models.SyncTaskRecord{
		ID:          models.NextID("task"),
		Type:        jobType,
		Status:      models.TaskStatusPending,
		RequestedBy: requestedBy,
		Options:     opts,
		CreatedAt:   time.Now(),
	}

	err := t.store.Mutate(ctx, func(doc *models.Document) error {
		doc.SyncTasks = append(doc.SyncTasks, record)
		doc.TrimTaskHistory()
		return nil
	})
	if err != nil {
		return models.SyncTaskRecord{}, fmt.Errorf("enqueue sync task: %w", err)
	}

	if t.notifier != nil {
		if err := t.notifier.PublishTick(ctx, "enqueue-task"); err != nil {
			t.logger.Debug().Err(err).Msg("tick notify failed, task will wait for the next tick")
		}
	}

	return record, nil
}
