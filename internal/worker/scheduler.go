package worker

import (
	"context"
	"sync/atomic"
	"time"

	"gemindex/internal/models"
	"gemindex/internal/storage"

	"github.com/rs/zerolog"
)

const (
	// DefaultTickInterval is used when no (or an out-of-range) period
	// is configured.
	DefaultTickInterval = time.Minute
	// minTickInterval is the enforced floor; configured periods at or
	// under it fall back to the default.
	minTickInterval = 5 * time.Second

	// intervalMaxTasks is the smaller task budget for timer-driven
	// ticks; manual ticks use DefaultMaxTasks.
	intervalMaxTasks = 8
)

// Scheduler is the in-process periodic tick driver. Its lifetime
// equals the process lifetime; there is no runtime stop.
type Scheduler struct {
	orch     *Orchestrator
	store    *storage.Store
	interval time.Duration
	disabled bool
	logger   zerolog.Logger
	started  atomic.Bool
}

func NewScheduler(orch *Orchestrator, store *storage.Store, interval time.Duration, disabled bool, logger *zerolog.Logger) *Scheduler {
	if interval <= minTickInterval {
		interval = DefaultTickInterval
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Scheduler{orch: orch, store: store, interval: interval, disabled: disabled, logger: l}
}

// Start arms the timer once. The first call fires a startup tick and
// returns true; later calls, and all calls when the scheduler is
// disabled by configuration, return false without effect.
func (s *Scheduler) Start(ctx context.Context) bool {
	if s.disabled {
		return false
	}
	if !s.started.CompareAndSwap(false, true) {
		return false
	}

	// Best effort; the scheduler still runs if this write fails.
	_ = s.store.Mutate(ctx, func(doc *models.Document) error {
		now := time.Now()
		doc.Sync.SchedulerStartedAt = &now
		return nil
	})

	s.logger.Info().Dur("interval", s.interval).Msg("background scheduler started")
	go s.loop(ctx)
	return true
}

func (s *Scheduler) loop(ctx context.Context) {
	s.tick(ctx, "startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, "interval")
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, source string) {
	if _, err := s.orch.Tick(ctx, source, intervalMaxTasks); err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("scheduled tick failed")
	}
}
