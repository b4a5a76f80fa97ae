package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerIntervalFloorFallsBackToDefault(t *testing.T) {
	store := newTestStore(t)
	logger := zerolog.New(io.Discard)
	orch := NewOrchestrator(store, NewRunner(), &logger)

	s := NewScheduler(orch, store, 3*time.Second, false, &logger)
	assert.Equal(t, DefaultTickInterval, s.interval)

	s = NewScheduler(orch, store, 5*time.Second, false, &logger)
	assert.Equal(t, DefaultTickInterval, s.interval)

	s = NewScheduler(orch, store, 30*time.Second, false, &logger)
	assert.Equal(t, 30*time.Second, s.interval)
}

func TestSchedulerStartOnceAndStartupTick(t *testing.T) {
	store := newTestStore(t)
	logger := zerolog.New(io.Discard)
	orch := NewOrchestrator(store, NewRunner(), &logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(orch, store, time.Hour, false, &logger)
	assert.True(t, s.Start(ctx))
	assert.False(t, s.Start(ctx), "second start must be a no-op")

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	assert.NotNil(t, doc.Sync.SchedulerStartedAt)

	// The startup tick leaves a worker-run marker.
	deadline := time.After(2 * time.Second)
	for {
		doc, err = store.Read(ctx, true)
		require.NoError(t, err)
		if doc.Sync.LastWorkerRunAt != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("startup tick never ran")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestSchedulerDisabledNeverStarts(t *testing.T) {
	store := newTestStore(t)
	logger := zerolog.New(io.Discard)
	orch := NewOrchestrator(store, NewRunner(), &logger)

	s := NewScheduler(orch, store, time.Hour, true, &logger)
	assert.False(t, s.Start(context.Background()))
	assert.False(t, s.started.Load())
}
