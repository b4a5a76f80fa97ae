package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gemindex/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := NewStore(Options{
		Fallback: NewFileBackend(filepath.Join(t.TempDir(), "state.json")),
		Logger:   &logger,
	})
	t.Cleanup(store.Close)
	return store
}

// brokenBackend fails every operation, simulating a primary outage.
type brokenBackend struct {
	loads int
	saves int
}

func (b *brokenBackend) Name() string { return "sqlite" }

func (b *brokenBackend) Load(context.Context) (*models.Document, error) {
	b.loads++
	return nil, errors.New("connection refused")
}

func (b *brokenBackend) Save(context.Context, *models.Document) error {
	b.saves++
	return errors.New("connection refused")
}

func TestStoreSeedsOnFirstRead(t *testing.T) {
	store := newFileStore(t)

	doc, err := store.Read(context.Background(), false)
	require.NoError(t, err)

	assert.Len(t, doc.Users, 1)
	assert.Len(t, doc.SyncJobs, 3)
	assert.NotEmpty(t, doc.Sets)
	assert.Equal(t, documentVersion, doc.Version)
}

func TestStoreMutatePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()

	first := NewStore(Options{Fallback: NewFileBackend(path)})
	err := first.Mutate(ctx, func(doc *models.Document) error {
		doc.SyncTasks = append(doc.SyncTasks, models.SyncTaskRecord{
			ID:        "task_persisted",
			Type:      models.JobTypeSalesSync,
			Status:    models.TaskStatusPending,
			CreatedAt: time.Now(),
		})
		return nil
	})
	require.NoError(t, err)
	first.Close()

	second := NewStore(Options{Fallback: NewFileBackend(path)})
	defer second.Close()

	doc, err := second.Read(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, doc.FindTask("task_persisted"))
}

func TestStoreMutateErrorDoesNotPersist(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	err := store.Mutate(ctx, func(doc *models.Document) error {
		doc.SyncTasks = append(doc.SyncTasks, models.SyncTaskRecord{ID: "task_half_done"})
		return errors.New("validation failed")
	})
	assert.EqualError(t, err, "validation failed")

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, doc.FindTask("task_half_done"))

	// The queue keeps serving after a failed mutation.
	err = store.Mutate(ctx, func(doc *models.Document) error { return nil })
	assert.NoError(t, err)
}

func TestStoreFailsOverForProcessLifetime(t *testing.T) {
	primary := &brokenBackend{}
	logger := zerolog.New(io.Discard)
	store := NewStore(Options{
		Primary:  primary,
		Fallback: NewFileBackend(filepath.Join(t.TempDir(), "state.json")),
		Logger:   &logger,
	})
	defer store.Close()
	ctx := context.Background()

	assert.Equal(t, "sqlite", store.Mode())

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	assert.Len(t, doc.SyncJobs, 3)
	assert.Equal(t, "file", store.Mode())

	loadsAfterDowngrade := primary.loads
	err = store.Mutate(ctx, func(doc *models.Document) error { return nil })
	require.NoError(t, err)
	_, err = store.Read(ctx, true)
	require.NoError(t, err)

	// Downgrade is permanent: the primary is never probed again.
	assert.Equal(t, loadsAfterDowngrade, primary.loads)
	assert.Zero(t, primary.saves)
}

func TestStoreConcurrentMutationsAllApply(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Mutate(ctx, func(doc *models.Document) error {
				doc.SyncTasks = append(doc.SyncTasks, models.SyncTaskRecord{
					ID:        models.NextID("task"),
					Type:      models.JobTypeSalesSync,
					Status:    models.TaskStatusPending,
					CreatedAt: time.Now(),
				})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	assert.Len(t, doc.SyncTasks, writers)
}

func TestStoreMutateAfterClose(t *testing.T) {
	store := newFileStore(t)
	store.Close()

	err := store.Mutate(context.Background(), func(doc *models.Document) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEnsureExistsIsIdempotent(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureExists(ctx))
	require.NoError(t, store.EnsureExists(ctx))

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	assert.Len(t, doc.Users, 1)
}

func TestStoreCachesUntilForceFresh(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	first, err := store.Read(ctx, false)
	require.NoError(t, err)
	second, err := store.Read(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
