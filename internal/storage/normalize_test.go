package storage

import (
	"fmt"
	"testing"
	"time"

	"gemindex/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNilDocumentGetsSeeded(t *testing.T) {
	doc := normalize(nil, nil)

	assert.Equal(t, documentVersion, doc.Version)
	assert.Len(t, doc.Users, 1)
	assert.Len(t, doc.SyncJobs, 3)
	assert.NotNil(t, doc.SyncTasks)
	assert.NotNil(t, doc.EmailVerificationTokens)
}

func TestNormalizeKeepsPersistedJobOverrides(t *testing.T) {
	next := time.Now().Add(3 * time.Hour)
	doc := &models.Document{
		SyncJobs: []models.SyncJobRecord{
			{
				ID:              "job_catalog_sync",
				Type:            models.JobTypeCatalogSync,
				Enabled:         false,
				IntervalMinutes: 1440,
				NextRunAt:       next,
			},
		},
	}

	doc = normalize(doc, nil)

	catalog := doc.FindJob("job_catalog_sync")
	require.NotNil(t, catalog)
	assert.False(t, catalog.Enabled, "persisted enabled flag must win")
	assert.Equal(t, 1440, catalog.IntervalMinutes)
	assert.Equal(t, next, catalog.NextRunAt)
	// Structural gaps are filled from the built-in catalog.
	assert.Equal(t, "Catalog Sync", catalog.Name)
	require.NotNil(t, catalog.Options)
	assert.Equal(t, 15, catalog.Options.PageLimit)

	// Missing defaults are appended.
	assert.NotNil(t, doc.FindJob("job_sales_sync"))
	assert.NotNil(t, doc.FindJob("job_tcgplayer_direct_sync"))
}

func TestNormalizeFillsInvalidJobFields(t *testing.T) {
	doc := &models.Document{
		SyncJobs: []models.SyncJobRecord{
			{ID: "job_sales_sync", Type: models.JobTypeSalesSync, Enabled: true, IntervalMinutes: 0},
		},
	}

	doc = normalize(doc, nil)

	sales := doc.FindJob("job_sales_sync")
	require.NotNil(t, sales)
	assert.Equal(t, 60, sales.IntervalMinutes)
	assert.False(t, sales.NextRunAt.IsZero())
}

func TestNormalizeForcesCapabilityMissingJobsOff(t *testing.T) {
	doc := &models.Document{
		SyncJobs: []models.SyncJobRecord{
			{ID: "job_tcgplayer_direct_sync", Type: models.JobTypeTCGPlayerDirectSync, Enabled: true, IntervalMinutes: 180, NextRunAt: time.Now()},
		},
	}

	doc = normalize(doc, map[string]bool{models.JobTypeTCGPlayerDirectSync: true})

	direct := doc.FindJob("job_tcgplayer_direct_sync")
	require.NotNil(t, direct)
	assert.False(t, direct.Enabled)
}

func TestNormalizeRepairsDanglingUserReferences(t *testing.T) {
	now := time.Now()
	doc := &models.Document{
		Users: []models.UserRecord{{ID: "user_alive"}},
		CollectionItems: []models.CollectionItem{
			{ID: "col_1", UserID: "user_alive", CardID: "card_1"},
			{ID: "col_2", UserID: "user_deleted", CardID: "card_2"},
		},
		WishlistItems: []models.WishlistItem{
			{ID: "wish_1", UserID: "user_deleted", CardID: "card_1"},
		},
		EmailVerificationTokens: []models.AuthToken{
			{ID: "tok_1", UserID: "user_alive", ExpiresAt: now.Add(time.Hour)},
			{ID: "tok_2", UserID: "user_deleted", ExpiresAt: now.Add(time.Hour)},
		},
	}

	doc = normalize(doc, nil)

	assert.Equal(t, "user_alive", doc.CollectionItems[1].UserID)
	assert.Equal(t, "user_alive", doc.WishlistItems[0].UserID)
	require.Len(t, doc.EmailVerificationTokens, 1)
	assert.Equal(t, "tok_1", doc.EmailVerificationTokens[0].ID)
}

func TestNormalizeTrimsTaskHistory(t *testing.T) {
	doc := &models.Document{}
	for i := 0; i < models.MaxTaskHistory+100; i++ {
		doc.SyncTasks = append(doc.SyncTasks, models.SyncTaskRecord{
			ID: fmt.Sprintf("task_%d", i),
		})
	}

	doc = normalize(doc, nil)

	require.Len(t, doc.SyncTasks, models.MaxTaskHistory)
	// Oldest entries are dropped first.
	assert.Equal(t, "task_100", doc.SyncTasks[0].ID)
}
