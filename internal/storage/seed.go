package storage

import (
	"time"

	"gemindex/internal/models"
)

// documentVersion is the current document schema version. Older
// persisted shapes are brought up to it by normalize.
const documentVersion = 4

const fallbackUserID = "user_default"

// DefaultJobs is the built-in job catalog merged onto whatever was
// persisted. Intervals and options follow the product defaults.
func DefaultJobs(now time.Time) []models.SyncJobRecord {
	return []models.SyncJobRecord{
		{
			ID:              "job_catalog_sync",
			Type:            models.JobTypeCatalogSync,
			Name:            "Catalog Sync",
			Enabled:         true,
			IntervalMinutes: 720,
			NextRunAt:       now,
			Options:         &models.SyncOptions{PageLimit: 15},
		},
		{
			ID:              "job_sales_sync",
			Type:            models.JobTypeSalesSync,
			Name:            "Sales Sync",
			Enabled:         true,
			IntervalMinutes: 60,
			NextRunAt:       now,
			Options:         &models.SyncOptions{PageLimit: 20},
		},
		{
			ID:              "job_tcgplayer_direct_sync",
			Type:            models.JobTypeTCGPlayerDirectSync,
			Name:            "TCGplayer Direct Sync",
			Enabled:         false,
			IntervalMinutes: 180,
			NextRunAt:       now,
			Options:         &models.SyncOptions{CardLimit: 150},
		},
	}
}

// SeedDocument builds the default document used when no state has
// been persisted yet.
func SeedDocument() *models.Document {
	now := time.Now()
	synced := now

	return &models.Document{
		Version: documentVersion,
		Users: []models.UserRecord{
			{
				ID:        fallbackUserID,
				Name:      "Demo Admin",
				Email:     "demo@gemindex.local",
				Role:      models.RoleAdmin,
				CreatedAt: now,
			},
		},
		Sets: []models.SetRecord{
			{
				ID:           "set_ptcg-swsh7",
				Code:         "swsh7",
				Name:         "Evolving Skies",
				Series:       "Sword & Shield",
				ReleaseDate:  "2021/08/27",
				Source:       "POKEMONTCG",
				ExternalID:   "swsh7",
				LastSyncedAt: &synced,
			},
		},
		Cards: []models.CardRecord{
			{
				ID:           "card_ptcg-swsh7-215",
				SetID:        "set_ptcg-swsh7",
				Name:         "Umbreon VMAX",
				CardNumber:   "215",
				Rarity:       "Rare Rainbow",
				Source:       "POKEMONTCG",
				ExternalID:   "swsh7-215",
				LastSyncedAt: &synced,
			},
		},
		Sales:                   []models.SaleRecord{},
		SyncJobs:                DefaultJobs(now),
		SyncTasks:               []models.SyncTaskRecord{},
		CollectionItems:         []models.CollectionItem{},
		WishlistItems:           []models.WishlistItem{},
		EmailVerificationTokens: []models.AuthToken{},
		PasswordResetTokens:     []models.AuthToken{},
	}
}
