package storage

import (
	"time"

	"gemindex/internal/models"
)

// normalize is the single migration/repair pass run on every load. It
// brings older or partial persisted shapes up to the current document
// version: required collections are materialized, built-in job
// defaults are merged onto persisted jobs, records pointing at a
// removed user are reassigned to the fallback user, and stale auth
// tokens of unknown users are dropped.
func normalize(doc *models.Document, disabledJobTypes map[string]bool) *models.Document {
	seed := SeedDocument()
	if doc == nil {
		doc = &models.Document{}
	}
	doc.Version = documentVersion

	if len(doc.Users) == 0 {
		doc.Users = seed.Users
	}
	if doc.Sets == nil {
		doc.Sets = seed.Sets
	}
	if doc.Cards == nil {
		doc.Cards = seed.Cards
	}
	if doc.Sales == nil {
		doc.Sales = seed.Sales
	}
	if doc.CollectionItems == nil {
		doc.CollectionItems = seed.CollectionItems
	}
	if doc.WishlistItems == nil {
		doc.WishlistItems = seed.WishlistItems
	}
	if doc.SyncTasks == nil {
		doc.SyncTasks = []models.SyncTaskRecord{}
	}
	if doc.EmailVerificationTokens == nil {
		doc.EmailVerificationTokens = []models.AuthToken{}
	}
	if doc.PasswordResetTokens == nil {
		doc.PasswordResetTokens = []models.AuthToken{}
	}

	doc.SyncJobs = mergeDefaultJobs(doc.SyncJobs, DefaultJobs(time.Now()))

	// A job whose required external capability is missing stays off no
	// matter what was persisted.
	for i := range doc.SyncJobs {
		if disabledJobTypes[doc.SyncJobs[i].Type] {
			doc.SyncJobs[i].Enabled = false
		}
	}

	repairUserReferences(doc)
	doc.TrimTaskHistory()

	return doc
}

// mergeDefaultJobs overlays the built-in catalog onto persisted jobs.
// Persisted enabled/running/nextRunAt and option overrides win;
// structural gaps are filled from defaults.
func mergeDefaultJobs(existing, defaults []models.SyncJobRecord) []models.SyncJobRecord {
	out := append([]models.SyncJobRecord(nil), existing...)

	for _, def := range defaults {
		var found *models.SyncJobRecord
		for i := range out {
			if out[i].ID == def.ID || out[i].Type == def.Type {
				found = &out[i]
				break
			}
		}
		if found == nil {
			out = append(out, def)
			continue
		}

		if found.IntervalMinutes <= 0 {
			found.IntervalMinutes = def.IntervalMinutes
		}
		if found.NextRunAt.IsZero() {
			found.NextRunAt = def.NextRunAt
		}
		if found.Name == "" {
			found.Name = def.Name
		}
		if found.Options == nil {
			found.Options = def.Options
		}
	}

	return out
}

func repairUserReferences(doc *models.Document) {
	valid := make(map[string]bool, len(doc.Users))
	for _, u := range doc.Users {
		valid[u.ID] = true
	}

	fallback := fallbackUserID
	if len(doc.Users) > 0 {
		fallback = doc.Users[0].ID
	}

	for i := range doc.CollectionItems {
		if !valid[doc.CollectionItems[i].UserID] {
			doc.CollectionItems[i].UserID = fallback
		}
	}
	for i := range doc.WishlistItems {
		if !valid[doc.WishlistItems[i].UserID] {
			doc.WishlistItems[i].UserID = fallback
		}
	}

	doc.EmailVerificationTokens = filterTokens(doc.EmailVerificationTokens, valid)
	doc.PasswordResetTokens = filterTokens(doc.PasswordResetTokens, valid)
}

func filterTokens(tokens []models.AuthToken, validUsers map[string]bool) []models.AuthToken {
	out := tokens[:0]
	for _, t := range tokens {
		if validUsers[t.UserID] {
			out = append(out, t)
		}
	}
	return out
}
