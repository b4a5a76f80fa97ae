package worker

import (
	"context"
	"time"

	"gemindex/internal/models"
	"gemindex/internal/storage"
)

// cleanupAuthTokens drops consumed and expired verification and reset
// tokens. Runs at the start of every tick.
func cleanupAuthTokens(ctx context.Context, store *storage.Store) error {
	now := time.Now()
	return store.Mutate(ctx, func(doc *models.Document) error {
		doc.EmailVerificationTokens = liveTokens(doc.EmailVerificationTokens, now)
		doc.PasswordResetTokens = liveTokens(doc.PasswordResetTokens, now)
		return nil
	})
}

func liveTokens(tokens []models.AuthToken, now time.Time) []models.AuthToken {
	out := tokens[:0]
	for _, t := range tokens {
		if t.ConsumedAt == nil && t.ExpiresAt.After(now) {
			out = append(out, t)
		}
	}
	return out
}
