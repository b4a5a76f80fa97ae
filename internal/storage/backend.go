package storage

import (
	"context"
	"errors"

	"gemindex/internal/models"
)

// ErrNotFound is returned by a backend when no document has been
// persisted yet.
var ErrNotFound = errors.New("document not found")

// Backend persists the whole document. Both implementations offer
// only whole-document overwrite semantics: last writer wins.
type Backend interface {
	Load(ctx context.Context) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document) error
	Name() string
}
