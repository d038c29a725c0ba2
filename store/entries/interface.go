package entries

import (
	"context"

	"github.com/driftwell/driftwell-go/models"
)

// PrunedBytes reports, per entry kind, how many content bytes a prune freed.
type PrunedBytes map[models.EntryKind]int64

// Repository persists cached journal entries and mood logs.
type Repository interface {
	Upsert(ctx context.Context, e *models.Entry) error
	GetByID(ctx context.Context, id string) (*models.Entry, error)
	GetByOwner(ctx context.Context, ownerID string) ([]models.Entry, error)
	MarkDeleted(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) error
	PruneOldest(ctx context.Context, ownerID string, maxCount int) (PrunedBytes, error)
	TotalBytes(ctx context.Context, kind models.EntryKind) (int64, error)
}
