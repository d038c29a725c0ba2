package assets

import (
	"context"
	"time"

	"github.com/driftwell/driftwell-go/models"
)

// Repository persists downloaded media. ListLRU and Get split the row: the
// former skips the audio blob because eviction only needs id and size.
type Repository interface {
	Upsert(ctx context.Context, a *models.Asset) error
	Get(ctx context.Context, id string) (*models.Asset, error)
	ListLRU(ctx context.Context) ([]models.Asset, error)
	TouchAccess(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	TotalBytes(ctx context.Context) (int64, error)
}
