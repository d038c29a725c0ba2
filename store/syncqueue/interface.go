package syncqueue

import (
	"context"

	"github.com/driftwell/driftwell-go/models"
)

// Repository persists the write-behind queue. Drains always scan the whole
// table in enqueue order, so no secondary index is needed.
type Repository interface {
	Upsert(ctx context.Context, op *models.QueuedOperation) error
	ListOldestFirst(ctx context.Context) ([]models.QueuedOperation, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
