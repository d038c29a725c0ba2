// Package remote defines the contract with the backend data service and an
// HTTP implementation of it. The rest of the library depends only on the
// Service interface, never on the backend's schema.
package remote

import (
	"context"

	"github.com/driftwell/driftwell-go/models"
)

// Service is the remote data service consumed by the sync engine and the
// client facade. Implementations must map transport failures to
// common.ErrRemoteUnreachable and application-level rejections to
// common.ErrReplayFailed so the drain loop can tell them apart.
type Service interface {
	// Ping probes reachability.
	Ping(ctx context.Context) error

	// CreateEntry persists a new entry and returns it with the
	// server-assigned id.
	CreateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error)

	// UpdateEntry replaces an existing entry and returns the stored version.
	UpdateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error)

	// DeleteEntry removes an entry remote-side.
	DeleteEntry(ctx context.Context, id string) error

	// ListEntries returns the remote source of truth for one owner.
	ListEntries(ctx context.Context, ownerID string) ([]models.Entry, error)

	// FetchAsset downloads a media payload from a (typically presigned) URL.
	// Cancelling ctx aborts the transfer and discards partial bytes.
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}
