package metadata

import "context"

// Keys for the singleton usage counters.
const (
	KeyTotalBytesUsed = "total_bytes_used"
	KeyBytesJournal   = "bytes_journal"
	KeyBytesMood      = "bytes_mood"
	KeyBytesAssets    = "bytes_assets"
	KeyLastCleanupAt  = "last_cleanup_at"
)

// Repository is a small key-value table for aggregate counters and sync
// bookkeeping. Values are raw bytes; numeric helpers live here because every
// caller wants them.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
	AddInt64(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
}
