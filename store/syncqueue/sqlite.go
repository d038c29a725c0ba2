package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/driftwell/driftwell-go/dbx"
	"github.com/driftwell/driftwell-go/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert appends an operation. The synthetic id makes re-queuing the same
// logical change overwrite in place instead of duplicating.
func (r *SQLiteRepository) Upsert(ctx context.Context, op *models.QueuedOperation) error {
	query := ` INSERT INTO sync_queue (id, action, target_id, payload, enqueued_at)
			values (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
	`
	_, err := r.db.ExecContext(ctx, query,
		op.Id, op.Action, op.TargetId, []byte(op.Payload), op.EnqueuedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

// ListOldestFirst returns every queued operation in strict enqueue order.
func (r *SQLiteRepository) ListOldestFirst(ctx context.Context) ([]models.QueuedOperation, error) {
	query := `select id, action, target_id, payload, enqueued_at
		from sync_queue order by enqueued_at asc, id asc`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select queued operations: %w", err)
	}
	defer rows.Close()

	var result []models.QueuedOperation
	for rows.Next() {
		var op models.QueuedOperation
		var enqueuedAt int64
		var payload []byte
		if err := rows.Scan(&op.Id, &op.Action, &op.TargetId, &payload, &enqueuedAt); err != nil {
			return nil, err
		}
		op.Payload = payload
		op.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a drained operation.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `delete from sync_queue where id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queued operation: %w", err)
	}
	return nil
}

// Count returns the number of operations waiting to replay.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `select count(*) from sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queued operations: %w", err)
	}
	return n, nil
}
