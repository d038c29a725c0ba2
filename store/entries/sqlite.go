package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftwell/driftwell-go/common"
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

// Upsert inserts or replaces an entry by id. On conflict every mutable column
// is updated, so a second call with identical content leaves exactly one row.
func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Entry) error {
	query := ` INSERT INTO entries (id, owner_id, kind, title, content, mood, created_at, synced, deleted)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id,
				kind = excluded.kind,
				title = excluded.title,
				content = excluded.content,
				mood = excluded.mood,
				created_at = excluded.created_at,
				synced = excluded.synced,
				deleted = excluded.deleted
	`
	_, err := r.db.ExecContext(ctx, query,
		e.Id, e.OwnerId, e.Kind, e.Title, e.Content, e.Mood,
		e.CreatedAt.UnixMilli(), e.Synced, e.Deleted)
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

// GetByID returns a single entry, tombstoned or not.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Entry, error) {
	query := `select id, owner_id, kind, title, content, mood, created_at, synced, deleted
		from entries where id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return e, nil
}

// GetByOwner lists an owner's entries, excluding tombstones, newest first.
func (r *SQLiteRepository) GetByOwner(ctx context.Context, ownerID string) ([]models.Entry, error) {
	query := `select id, owner_id, kind, title, content, mood, created_at, synced, deleted
		from entries where owner_id=? and deleted=0 order by created_at desc`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkDeleted sets the soft-delete tombstone and clears the synced flag. The
// row stays in place until a queued delete is confirmed remote-side.
func (r *SQLiteRepository) MarkDeleted(ctx context.Context, id string) error {
	query := `update entries set deleted=1, synced=0 where id=? and deleted=0`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry deleted: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrNotFound
	}
	return nil
}

// Delete physically removes a row.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `delete from entries where id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// DeleteByOwner removes every row for an owner, tombstones included. Used by
// the post-drain refresh that replaces the local cache wholesale.
func (r *SQLiteRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx, `delete from entries where owner_id=?`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete entries by owner: %w", err)
	}
	return nil
}

// PruneOldest deletes the rows beyond maxCount for an owner, keeping the
// newest by created_at. It returns the content bytes freed per kind so the
// caller can settle the usage counters in the same transaction.
func (r *SQLiteRepository) PruneOldest(ctx context.Context, ownerID string, maxCount int) (PrunedBytes, error) {
	query := `select id, kind, length(title)+length(content)
		from entries where owner_id=? order by created_at desc limit -1 offset ?`
	rows, err := r.db.QueryContext(ctx, query, ownerID, maxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to select prune victims: %w", err)
	}
	defer rows.Close()

	freed := PrunedBytes{}
	var victims []string
	for rows.Next() {
		var id string
		var kind models.EntryKind
		var size int64
		if err := rows.Scan(&id, &kind, &size); err != nil {
			return nil, err
		}
		victims = append(victims, id)
		freed[kind] += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range victims {
		if _, err := r.db.ExecContext(ctx, `delete from entries where id=?`, id); err != nil {
			return nil, fmt.Errorf("failed to prune entry: %w", err)
		}
	}
	return freed, nil
}

// TotalBytes sums the content bytes stored for one entry kind.
func (r *SQLiteRepository) TotalBytes(ctx context.Context, kind models.EntryKind) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`select sum(length(title)+length(content)) from entries where kind=?`, kind).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum entry bytes: %w", err)
	}
	return total.Int64, nil
}

func scanEntry(scan func(dest ...any) error) (*models.Entry, error) {
	e := &models.Entry{}
	var createdAt int64
	if err := scan(&e.Id, &e.OwnerId, &e.Kind, &e.Title, &e.Content, &e.Mood,
		&createdAt, &e.Synced, &e.Deleted); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	return e, nil
}
