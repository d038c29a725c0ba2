package assets

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

func (r *SQLiteRepository) Upsert(ctx context.Context, a *models.Asset) error {
	query := ` INSERT INTO assets (id, title, data, size_bytes, downloaded_at, last_accessed_at)
			values (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title,
				data = excluded.data,
				size_bytes = excluded.size_bytes,
				downloaded_at = excluded.downloaded_at,
				last_accessed_at = excluded.last_accessed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		a.Id, a.Title, a.Data, a.SizeBytes, a.DownloadedAt.UnixMilli(), a.LastAccessedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}
	return nil
}

// Get returns a full asset row, audio payload included.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	query := `select id, title, data, size_bytes, downloaded_at, last_accessed_at
		from assets where id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	a := &models.Asset{}
	var downloadedAt, lastAccessedAt int64
	err := row.Scan(&a.Id, &a.Title, &a.Data, &a.SizeBytes, &downloadedAt, &lastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	a.DownloadedAt = time.UnixMilli(downloadedAt).UTC()
	a.LastAccessedAt = time.UnixMilli(lastAccessedAt).UTC()
	return a, nil
}

// ListLRU lists asset rows without payloads, least recently accessed first.
func (r *SQLiteRepository) ListLRU(ctx context.Context) ([]models.Asset, error) {
	query := `select id, title, size_bytes, downloaded_at, last_accessed_at
		from assets order by last_accessed_at asc`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select assets: %w", err)
	}
	defer rows.Close()

	var result []models.Asset
	for rows.Next() {
		var a models.Asset
		var downloadedAt, lastAccessedAt int64
		if err := rows.Scan(&a.Id, &a.Title, &a.SizeBytes, &downloadedAt, &lastAccessedAt); err != nil {
			return nil, err
		}
		a.DownloadedAt = time.UnixMilli(downloadedAt).UTC()
		a.LastAccessedAt = time.UnixMilli(lastAccessedAt).UTC()
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TouchAccess bumps last_accessed_at, typically on playback.
func (r *SQLiteRepository) TouchAccess(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`update assets set last_accessed_at=? where id=?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to touch asset: %w", err)
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

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `delete from assets where id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `delete from assets`)
	if err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}
	return nil
}

// TotalBytes sums size_bytes across all assets.
func (r *SQLiteRepository) TotalBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `select sum(size_bytes) from assets`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum asset bytes: %w", err)
	}
	return total.Int64, nil
}
