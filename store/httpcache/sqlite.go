package httpcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, e *Entry) error {
	query := ` INSERT INTO http_cache (bucket, url, status, headers, body, stored_at)
			values (?, ?, ?, ?, ?, ?)
			ON CONFLICT(bucket, url) DO UPDATE SET status = excluded.status,
				headers = excluded.headers,
				body = excluded.body,
				stored_at = excluded.stored_at
	`
	_, err := r.db.ExecContext(ctx, query,
		e.Bucket, e.URL, e.Status, e.Headers, e.Body, e.StoredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, bucket, url string) (*Entry, error) {
	query := `select bucket, url, status, headers, body, stored_at
		from http_cache where bucket=? and url=?`
	row := r.db.QueryRowContext(ctx, query, bucket, url)

	e := &Entry{}
	var storedAt int64
	err := row.Scan(&e.Bucket, &e.URL, &e.Status, &e.Headers, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	e.StoredAt = time.UnixMilli(storedAt).UTC()
	return e, nil
}

// DeleteBucketsExcept drops every cached response whose bucket does not carry
// the given version prefix. Returns the number of rows removed.
func (r *SQLiteRepository) DeleteBucketsExcept(ctx context.Context, versionPrefix string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`delete from http_cache where bucket not like ?`, versionPrefix+"-%")
	if err != nil {
		return 0, fmt.Errorf("failed to clean stale cache buckets: %w", err)
	}
	return res.RowsAffected()
}
