// Package dbx holds the shared database plumbing: the DBTX interface every
// repository accepts, and the WithTx transaction wrapper. Repositories that
// take a DBTX work both standalone (over *sql.DB) and composed into a larger
// transaction (over *sql.Tx), which is how the store keeps row writes and
// usage counters atomic.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the slice of database/sql the repositories need; *sql.DB and
// *sql.Tx both provide it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction: commit when fn returns nil, roll back
// when it returns an error or panics. A panic is rethrown after the rollback.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
