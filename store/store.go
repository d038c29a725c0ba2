// Package store is the durable local store: a transactional sqlite database
// holding cached entries, the write-behind queue, downloaded media and the
// usage counters. All mutation goes through the typed accessors here, which
// keep the byte-accounting metadata in step with the tables it summarizes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/dbx"
	"github.com/driftwell/driftwell-go/logging"
	"github.com/driftwell/driftwell-go/models"
	"github.com/driftwell/driftwell-go/store/assets"
	"github.com/driftwell/driftwell-go/store/entries"
	"github.com/driftwell/driftwell-go/store/httpcache"
	"github.com/driftwell/driftwell-go/store/metadata"
	"github.com/driftwell/driftwell-go/store/migrations"
	"github.com/driftwell/driftwell-go/store/syncqueue"
)

// Store owns the local database handle. Construct with New, then call Open
// before use; Open is idempotent and safe to call from concurrent tasks (the
// first caller initializes, the rest wait and reuse the handle). Close on
// logout.
type Store struct {
	dsn string
	log logging.Logger

	opening singleflight.Group
	mu      sync.RWMutex
	db      *sql.DB
}

func New(dsn string, log logging.Logger) *Store {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Store{dsn: dsn, log: log}
}

// Open opens the database and brings the schema to the current version.
// Concurrent callers coalesce onto a single initialization.
func (s *Store) Open(ctx context.Context) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db != nil {
		return nil
	}

	_, err, _ := s.opening.Do("open", func() (any, error) {
		return nil, s.doOpen(ctx)
	})
	return err
}

func (s *Store) doOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("%w: open database: %w", common.ErrStorageUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: ping database: %w", common.ErrStorageUnavailable, err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.log.Info(ctx, "local store opened", "dsn", s.dsn)
	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("%w: set dialect: %w", common.ErrMigrationFailed, err)
	}

	// Forward-only: a database written by a newer build is refused, never
	// downgraded.
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %w", common.ErrMigrationFailed, err)
	}
	if version > migrations.LatestVersion {
		return fmt.Errorf("%w: schema version %d is newer than supported %d",
			common.ErrMigrationFailed, version, migrations.LatestVersion)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("%w: %w", common.ErrMigrationFailed, err)
	}
	return nil
}

// Close tears down the handle. A later Open reinitializes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is not open", common.ErrStorageUnavailable)
	}
	return s.db, nil
}

// storageErr converts low-level failures at the accessor boundary, leaving
// already-classified sentinels untouched.
func storageErr(err error) error {
	if err == nil ||
		errors.Is(err, common.ErrNotFound) ||
		errors.Is(err, common.ErrStorageUnavailable) ||
		errors.Is(err, common.ErrMigrationFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
}

func bytesKeyForKind(kind models.EntryKind) string {
	if kind == models.KindMood {
		return metadata.KeyBytesMood
	}
	return metadata.KeyBytesJournal
}

// adjustBytes moves a category counter and the global total by delta, inside
// the caller's transaction.
func adjustBytes(ctx context.Context, tx dbx.DBTX, key string, delta int64) error {
	if delta == 0 {
		return nil
	}
	meta := metadata.NewSQLiteRepository(tx)
	if _, err := meta.AddInt64(ctx, key, delta); err != nil {
		return err
	}
	_, err := meta.AddInt64(ctx, metadata.KeyTotalBytesUsed, delta)
	return err
}

// PutEntry upserts an entry and sets its synced flag, settling the usage
// counters by the size delta in the same transaction.
func (s *Store) PutEntry(ctx context.Context, e *models.Entry, synced bool) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)

		var oldSize int64
		old, err := repo.GetByID(ctx, e.Id)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if old != nil {
			oldSize = old.SizeBytes()
		}

		stored := *e
		stored.Synced = synced
		if err := repo.Upsert(ctx, &stored); err != nil {
			return err
		}
		return adjustBytes(ctx, tx, bytesKeyForKind(e.Kind), stored.SizeBytes()-oldSize)
	})
	return storageErr(err)
}

// GetEntry returns one entry by id, tombstoned or not.
func (s *Store) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	e, err := entries.NewSQLiteRepository(db).GetByID(ctx, id)
	return e, storageErr(err)
}

// GetEntriesByOwner lists an owner's live entries, newest first.
func (s *Store) GetEntriesByOwner(ctx context.Context, ownerID string) ([]models.Entry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	result, err := entries.NewSQLiteRepository(db).GetByOwner(ctx, ownerID)
	return result, storageErr(err)
}

// SoftDeleteEntry tombstones an entry. The row (and its byte accounting)
// survives until the queued delete is confirmed remote-side.
func (s *Store) SoftDeleteEntry(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return storageErr(entries.NewSQLiteRepository(db).MarkDeleted(ctx, id))
}

// PurgeEntry physically removes an entry and releases its bytes. Called once
// a queued delete has been confirmed.
func (s *Store) PurgeEntry(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		old, err := repo.GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return adjustBytes(ctx, tx, bytesKeyForKind(old.Kind), -old.SizeBytes())
	})
	return storageErr(err)
}

// ReplaceTempID atomically swaps a temporary local row for its
// server-confirmed version. The temporary row is removed and the confirmed
// entry upserted in one transaction, so the id is never duplicated.
func (s *Store) ReplaceTempID(ctx context.Context, tempID string, confirmed *models.Entry) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)

		var oldSize int64
		old, err := repo.GetByID(ctx, tempID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if old != nil {
			oldSize = old.SizeBytes()
			if err := repo.Delete(ctx, tempID); err != nil {
				return err
			}
		}

		stored := *confirmed
		stored.Synced = true
		if err := repo.Upsert(ctx, &stored); err != nil {
			return err
		}
		return adjustBytes(ctx, tx, bytesKeyForKind(stored.Kind), stored.SizeBytes()-oldSize)
	})
	return storageErr(err)
}

// PruneToRetentionLimit drops an owner's oldest rows beyond maxCount.
func (s *Store) PruneToRetentionLimit(ctx context.Context, ownerID string, maxCount int) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		freed, err := entries.NewSQLiteRepository(tx).PruneOldest(ctx, ownerID, maxCount)
		if err != nil {
			return err
		}
		for kind, bytes := range freed {
			if err := adjustBytes(ctx, tx, bytesKeyForKind(kind), -bytes); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

// ReplaceEntriesForOwner swaps an owner's cached rows for the remote listing
// (last writer wins), marks everything synced, prunes to the retention limit
// and recomputes the entry byte counters from scratch.
func (s *Store) ReplaceEntriesForOwner(ctx context.Context, ownerID string, fresh []models.Entry, retentionLimit int) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		if err := repo.DeleteByOwner(ctx, ownerID); err != nil {
			return err
		}
		for i := range fresh {
			e := fresh[i]
			e.Synced = true
			if err := repo.Upsert(ctx, &e); err != nil {
				return err
			}
		}
		if retentionLimit > 0 {
			if _, err := repo.PruneOldest(ctx, ownerID, retentionLimit); err != nil {
				return err
			}
		}
		return recomputeEntryBytes(ctx, tx)
	})
	return storageErr(err)
}

// recomputeEntryBytes rebuilds the journal/mood counters from the table.
// Wholesale replacement is cheaper to re-count than to delta.
func recomputeEntryBytes(ctx context.Context, tx dbx.DBTX) error {
	repo := entries.NewSQLiteRepository(tx)
	meta := metadata.NewSQLiteRepository(tx)

	journal, err := repo.TotalBytes(ctx, models.KindJournal)
	if err != nil {
		return err
	}
	mood, err := repo.TotalBytes(ctx, models.KindMood)
	if err != nil {
		return err
	}
	assetBytes, err := meta.GetInt64(ctx, metadata.KeyBytesAssets)
	if err != nil {
		return err
	}

	if err := meta.SetInt64(ctx, metadata.KeyBytesJournal, journal); err != nil {
		return err
	}
	if err := meta.SetInt64(ctx, metadata.KeyBytesMood, mood); err != nil {
		return err
	}
	return meta.SetInt64(ctx, metadata.KeyTotalBytesUsed, journal+mood+assetBytes)
}

// Enqueue appends a mutation to the write-behind queue.
func (s *Store) Enqueue(ctx context.Context, op *models.QueuedOperation) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return storageErr(syncqueue.NewSQLiteRepository(db).Upsert(ctx, op))
}

// QueuedOperations returns the queue in strict enqueue order.
func (s *Store) QueuedOperations(ctx context.Context) ([]models.QueuedOperation, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	ops, err := syncqueue.NewSQLiteRepository(db).ListOldestFirst(ctx)
	return ops, storageErr(err)
}

// RemoveOperation deletes a successfully replayed operation.
func (s *Store) RemoveOperation(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return storageErr(syncqueue.NewSQLiteRepository(db).Delete(ctx, id))
}

// QueueSize returns the number of pending operations.
func (s *Store) QueueSize(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	n, err := syncqueue.NewSQLiteRepository(db).Count(ctx)
	return n, storageErr(err)
}

// PutAsset stores a completed download and adds its bytes to the budget.
func (s *Store) PutAsset(ctx context.Context, a *models.Asset) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := assets.NewSQLiteRepository(tx)

		var oldSize int64
		old, err := repo.Get(ctx, a.Id)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if old != nil {
			oldSize = old.SizeBytes
		}

		if err := repo.Upsert(ctx, a); err != nil {
			return err
		}
		return adjustBytes(ctx, tx, metadata.KeyBytesAssets, a.SizeBytes-oldSize)
	})
	return storageErr(err)
}

// Asset returns a full asset row, payload included.
func (s *Store) Asset(ctx context.Context, id string) (*models.Asset, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	a, err := assets.NewSQLiteRepository(db).Get(ctx, id)
	return a, storageErr(err)
}

// TouchAsset bumps an asset's last access time.
func (s *Store) TouchAsset(ctx context.Context, id string, at time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return storageErr(assets.NewSQLiteRepository(db).TouchAccess(ctx, id, at))
}

// AssetsLRU lists assets without payloads, least recently accessed first.
func (s *Store) AssetsLRU(ctx context.Context) ([]models.Asset, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	list, err := assets.NewSQLiteRepository(db).ListLRU(ctx)
	return list, storageErr(err)
}

// DeleteAsset removes one asset and releases its bytes.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := assets.NewSQLiteRepository(tx)
		old, err := repo.Get(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return adjustBytes(ctx, tx, metadata.KeyBytesAssets, -old.SizeBytes)
	})
	return storageErr(err)
}

// ClearAssets removes every downloaded asset.
func (s *Store) ClearAssets(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := assets.NewSQLiteRepository(tx)
		total, err := repo.TotalBytes(ctx)
		if err != nil {
			return err
		}
		if err := repo.DeleteAll(ctx); err != nil {
			return err
		}
		return adjustBytes(ctx, tx, metadata.KeyBytesAssets, -total)
	})
	return storageErr(err)
}

// Usage reads the singleton accounting record.
func (s *Store) Usage(ctx context.Context) (models.Usage, error) {
	db, err := s.handle()
	if err != nil {
		return models.Usage{}, err
	}
	meta := metadata.NewSQLiteRepository(db)

	u := models.Usage{ByCategory: map[models.Category]int64{}}
	for key, cat := range map[string]models.Category{
		metadata.KeyBytesJournal: models.CategoryJournal,
		metadata.KeyBytesMood:    models.CategoryMood,
		metadata.KeyBytesAssets:  models.CategoryAssets,
	} {
		v, err := meta.GetInt64(ctx, key)
		if err != nil {
			return models.Usage{}, storageErr(err)
		}
		u.ByCategory[cat] = v
	}
	total, err := meta.GetInt64(ctx, metadata.KeyTotalBytesUsed)
	if err != nil {
		return models.Usage{}, storageErr(err)
	}
	u.TotalBytesUsed = total

	raw, err := meta.Get(ctx, metadata.KeyLastCleanupAt)
	if err != nil {
		return models.Usage{}, storageErr(err)
	}
	if len(raw) > 0 {
		if t, err := time.Parse(time.RFC3339, string(raw)); err == nil {
			u.LastCleanupAt = t
		}
	}
	return u, nil
}

// MarkCleanup records when the eviction pass last ran.
func (s *Store) MarkCleanup(ctx context.Context, at time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	meta := metadata.NewSQLiteRepository(db)
	return storageErr(meta.Set(ctx, metadata.KeyLastCleanupAt, []byte(at.UTC().Format(time.RFC3339))))
}

// HTTPCache exposes the response cache repository for the request
// interceptor.
func (s *Store) HTTPCache() (httpcache.Repository, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	return httpcache.NewSQLiteRepository(db), nil
}
