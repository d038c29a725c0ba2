package entries

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/models"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE entries (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL DEFAULT '',
  mood INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  synced INTEGER NOT NULL DEFAULT 0,
  deleted INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)

	return db
}

func journalEntry(id, owner string, createdAt time.Time) *models.Entry {
	return &models.Entry{
		Id:        id,
		OwnerId:   owner,
		Kind:      models.KindJournal,
		Title:     "title " + id,
		Content:   "content " + id,
		CreatedAt: createdAt,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := journalEntry("id1", "u1", time.Now().UTC())
	require.NoError(t, r.Upsert(ctx, e))
	require.NoError(t, r.Upsert(ctx, e))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entries WHERE id='id1'`).Scan(&n))
	assert.Equal(t, 1, n, "same id and content must leave exactly one row")
}

func TestUpsert_UpdatesColumns(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := journalEntry("id1", "u1", time.Now().UTC())
	require.NoError(t, r.Upsert(ctx, e))

	e.Content = "edited"
	e.Synced = true
	require.NoError(t, r.Upsert(ctx, e))

	got, err := r.GetByID(ctx, "id1")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.True(t, got.Synced)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetByOwner_ExcludesTombstonesNewestFirst(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.Upsert(ctx, journalEntry("old", "u1", base)))
	require.NoError(t, r.Upsert(ctx, journalEntry("new", "u1", base.Add(time.Hour))))
	require.NoError(t, r.Upsert(ctx, journalEntry("gone", "u1", base.Add(2*time.Hour))))
	require.NoError(t, r.Upsert(ctx, journalEntry("other", "u2", base)))

	require.NoError(t, r.MarkDeleted(ctx, "gone"))

	got, err := r.GetByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Id)
	assert.Equal(t, "old", got[1].Id)
}

func TestMarkDeleted_SetsTombstoneAndClearsSynced(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := journalEntry("id1", "u1", time.Now().UTC())
	e.Synced = true
	require.NoError(t, r.Upsert(ctx, e))
	require.NoError(t, r.MarkDeleted(ctx, "id1"))

	got, err := r.GetByID(ctx, "id1")
	require.NoError(t, err)
	assert.True(t, got.Deleted, "row must remain as a tombstone")
	assert.False(t, got.Synced)

	require.ErrorIs(t, r.MarkDeleted(ctx, "id1"), common.ErrNotFound,
		"double delete must not affect a row")
}

func TestPruneOldest_KeepsNewest(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		e := journalEntry(fmt.Sprintf("id%02d", i), "u1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, r.Upsert(ctx, e))
	}

	freed, err := r.PruneOldest(ctx, "u1", 50)
	require.NoError(t, err)
	assert.Positive(t, freed[models.KindJournal])

	got, err := r.GetByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 50)
	assert.Equal(t, "id59", got[0].Id, "newest entry survives")
	assert.Equal(t, "id10", got[49].Id, "the 10 oldest were pruned")
}

func TestTotalBytes(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := &models.Entry{Id: "a", OwnerId: "u1", Kind: models.KindJournal,
		Title: "1234", Content: "567890", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.Upsert(ctx, e))

	total, err := r.TotalBytes(ctx, models.KindJournal)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	total, err = r.TotalBytes(ctx, models.KindMood)
	require.NoError(t, err)
	assert.Zero(t, total, "empty kind sums to zero")
}
