package driftwell

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/config"
	"github.com/driftwell/driftwell-go/models"
)

// scriptedRemote is a remote service whose reachability flips under test
// control.
type scriptedRemote struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	createErr error
	entries   map[string]models.Entry
	assets    map[string][]byte
}

func newScriptedRemote() *scriptedRemote {
	return &scriptedRemote{
		entries: map[string]models.Entry{},
		assets:  map[string][]byte{},
	}
}

func (r *scriptedRemote) setOnline(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = v
}

func (r *scriptedRemote) unreachable() error {
	return fmt.Errorf("%w: connection refused", common.ErrRemoteUnreachable)
}

func (r *scriptedRemote) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online {
		return r.unreachable()
	}
	return nil
}

func (r *scriptedRemote) CreateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online {
		return nil, r.unreachable()
	}
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.nextID++
	out := *e
	out.Id = fmt.Sprintf("server-%d", r.nextID)
	out.Synced = true
	r.entries[out.Id] = out
	return &out, nil
}

func (r *scriptedRemote) UpdateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online {
		return nil, r.unreachable()
	}
	out := *e
	out.Synced = true
	r.entries[out.Id] = out
	return &out, nil
}

func (r *scriptedRemote) DeleteEntry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online {
		return r.unreachable()
	}
	if _, ok := r.entries[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *scriptedRemote) ListEntries(ctx context.Context, ownerID string) ([]models.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online {
		return nil, r.unreachable()
	}
	var out []models.Entry
	for _, e := range r.entries {
		if e.OwnerId == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *scriptedRemote) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online {
		return nil, r.unreachable()
	}
	data, ok := r.assets[url]
	if !ok {
		return nil, common.ErrNotFound
	}
	return data, nil
}

func testClient(t *testing.T, rs *scriptedRemote) *Client {
	t.Helper()
	cfg := config.LoadConfig()
	cfg.ReplayMaxAttempts = 0
	cfg.ReplayBackoff = time.Millisecond

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	cl, err := Login(context.Background(), cfg, "u1", WithDSN(dsn), WithRemote(rs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Logout(context.Background()) })
	return cl
}

func TestOfflineCreateThenReconnect(t *testing.T) {
	rs := newScriptedRemote()
	cl := testClient(t, rs)
	ctx := context.Background()

	// Created while unreachable: acknowledged locally, not yet synced.
	e, err := cl.CreateJournalEntry(ctx, "Day 1", "slept well")
	require.NoError(t, err)
	assert.False(t, e.Synced)
	assert.True(t, strings.HasPrefix(e.Id, models.TempIDPrefix))

	list, err := cl.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "optimistic write is visible to reads immediately")
	assert.False(t, list[0].Synced)

	// Connectivity returns; the queued create replays and the temporary id is
	// swapped for the server-assigned one.
	rs.setOnline(true)
	cl.SetConnectivity(true)

	require.Eventually(t, func() bool {
		return cl.SyncState() == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)

	list, err = cl.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "server-1", list[0].Id)
	assert.True(t, list[0].Synced)
	assert.Equal(t, "Day 1", list[0].Title)
}

func TestOnlineCreateConfirmsImmediately(t *testing.T) {
	rs := newScriptedRemote()
	rs.setOnline(true)
	cl := testClient(t, rs)

	e, err := cl.CreateMoodLog(context.Background(), 4, "calm evening")
	require.NoError(t, err)
	assert.True(t, e.Synced)
	assert.Equal(t, "server-1", e.Id)
}

func TestRejectedCreateRollsBackOptimisticRow(t *testing.T) {
	rs := newScriptedRemote()
	rs.setOnline(true)
	rs.createErr = fmt.Errorf("%w: server returned 422", common.ErrReplayFailed)
	cl := testClient(t, rs)
	ctx := context.Background()

	_, err := cl.CreateJournalEntry(ctx, "Day 1", "rejected content")
	require.ErrorIs(t, err, common.ErrReplayFailed)

	list, err := cl.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "a rejected create leaves no unsynced ghost behind")

	breakdown, err := cl.UsageBreakdown(ctx)
	require.NoError(t, err)
	for _, b := range breakdown {
		assert.Zero(t, b.Bytes, "rolled-back bytes do not count toward the budget")
	}
}

func TestOfflineUpdateAndDeleteReplayInOrder(t *testing.T) {
	rs := newScriptedRemote()
	rs.setOnline(true)
	cl := testClient(t, rs)
	ctx := context.Background()

	e, err := cl.CreateJournalEntry(ctx, "Day 1", "v1")
	require.NoError(t, err)

	rs.setOnline(false)
	cl.SetConnectivity(false)

	e.Content = "v2"
	updated, err := cl.UpdateEntry(ctx, e)
	require.NoError(t, err)
	assert.False(t, updated.Synced, "offline edit clears the synced flag")

	require.NoError(t, cl.DeleteEntry(ctx, e.Id))

	list, err := cl.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "tombstoned rows stay out of listings")

	rs.setOnline(true)
	cl.SetConnectivity(true)

	require.Eventually(t, func() bool {
		return cl.SyncState() == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)

	list, err = cl.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Empty(t, rs.entries, "delete reached the backend")
}

func TestDownloadAssetAndPlayback(t *testing.T) {
	rs := newScriptedRemote()
	rs.setOnline(true)
	rs.assets["https://cdn.x/calm.mp3"] = []byte("audio-bytes")
	cl := testClient(t, rs)
	ctx := context.Background()

	a, err := cl.DownloadAsset(ctx, "calm", "Calm Waves", "https://cdn.x/calm.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(len("audio-bytes")), a.SizeBytes)

	got, err := cl.Asset(ctx, "calm")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), got.Data)

	breakdown, err := cl.UsageBreakdown(ctx)
	require.NoError(t, err)
	byCat := map[models.Category]models.CategoryUsage{}
	for _, b := range breakdown {
		byCat[b.Category] = b
	}
	assert.Equal(t, a.SizeBytes, byCat[models.CategoryAssets].Bytes)

	require.NoError(t, cl.DeleteAsset(ctx, "calm"))
	_, err = cl.Asset(ctx, "calm")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestAbortedDownloadLeavesNoTrace(t *testing.T) {
	rs := newScriptedRemote()
	rs.setOnline(true)
	cl := testClient(t, rs)
	ctx := context.Background()

	// The fetch fails before any bytes land; nothing may be written.
	_, err := cl.DownloadAsset(ctx, "missing", "Missing", "https://cdn.x/missing.mp3")
	require.Error(t, err)

	_, err = cl.Asset(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)

	breakdown, err := cl.UsageBreakdown(ctx)
	require.NoError(t, err)
	for _, b := range breakdown {
		assert.Zero(t, b.Bytes)
	}
}

func TestSyncStateCallback(t *testing.T) {
	rs := newScriptedRemote()
	rs.setOnline(true)
	cl := testClient(t, rs)

	var mu sync.Mutex
	var seen []models.SyncState
	cl.OnSyncStateChange(func(st models.SyncState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})

	cl.SetConnectivity(true)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)

	cl.SetConnectivity(false)
	require.Eventually(t, func() bool {
		return cl.SyncState() == models.StateOffline
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLogoutStopsTheEngine(t *testing.T) {
	rs := newScriptedRemote()
	cl := testClient(t, rs)

	require.NoError(t, cl.Logout(context.Background()))

	// Further local reads fail cleanly against the closed store.
	_, err := cl.Entries(context.Background())
	require.Error(t, err)
}
