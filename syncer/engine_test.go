package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/config"
	"github.com/driftwell/driftwell-go/models"
)

// fakeRemote is a controllable remote service for engine tests.
type fakeRemote struct {
	mu      sync.Mutex
	replays []string

	pingFn   func(ctx context.Context) error
	createFn func(ctx context.Context, e *models.Entry) (*models.Entry, error)
	updateFn func(ctx context.Context, e *models.Entry) (*models.Entry, error)
	deleteFn func(ctx context.Context, id string) error
	listFn   func(ctx context.Context, ownerID string) ([]models.Entry, error)
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays = append(f.replays, call)
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeRemote) CreateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	f.record("create " + e.Id)
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	out := *e
	out.Synced = true
	return &out, nil
}

func (f *fakeRemote) UpdateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	f.record("update " + e.Id)
	if f.updateFn != nil {
		return f.updateFn(ctx, e)
	}
	out := *e
	out.Synced = true
	return &out, nil
}

func (f *fakeRemote) DeleteEntry(ctx context.Context, id string) error {
	f.record("delete " + id)
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeRemote) ListEntries(ctx context.Context, ownerID string) ([]models.Entry, error) {
	if f.listFn != nil {
		return f.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (f *fakeRemote) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	return nil, nil
}

func engineConfig() *config.Config {
	cfg := config.LoadConfig()
	cfg.ReplayMaxAttempts = 0 // single attempt keeps failure tests fast
	cfg.ReplayBackoff = time.Millisecond
	cfg.ReplayTimeout = 2 * time.Second
	return cfg
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
}

func TestEngine_OfflineRoundTrip(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)
	ctx := context.Background()

	// An optimistic create made while offline: local row plus queued op.
	temp := &models.Entry{
		Id:        models.TempIDPrefix + "abc",
		OwnerId:   "u1",
		Kind:      models.KindJournal,
		Title:     "Day 1",
		Content:   "...",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutEntry(ctx, temp, false))
	require.NoError(t, q.Enqueue(ctx, models.ActionCreate, temp.Id, temp))

	list, err := s.GetEntriesByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Synced)

	var serverCopy models.Entry
	rs := &fakeRemote{
		createFn: func(ctx context.Context, e *models.Entry) (*models.Entry, error) {
			out := *e
			out.Id = "server-123"
			out.Synced = true
			serverCopy = out
			return &out, nil
		},
		listFn: func(ctx context.Context, ownerID string) ([]models.Entry, error) {
			return []models.Entry{serverCopy}, nil
		},
	}

	eng := NewEngine(s, q, rs, engineConfig(), "u1", nil)
	startEngine(t, eng)

	eng.SetConnectivity(true)

	require.Eventually(t, func() bool {
		return eng.State() == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)

	list, err = s.GetEntriesByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "server-123", list[0].Id)
	assert.True(t, list[0].Synced)

	_, err = s.GetEntry(ctx, temp.Id)
	require.ErrorIs(t, err, common.ErrNotFound, "temporary id must no longer appear anywhere")

	n, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_ReplayFailureEntersErrorState(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.ActionDelete, "e1", nil))

	rs := &fakeRemote{
		deleteFn: func(ctx context.Context, id string) error {
			return fmt.Errorf("%w: server returned 422", common.ErrReplayFailed)
		},
	}

	eng := NewEngine(s, q, rs, engineConfig(), "u1", nil)
	startEngine(t, eng)

	eng.SetConnectivity(true)

	require.Eventually(t, func() bool {
		return eng.State() == models.StateError
	}, 5*time.Second, 10*time.Millisecond)

	n, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed operation waits for the next connectivity cycle")
}

func TestEngine_EmptyQueueGoesStraightToSynced(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)

	eng := NewEngine(s, q, &fakeRemote{}, engineConfig(), "u1", nil)
	startEngine(t, eng)

	eng.SetConnectivity(true)

	require.Eventually(t, func() bool {
		return eng.State() == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_OfflineSignalWinsOverAnyState(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)

	eng := NewEngine(s, q, &fakeRemote{}, engineConfig(), "u1", nil)
	startEngine(t, eng)

	eng.SetConnectivity(true)
	require.Eventually(t, func() bool {
		return eng.State() == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)

	eng.SetConnectivity(false)
	require.Eventually(t, func() bool {
		return eng.State() == models.StateOffline
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_SubscriberSeesTransitions(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)

	eng := NewEngine(s, q, &fakeRemote{}, engineConfig(), "u1", nil)

	var mu sync.Mutex
	var seen []models.SyncState
	eng.Subscribe(func(st models.SyncState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})

	startEngine(t, eng)
	eng.SetConnectivity(true)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == models.StateSynced
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_FailedPingStaysOffline(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.ActionDelete, "e1", nil))

	rs := &fakeRemote{
		pingFn: func(ctx context.Context) error {
			return fmt.Errorf("%w: connection refused", common.ErrRemoteUnreachable)
		},
	}

	eng := NewEngine(s, q, rs, engineConfig(), "u1", nil)
	startEngine(t, eng)

	eng.SetConnectivity(true)

	require.Never(t, func() bool {
		return eng.State() != models.StateOffline
	}, 300*time.Millisecond, 20*time.Millisecond, "no drain starts against an unreachable backend")

	rs.mu.Lock()
	assert.Empty(t, rs.replays, "nothing replayed")
	rs.mu.Unlock()

	n, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_BurstOfSignalsKeepsTheLatest(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)

	eng := NewEngine(s, q, &fakeRemote{}, engineConfig(), "u1", nil)

	var mu sync.Mutex
	var seen []models.SyncState
	eng.Subscribe(func(st models.SyncState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})

	// Flood the engine before it runs, then finish with an offline signal.
	// The newest signal must survive the burst.
	for i := 0; i < 10; i++ {
		eng.SetConnectivity(true)
	}
	eng.SetConnectivity(false)

	startEngine(t, eng)

	// The restored signals are observed (Synced), then the trailing offline
	// signal lands last.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2 &&
			seen[0] == models.StateSynced &&
			seen[len(seen)-1] == models.StateOffline
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_PeriodicWakeRefreshes(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, nil)

	rs := &fakeRemote{
		listFn: func(ctx context.Context, ownerID string) ([]models.Entry, error) {
			return []models.Entry{{
				Id: "server-9", OwnerId: ownerID, Kind: models.KindJournal,
				Title: "from remote", CreatedAt: time.Now().UTC(),
			}}, nil
		},
	}

	cfg := engineConfig()
	cfg.WakeInterval = 20 * time.Millisecond

	eng := NewEngine(s, q, rs, cfg, "u1", nil)
	startEngine(t, eng)

	// No connectivity event: only the background wake can get us here.
	require.Eventually(t, func() bool {
		list, err := s.GetEntriesByOwner(context.Background(), "u1")
		return err == nil && len(list) == 1 && list[0].Id == "server-9"
	}, 5*time.Second, 10*time.Millisecond)
}
