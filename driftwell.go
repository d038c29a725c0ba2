// Package driftwell is the offline-first client data layer for the Driftwell
// wellness app: a durable local store for journal entries, mood logs and
// downloaded audio, a write-behind queue for mutations made while
// disconnected, and a reconciliation engine that replays them once
// connectivity returns.
//
// The embedding application constructs a Client on login and disposes it on
// logout:
//
//	cfg := config.LoadConfig()
//	cl, err := driftwell.Login(ctx, cfg, ownerID)
//	...
//	defer cl.Logout(ctx)
//
// Platform connectivity signals are pushed in via SetConnectivity; the sync
// indicator mirrors SyncState and OnSyncStateChange.
package driftwell

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftwell/driftwell-go/cache"
	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/config"
	"github.com/driftwell/driftwell-go/logging"
	"github.com/driftwell/driftwell-go/models"
	"github.com/driftwell/driftwell-go/quota"
	"github.com/driftwell/driftwell-go/remote"
	"github.com/driftwell/driftwell-go/store"
	"github.com/driftwell/driftwell-go/syncer"
)

// Client is the composition root. All state is owned here; there are no
// package-level singletons, so two logins in one process never share a
// handle.
type Client struct {
	cfg     *config.Config
	log     logging.Logger
	ownerID string

	store  *store.Store
	quota  *quota.Manager
	remote remote.Service
	queue  *syncer.Queue
	engine *syncer.Engine

	cancel context.CancelFunc

	// degraded means local persistence failed to open this session; the
	// client operates remote-only with no offline fallback.
	degraded      bool
	storageWarned atomic.Bool
}

type options struct {
	dsn    string
	log    logging.Logger
	remote remote.Service
}

type Option func(*options)

// WithDSN overrides the local database location (default "driftwell.db").
func WithDSN(dsn string) Option {
	return func(o *options) { o.dsn = dsn }
}

// WithLogger installs a logger; the default discards everything.
func WithLogger(log logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRemote injects a remote service implementation, replacing the built-in
// HTTP client. Used by the embedding app's tests.
func WithRemote(rs remote.Service) Option {
	return func(o *options) { o.remote = rs }
}

// Login builds the data layer for one user session. A storage failure does
// not fail the login: the client degrades to remote-only operation and warns
// exactly once.
func Login(ctx context.Context, cfg *config.Config, ownerID string, opts ...Option) (*Client, error) {
	o := &options{dsn: "driftwell.db", log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		cfg:     cfg,
		log:     o.log,
		ownerID: ownerID,
		store:   store.New(o.dsn, o.log),
	}

	if err := c.store.Open(ctx); err != nil {
		c.degraded = true
		c.warnStorage(ctx, err)
	}

	transport := http.DefaultTransport
	if !c.degraded {
		if repo, err := c.store.HTTPCache(); err == nil {
			ct := cache.NewTransport(http.DefaultTransport, repo, cfg.CacheVersion, o.log)
			if err := ct.Cleanup(ctx); err != nil {
				o.log.Warn(ctx, "cache bucket cleanup failed", "error", err)
			}
			transport = ct
		}
	}

	c.remote = o.remote
	if c.remote == nil {
		c.remote = remote.NewHTTPClient(cfg.RemoteBaseURL, transport, cfg.HTTPTimeout)
	}

	c.quota = quota.NewManager(c.store, cfg, o.log)
	c.queue = syncer.NewQueue(c.store, o.log)
	c.engine = syncer.NewEngine(c.store, c.queue, c.remote, cfg, ownerID, o.log)

	if !c.degraded {
		engineCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.engine.Run(engineCtx)
	}

	return c, nil
}

// Logout stops reconciliation and tears down the store handle.
func (c *Client) Logout(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.store.Close()
}

// SetTokens forwards session tokens to the built-in HTTP remote client.
func (c *Client) SetTokens(access, refresh string) {
	if hc, ok := c.remote.(*remote.HTTPClient); ok {
		hc.SetTokens(access, refresh)
	}
}

// SetConnectivity pushes a platform connectivity signal into the
// reconciliation engine.
func (c *Client) SetConnectivity(online bool) {
	if c.degraded {
		return
	}
	c.engine.SetConnectivity(online)
}

// SyncState returns the engine's current state for the UI indicator.
func (c *Client) SyncState() models.SyncState {
	return c.engine.State()
}

// OnSyncStateChange registers a callback for sync indicator updates.
func (c *Client) OnSyncStateChange(fn func(models.SyncState)) {
	c.engine.Subscribe(fn)
}

// CreateJournalEntry writes a journal entry optimistically. The returned
// entry's Synced flag tells the caller whether to show the "saved offline,
// will sync" acknowledgment.
func (c *Client) CreateJournalEntry(ctx context.Context, title, content string) (*models.Entry, error) {
	return c.createEntry(ctx, &models.Entry{
		Kind:    models.KindJournal,
		Title:   title,
		Content: content,
	})
}

// CreateMoodLog writes a mood log optimistically.
func (c *Client) CreateMoodLog(ctx context.Context, mood int, note string) (*models.Entry, error) {
	return c.createEntry(ctx, &models.Entry{
		Kind:    models.KindMood,
		Content: note,
		Mood:    mood,
	})
}

func (c *Client) createEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	e.Id = models.TempIDPrefix + uuid.NewString()
	e.OwnerId = c.ownerID
	e.CreatedAt = time.Now().UTC()
	e.Synced = false

	if c.degraded {
		confirmed, err := c.remote.CreateEntry(ctx, e)
		if err != nil {
			return nil, err
		}
		return confirmed, nil
	}

	// Step one: synchronous local write, visible to reads immediately.
	if err := c.store.PutEntry(ctx, e, false); err != nil {
		c.warnStorage(ctx, err)
		return nil, err
	}
	c.checkQuota(ctx)

	// Step two: remote confirmation, independently retriable.
	confirmed, err := c.remote.CreateEntry(ctx, e)
	if err != nil {
		if errors.Is(err, common.ErrRemoteUnreachable) {
			if qErr := c.queue.Enqueue(ctx, models.ActionCreate, e.Id, e); qErr != nil {
				return nil, qErr
			}
			return e, nil
		}
		// Outright rejection: the entry never existed server-side, so the
		// optimistic row must not linger as a permanently unsynced ghost.
		if pErr := c.store.PurgeEntry(ctx, e.Id); pErr != nil {
			c.log.Warn(ctx, "failed to roll back rejected create", "id", e.Id, "error", pErr)
		}
		return nil, err
	}

	if err := c.store.ReplaceTempID(ctx, e.Id, confirmed); err != nil {
		return nil, err
	}
	confirmed.Synced = true
	return confirmed, nil
}

// UpdateEntry edits an entry optimistically; the edit clears the synced flag
// until the remote confirms this exact version. If the remote rejects the
// edit outright the local row keeps the rejected content, unsynced, until the
// next wholesale refresh restores the server's version; unlike a create there
// is no prior state on hand to roll back to.
func (c *Client) UpdateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	if c.degraded {
		return c.remote.UpdateEntry(ctx, e)
	}

	if err := c.store.PutEntry(ctx, e, false); err != nil {
		c.warnStorage(ctx, err)
		return nil, err
	}
	c.checkQuota(ctx)

	confirmed, err := c.remote.UpdateEntry(ctx, e)
	if err != nil {
		if errors.Is(err, common.ErrRemoteUnreachable) {
			if qErr := c.queue.Enqueue(ctx, models.ActionUpdate, e.Id, e); qErr != nil {
				return nil, qErr
			}
			out := *e
			out.Synced = false
			return &out, nil
		}
		return nil, err
	}

	if err := c.store.PutEntry(ctx, confirmed, true); err != nil {
		return nil, err
	}
	confirmed.Synced = true
	return confirmed, nil
}

// DeleteEntry tombstones an entry locally, then confirms remote-side. While
// unconfirmed the tombstone stays out of listings but keeps the row for
// replay bookkeeping.
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	if c.degraded {
		return c.remote.DeleteEntry(ctx, id)
	}

	if err := c.store.SoftDeleteEntry(ctx, id); err != nil {
		c.warnStorage(ctx, err)
		return err
	}

	err := c.remote.DeleteEntry(ctx, id)
	if err == nil || errors.Is(err, common.ErrNotFound) {
		return c.store.PurgeEntry(ctx, id)
	}
	if errors.Is(err, common.ErrRemoteUnreachable) {
		return c.queue.Enqueue(ctx, models.ActionDelete, id, nil)
	}
	return err
}

// Entries lists the owner's entries, newest first. Local reads always
// reflect the most recent local write; in degraded mode the listing comes
// from the remote instead.
func (c *Client) Entries(ctx context.Context) ([]models.Entry, error) {
	if c.degraded {
		return c.remote.ListEntries(ctx, c.ownerID)
	}
	return c.store.GetEntriesByOwner(ctx, c.ownerID)
}

// DownloadAsset fetches a media payload and stores it for offline playback.
// Cancelling ctx mid-transfer discards partial bytes: no row is written and
// the byte budget is untouched.
func (c *Client) DownloadAsset(ctx context.Context, id, title, url string) (*models.Asset, error) {
	if c.degraded {
		return nil, fmt.Errorf("%w: downloads need local storage", common.ErrStorageUnavailable)
	}

	data, err := c.remote.FetchAsset(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := c.quota.EnsureRoomFor(ctx, int64(len(data))); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	asset := &models.Asset{
		Id:             id,
		Title:          title,
		Data:           data,
		SizeBytes:      int64(len(data)),
		DownloadedAt:   now,
		LastAccessedAt: now,
	}
	if err := c.store.PutAsset(ctx, asset); err != nil {
		c.warnStorage(ctx, err)
		return nil, err
	}
	c.checkQuota(ctx)
	return asset, nil
}

// Asset returns a downloaded asset for playback and bumps its access time,
// which is what keeps it out of the eviction line.
func (c *Client) Asset(ctx context.Context, id string) (*models.Asset, error) {
	a, err := c.store.Asset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.store.TouchAsset(ctx, id, time.Now().UTC()); err != nil {
		c.log.Warn(ctx, "failed to record asset access", "id", id, "error", err)
	}
	return a, nil
}

// DeleteAsset removes one downloaded asset.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	return c.store.DeleteAsset(ctx, id)
}

// ClearAssets removes every downloaded asset.
func (c *Client) ClearAssets(ctx context.Context) error {
	return c.store.ClearAssets(ctx)
}

// UsageBreakdown reports per-category storage use for the settings screen.
func (c *Client) UsageBreakdown(ctx context.Context) ([]models.CategoryUsage, error) {
	return c.quota.UsageBreakdown(ctx)
}

func (c *Client) checkQuota(ctx context.Context) {
	if err := c.quota.CheckAndEvict(ctx); err != nil {
		c.log.Warn(ctx, "quota check failed", "error", err)
	}
}

// warnStorage surfaces the storage-unavailable warning exactly once per
// session.
func (c *Client) warnStorage(ctx context.Context, err error) {
	if !errors.Is(err, common.ErrStorageUnavailable) && !errors.Is(err, common.ErrMigrationFailed) {
		return
	}
	if c.storageWarned.Swap(true) {
		return
	}
	c.log.Warn(ctx, "local storage unavailable, offline features disabled this session", "error", err)
}
