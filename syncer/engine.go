package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/config"
	"github.com/driftwell/driftwell-go/logging"
	"github.com/driftwell/driftwell-go/models"
	"github.com/driftwell/driftwell-go/remote"
	"github.com/driftwell/driftwell-go/store"
)

// Engine is the reconciliation state machine. Connectivity transitions are
// pushed into it as messages; a periodic wake (when the platform supports
// one) runs the same drain-then-refresh sequence. At most one drain runs at a
// time process-wide: triggers arriving mid-drain are coalesced.
type Engine struct {
	store   *store.Store
	queue   *Queue
	remote  remote.Service
	cfg     *config.Config
	log     logging.Logger
	ownerID string

	events chan bool

	mu          sync.Mutex
	state       models.SyncState
	subs        []func(models.SyncState)
	draining    bool
	cancelDrain context.CancelFunc
}

func NewEngine(st *store.Store, q *Queue, rs remote.Service, cfg *config.Config, ownerID string, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Engine{
		store:   st,
		queue:   q,
		remote:  rs,
		cfg:     cfg,
		log:     log,
		ownerID: ownerID,
		events:  make(chan bool, 4),
		state:   models.StateOffline,
	}
}

// State returns the current sync state for the UI indicator.
func (e *Engine) State() models.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a callback invoked on every state change.
func (e *Engine) Subscribe(fn func(models.SyncState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// SetConnectivity feeds a platform connectivity signal into the engine.
// When signals arrive faster than the loop consumes them the oldest pending
// ones are discarded, so the newest signal always lands.
func (e *Engine) SetConnectivity(online bool) {
	for {
		select {
		case e.events <- online:
			return
		default:
		}
		select {
		case <-e.events:
		default:
		}
	}
}

// Run processes connectivity events and periodic wakes until ctx ends.
// A WakeInterval of zero means the platform offers no background wake.
func (e *Engine) Run(ctx context.Context) {
	var wake <-chan time.Time
	if e.cfg.WakeInterval > 0 {
		ticker := time.NewTicker(e.cfg.WakeInterval)
		defer ticker.Stop()
		wake = ticker.C
	}

	for {
		select {
		case online := <-e.events:
			if online {
				e.trigger(ctx, false)
			} else {
				e.goOffline(ctx)
			}
		case <-wake:
			e.trigger(ctx, true)
		case <-ctx.Done():
			return
		}
	}
}

// goOffline interrupts any in-progress drain (the in-flight replay is allowed
// to finish, nothing further is dispatched) and enters Offline.
func (e *Engine) goOffline(ctx context.Context) {
	e.mu.Lock()
	if e.cancelDrain != nil {
		e.cancelDrain()
	}
	e.mu.Unlock()
	e.setState(ctx, models.StateOffline)
}

// trigger starts a sync cycle unless one is already running (coalesced).
// On a plain connectivity-restored signal with an empty queue we go straight
// to Synced; a periodic wake always runs the full drain-then-refresh pass.
func (e *Engine) trigger(ctx context.Context, wake bool) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Cheap reachability probe: a restored signal (or wake) can race the
	// transport actually coming up, and a drain against a dead backend would
	// just burn the retry budget.
	if err := e.remote.Ping(ctx); err != nil {
		e.log.Warn(ctx, "backend unreachable, staying offline", "error", err)
		e.setState(ctx, models.StateOffline)
		return
	}

	n, err := e.queue.Size(ctx)
	if err != nil {
		e.log.Error(ctx, "cannot read queue size", "error", err)
		e.setState(ctx, models.StateError)
		return
	}
	if n == 0 && !wake {
		e.setState(ctx, models.StateSynced)
		return
	}

	drainCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		cancel()
		return
	}
	e.draining = true
	e.cancelDrain = cancel
	e.mu.Unlock()

	e.setState(ctx, models.StateSyncing)
	go e.syncCycle(drainCtx, cancel)
}

// syncCycle drains the queue and, on a clean drain, refreshes the local cache
// from the remote source of truth. The drain context stays live (and
// cancellable by goOffline) through the refresh, so an offline signal at any
// point in the cycle interrupts it and wins.
func (e *Engine) syncCycle(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.cancelDrain = nil
		e.mu.Unlock()
		cancel()
	}()

	res, err := e.queue.Drain(ctx, e.replayWithRetry)
	if ctx.Err() != nil {
		// Interrupted by an offline signal; goOffline already moved the state.
		return
	}
	if err != nil {
		e.log.Error(ctx, "drain aborted", "error", err)
		e.setState(ctx, models.StateError)
		return
	}
	if res.StillFailing > 0 {
		// Unresolved operations stay queued for the next connectivity cycle;
		// no immediate re-drain, so a failing backend is not hammered.
		e.setState(ctx, models.StateError)
		return
	}

	if err := e.refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Error(ctx, "post-drain refresh failed", "error", err)
		e.setState(ctx, models.StateError)
		return
	}
	if ctx.Err() != nil {
		return
	}
	e.setState(ctx, models.StateSynced)
}

// refresh replaces the local cache with the remote listing (last writer
// wins) and prunes to the retention limit.
func (e *Engine) refresh(ctx context.Context) error {
	fresh, err := e.remote.ListEntries(ctx, e.ownerID)
	if err != nil {
		return err
	}
	return e.store.ReplaceEntriesForOwner(ctx, e.ownerID, fresh, e.cfg.RetentionLimit)
}

// replayWithRetry wraps one replay in a bounded timeout and backoff. Only
// transport-class failures retry; an application-level rejection is left for
// the next connectivity cycle immediately.
func (e *Engine) replayWithRetry(ctx context.Context, op models.QueuedOperation) error {
	backoff := retry.WithMaxRetries(e.cfg.ReplayMaxAttempts, retry.NewExponential(e.cfg.ReplayBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		// The attempt itself survives a drain interrupt (an in-flight replay
		// is allowed to finish) but is bounded so the drain terminates.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ReplayTimeout)
		defer cancel()

		err := e.replay(attemptCtx, op)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrRemoteUnreachable) || errors.Is(err, context.DeadlineExceeded) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// replay applies a single queued operation against the remote and settles the
// local row it targets.
func (e *Engine) replay(ctx context.Context, op models.QueuedOperation) error {
	switch op.Action {
	case models.ActionCreate:
		var entry models.Entry
		if err := json.Unmarshal(op.Payload, &entry); err != nil {
			return fmt.Errorf("%w: decode payload: %w", common.ErrReplayFailed, err)
		}
		confirmed, err := e.remote.CreateEntry(ctx, &entry)
		if err != nil {
			return err
		}
		return e.store.ReplaceTempID(ctx, op.TargetId, confirmed)

	case models.ActionUpdate:
		var entry models.Entry
		if err := json.Unmarshal(op.Payload, &entry); err != nil {
			return fmt.Errorf("%w: decode payload: %w", common.ErrReplayFailed, err)
		}
		confirmed, err := e.remote.UpdateEntry(ctx, &entry)
		if err != nil {
			return err
		}
		return e.store.PutEntry(ctx, confirmed, true)

	case models.ActionDelete:
		err := e.remote.DeleteEntry(ctx, op.TargetId)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		// Confirmed (or already gone) remote-side: purge the tombstone.
		return e.store.PurgeEntry(ctx, op.TargetId)

	default:
		return fmt.Errorf("%w: unknown action %q", common.ErrReplayFailed, op.Action)
	}
}

func (e *Engine) setState(ctx context.Context, s models.SyncState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	subs := make([]func(models.SyncState), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	e.log.Info(ctx, "sync state changed", "state", s.String())
	for _, fn := range subs {
		fn(s)
	}
}
