// Package syncer contains the write-behind queue and the reconciliation
// engine that drains it against the remote service when connectivity allows.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/driftwell/driftwell-go/logging"
	"github.com/driftwell/driftwell-go/models"
	"github.com/driftwell/driftwell-go/store"
)

// Queue records mutations that could not be confirmed remotely, in strict
// enqueue order. It lives in the durable store, so enqueue succeeds whenever
// local persistence is writable at all.
type Queue struct {
	store *store.Store
	log   logging.Logger

	mu   sync.Mutex
	last time.Time
}

func NewQueue(st *store.Store, log logging.Logger) *Queue {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Queue{store: st, log: log}
}

// nextEnqueueTime returns a strictly increasing timestamp so two enqueues in
// the same millisecond still replay in the order they were issued.
func (q *Queue) nextEnqueueTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(q.last) {
		now = q.last.Add(time.Millisecond)
	}
	q.last = now
	return now
}

// Enqueue appends a mutation for later replay. The payload is the partial
// entity state needed to replay the action.
func (q *Queue) Enqueue(ctx context.Context, action models.Action, targetID string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}

	now := q.nextEnqueueTime()
	op := &models.QueuedOperation{
		Id:         models.OperationID(action, targetID, now),
		Action:     action,
		TargetId:   targetID,
		Payload:    raw,
		EnqueuedAt: now,
	}
	if err := q.store.Enqueue(ctx, op); err != nil {
		return err
	}
	q.log.Debug(ctx, "operation queued", "id", op.Id, "action", action)
	return nil
}

// Size returns the number of operations waiting to replay.
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.store.QueueSize(ctx)
}

// ReplayFunc replays a single queued operation against the remote.
type ReplayFunc func(ctx context.Context, op models.QueuedOperation) error

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Succeeded    int
	StillFailing int
}

// Drain replays all queued operations oldest first, awaiting each before the
// next so per-entity ordering holds. A failing operation stays queued and the
// drain continues; one poisoned operation never blocks the rest. Cancelling
// ctx stops dispatching further operations (the in-flight one may finish).
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (DrainResult, error) {
	var res DrainResult

	ops, err := q.store.QueuedOperations(ctx)
	if err != nil {
		return res, err
	}

	for i, op := range ops {
		if ctx.Err() != nil {
			res.StillFailing += len(ops) - i
			break
		}

		if err := replay(ctx, op); err != nil {
			res.StillFailing++
			q.log.Warn(ctx, "replay failed, leaving operation queued",
				"id", op.Id, "action", op.Action, "error", err)
			continue
		}

		// A replay that completed must settle even if the drain was
		// interrupted meanwhile, or it would re-apply next cycle.
		if err := q.store.RemoveOperation(context.WithoutCancel(ctx), op.Id); err != nil {
			return res, err
		}
		res.Succeeded++
	}

	q.log.Info(ctx, "drain finished",
		"succeeded", res.Succeeded, "stillFailing", res.StillFailing)
	return res, nil
}
