package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation a queued operation replays.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// QueuedOperation is one mutation that could not be confirmed remotely and is
// waiting to be replayed. EnqueuedAt defines strict replay order, oldest
// first. The id is synthetic (action-target-enqueue time) so re-queuing the
// same logical change upserts instead of duplicating.
type QueuedOperation struct {
	Id         string          `json:"id"`
	Action     Action          `json:"action"`
	TargetId   string          `json:"targetId"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// OperationID builds the synthetic queue key for an action on a target at a
// given enqueue time.
func OperationID(action Action, targetID string, enqueuedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", action, targetID, enqueuedAt.UnixMilli())
}
