package models

// SyncState is the reconciliation engine's externally visible state. It feeds
// the sync indicator in the embedding app.
type SyncState int

const (
	// StateSynced: queue empty, last refresh succeeded.
	StateSynced SyncState = iota
	// StateOffline: no network transport available.
	StateOffline
	// StateSyncing: a drain is in progress.
	StateSyncing
	// StateError: the last drain left at least one operation still failing.
	StateError
)

func (s SyncState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateOffline:
		return "offline"
	case StateSyncing:
		return "syncing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
