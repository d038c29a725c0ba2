// Package common defines shared constants and sentinel errors used across the
// client data layer. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable: local persistence cannot be opened or written.
	// Non-retriable within the session; callers degrade to remote-only mode.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrRemoteUnreachable: a network call failed or timed out. Retriable;
	// writes are queued for later replay, reads fall back to cache.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrReplayFailed: a queued operation's replay was rejected by the remote
	// with an application-level error. The operation stays queued and is
	// retried on the next connectivity cycle.
	ErrReplayFailed = errors.New("replay failed")

	// ErrQuotaExceeded: storage is at the hard ceiling with nothing left to
	// evict. New large-asset writes are blocked until space is freed.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrMigrationFailed: the local schema could not be brought to the
	// expected version. Offline features are disabled for the session.
	ErrMigrationFailed = errors.New("schema migration failed")

	// ErrDownloadAborted: an in-flight asset download was cancelled; no
	// partial row was written.
	ErrDownloadAborted = errors.New("download aborted")
)
