// Package config holds runtime settings for the Driftwell client data layer.
// The embedding application constructs a Config (usually starting from
// LoadDefaults) and passes it to driftwell.Login; there is no flag or
// environment parsing here because the library has no process of its own.
package config

import "time"

// Config holds tunables for the offline store, sync engine and cache layer.
//
// Units: all *Bytes fields are bytes; durations are time.Durations.
// A WakeInterval of zero means the platform offers no background wake and
// reconciliation happens only on connectivity transitions.
type Config struct {
	// RemoteBaseURL is the backend API root, e.g. "https://api.driftwell.app".
	RemoteBaseURL string

	// HTTPTimeout bounds every remote call issued by the data layer.
	HTTPTimeout time.Duration

	// RetentionLimit is the maximum number of cached entries kept per owner
	// after a refresh from the remote.
	RetentionLimit int

	// HardCeilingBytes is the global storage ceiling across all categories.
	// Strictly enforced: crossing it triggers asset eviction.
	HardCeilingBytes int64

	// SoftJournalCeilingBytes and SoftMoodCeilingBytes are advisory
	// per-category ceilings; crossing one logs a warning but evicts nothing.
	SoftJournalCeilingBytes int64
	SoftMoodCeilingBytes    int64

	// ReplayTimeout bounds a single replay attempt during a drain.
	ReplayTimeout time.Duration

	// ReplayMaxAttempts and ReplayBackoff shape the bounded retry around each
	// replay attempt before the operation is left queued for the next cycle.
	ReplayMaxAttempts uint64
	ReplayBackoff     time.Duration

	// WakeInterval is the periodic background reconciliation interval.
	// Zero disables periodic wake.
	WakeInterval time.Duration

	// CacheVersion namespaces HTTP cache buckets. Changing it on deploy
	// causes buckets tagged with older versions to be cleaned up.
	CacheVersion string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RemoteBaseURL = "http://127.0.0.1:8080"
	c.HTTPTimeout = 10 * time.Second
	c.RetentionLimit = 50
	c.HardCeilingBytes = 200 << 20
	c.SoftJournalCeilingBytes = 5 << 20
	c.SoftMoodCeilingBytes = 1 << 20
	c.ReplayTimeout = 12 * time.Second
	c.ReplayMaxAttempts = 3
	c.ReplayBackoff = 500 * time.Millisecond
	c.WakeInterval = 0
	c.CacheVersion = "v1"
}

// LoadConfig constructs a Config with defaults applied.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	return cfg
}
