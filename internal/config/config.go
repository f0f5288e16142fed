// Package config loads the engine's runtime settings. Values come from
// defaults, then an optional JSON file (-c/-config), then command-line
// flags; later sources take precedence over earlier ones.
package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/notesync/internal/filex"
)

// Config holds runtime settings for the notesync engine.
type Config struct {
	// DatabasePath is the on-device SQLite file backing the local store,
	// deletion log and mutation queue.
	DatabasePath string

	// DebounceDelay is how long the coalescer waits after the last edit to
	// an entity before performing the durable write and queueing the intent.
	DebounceDelay time.Duration

	// IdleSyncInterval is how long local activity must be quiet before an
	// idle-triggered sync pass runs.
	IdleSyncInterval time.Duration

	// PeriodicSyncInterval is the fixed interval for background passes;
	// a periodic pass runs only if there is pending work or activity since
	// the previous period.
	PeriodicSyncInterval time.Duration

	// OnlineCheckInterval is how often the network watcher probes
	// reachability of the remote store.
	OnlineCheckInterval time.Duration

	// StaleDeviceThreshold is how long a device may stay unsynced before
	// its local-only, unqueued entities are treated as orphaned and purged
	// instead of re-uploaded. Policy, not contract; see Resolver.
	StaleDeviceThreshold time.Duration

	// TransferConcurrency bounds parallel uploads/downloads in one pass.
	TransferConcurrency int

	// MaxPassAttempts bounds orchestrator retries of a whole pass after a
	// remote precondition conflict.
	MaxPassAttempts int

	// RetryBaseDelay is the initial backoff between pass attempts.
	RetryBaseDelay time.Duration

	// Remote object store settings (any S3-compatible endpoint).
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3Prefix       string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "notesync.db"
	if dir, err := filex.DefaultDataDir("notesync"); err == nil {
		c.DatabasePath = filepath.Join(dir, "notesync.db")
	}
	c.DebounceDelay = 400 * time.Millisecond
	c.IdleSyncInterval = 30 * time.Second
	c.PeriodicSyncInterval = 5 * time.Minute
	c.OnlineCheckInterval = 3 * time.Second
	c.StaleDeviceThreshold = 30 * 24 * time.Hour
	c.TransferConcurrency = 4
	c.MaxPassAttempts = 3
	c.RetryBaseDelay = 2 * time.Second
	c.S3Region = "us-east-1"
	c.S3Prefix = "notesync"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
