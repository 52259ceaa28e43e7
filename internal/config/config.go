// Package config holds the tunables the NoteCove sync engine is built
// around: rotation thresholds, snapshot cadence, activity compaction
// limits, watcher timing, and the reload backoff ladder. All of spec.md's
// named defaults live here as a single struct so tests can override them
// without touching package-level state.
package config

import "time"

// Engine holds every tunable the sync engine consults. Zero-value fields
// are filled in by Default(); callers needing one non-default knob should
// start from Default() and override the field they care about.
type Engine struct {
	// LogMaxSize is the rotation threshold for per-note CRDT log files.
	LogMaxSize int64

	// SnapshotThreshold is the number of updates applied since the last
	// snapshot that triggers a new one (subject to SnapshotMinInterval).
	SnapshotThreshold int
	// SnapshotMinInterval is the minimum wall-clock time between
	// threshold-triggered snapshots.
	SnapshotMinInterval time.Duration

	// ActivityMaxSize is the size at which an activity log is compacted.
	ActivityMaxSize int64
	// ActivityKeep is the number of most-recent lines kept by compaction.
	ActivityKeep int

	// DebounceWindow coalesces filesystem-watcher events per path.
	DebounceWindow time.Duration
	// PollInterval is the polling backstop period per storage directory.
	PollInterval time.Duration
	// PresenceInterval is how often a profile presence file is rewritten.
	PresenceInterval time.Duration

	// NoteCacheSize bounds the number of open DocumentSnapshots kept in
	// the note manager's LRU.
	NoteCacheSize int

	// ReloadBackoff is the retry ladder used by ensure_applied, in order.
	ReloadBackoff []time.Duration
	// ReloadBudget is the total time a reload task may spend retrying
	// before it is reported stale.
	ReloadBudget time.Duration
}

// Default returns the tunables named by the specification.
func Default() Engine {
	return Engine{
		LogMaxSize:          1 << 20, // 1 MiB
		SnapshotThreshold:   200,
		SnapshotMinInterval: 60 * time.Second,
		ActivityMaxSize:     64 << 10, // 64 KiB
		ActivityKeep:        2000,
		DebounceWindow:      100 * time.Millisecond,
		PollInterval:        3 * time.Second,
		PresenceInterval:    60 * time.Second,
		NoteCacheSize:       64,
		ReloadBackoff: []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
		},
		ReloadBudget: 60 * time.Second,
	}
}
