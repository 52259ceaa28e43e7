// Package reload implements spec.md §4.9/§4.11 C10: the reload pipeline
// that turns an activity-file event into one or more ensure_applied tasks,
// each a small state machine (Pending→Scanning→Waiting→Applied|Stale) that
// scans the originating instance's log files for a specific sequence and
// retries with exponential backoff when the bytes aren't visible yet.
//
// Grounded on spec.md §4.9 directly for the retry ladder and gap-triggered
// full-scan fallback, and on pkg/reconciler/reconciler.go's reconcile-cycle
// idiom (one goroutine per unit of work, a stop channel, a ticker-driven
// retry), generalized from one global tick to one goroutine per
// (sd, note, origin) task.
package reload
