/*
Package metrics provides Prometheus metrics collection and a small Timer
helper for the NoteCove sync engine.

Metrics cover the engine's own health rather than note content: open-note
cache occupancy, local/remote update throughput, snapshot and activity-log
maintenance counts, watcher event counts, and reload-pipeline outcomes
(applied vs. stale). Handler exposes the standard Prometheus text format.
*/
package metrics
