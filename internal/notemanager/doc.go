// Package notemanager implements spec.md §4.7 C8: get_or_load, apply_local,
// apply_remote, and force-reload for every note, backed by a size-bounded
// LRU of live DocumentSnapshots.
//
// Per-note serialization is a per-note lock held by Manager.
// internal/doccache.DocumentSnapshot's own mutex is not enough on its own,
// since DocumentSnapshot.ApplyLocal writes to the log before taking it, so
// ApplyLocal and ApplyRemote hold the per-note lock across their whole
// load, write-or-fetch and apply sequence, and GetOrLoad and ForceReload
// hold it around the cold load and the cache swap. That lock
// is a plain per-note sync.Mutex, grounded on pkg/storage/boltdb.go's
// per-resource lock-map organization, generalized from "one mutex per
// cluster entity key" to "one mutex per open note"; the LRU eviction loop
// is grounded on the same file's bucket-scan shape, adapted to
// container/list.
package notemanager
