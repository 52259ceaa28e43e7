// Package metaindex defines spec.md §4 C12, the metadata index: a
// projection of note title/folder/tags kept consistent with CRDT state so
// the UI can list and filter notes without decoding a document. The sync
// engine never writes to it (nothing in the engine calls UpsertNote); the
// one place it reads it is internal/reload's activity-gap fallback, which
// lists NotesInSD to choose the notes to force-reload. Store is the
// contract external collaborators (the real UI-backed index) implement;
// BoltStore is the implementation the CLI opens, and MemStore is the one
// the tests use.
//
// Grounded on the teacher's pkg/storage/boltdb.go bucket-per-kind,
// JSON-value CRUD shape, narrowed from nine cluster-entity buckets down
// to the one this engine actually projects: notes.
package metaindex
