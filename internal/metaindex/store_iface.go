package metaindex

import "github.com/notecove/sync/internal/types"

// NoteMeta is the projected metadata spec.md §2 C12 describes: title,
// folder, and tags, kept in sync with CRDT state but never consulted by
// the sync engine itself to decide what to sync.
type NoteMeta struct {
	SDPath      string   `json:"sdPath"`
	Note        types.NoteID `json:"note"`
	Title       string   `json:"title"`
	Folder      string   `json:"folder"`
	Tags        []string `json:"tags,omitempty"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// Store defines the interface for the metadata index, per spec.md §6's
// "API consumed from external collaborators": upsert_note, get_note,
// notes_in_sd. A real implementation lives in the UI layer; BoltStore and
// MemStore here are reference implementations for the CLI and tests.
type Store interface {
	UpsertNote(meta NoteMeta) error
	GetNote(sdPath string, note types.NoteID) (NoteMeta, bool, error)
	NotesInSD(sdPath string) ([]NoteMeta, error)
	DeleteNote(sdPath string, note types.NoteID) error
	Close() error
}
