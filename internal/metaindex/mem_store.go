package metaindex

import (
	"sync"

	"github.com/notecove/sync/internal/types"
)

// MemStore is an in-memory Store, used by tests that don't want to pay
// for a BoltDB file on disk.
type MemStore struct {
	mu    sync.Mutex
	notes map[string]NoteMeta
}

// NewMemStore returns an empty in-memory metadata index.
func NewMemStore() *MemStore {
	return &MemStore{notes: make(map[string]NoteMeta)}
}

func (s *MemStore) key(sdPath string, note types.NoteID) string {
	return sdPath + "\x00" + string(note)
}

func (s *MemStore) UpsertNote(meta NoteMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[s.key(meta.SDPath, meta.Note)] = meta
	return nil
}

func (s *MemStore) GetNote(sdPath string, note types.NoteID) (NoteMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.notes[s.key(sdPath, note)]
	return meta, ok, nil
}

func (s *MemStore) NotesInSD(sdPath string) ([]NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NoteMeta
	for _, meta := range s.notes {
		if meta.SDPath == sdPath {
			out = append(out, meta)
		}
	}
	return out, nil
}

func (s *MemStore) DeleteNote(sdPath string, note types.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, s.key(sdPath, note))
	return nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
var _ Store = (*BoltStore)(nil)
