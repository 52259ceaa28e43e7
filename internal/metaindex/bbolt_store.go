package metaindex

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/notecove/sync/internal/types"
)

var bucketNotes = []byte("notes")

// BoltStore implements Store with a single BoltDB bucket keyed by
// "<sdPath>\x00<noteId>", following the teacher's pkg/storage/boltdb.go
// bucket-per-kind JSON-value CRUD shape.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed metadata index
// at <dataDir>/metaindex.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "metaindex.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("metaindex: open %s: %w", dbPath, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNotes)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("metaindex: create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func noteKey(sdPath string, note types.NoteID) []byte {
	return []byte(sdPath + "\x00" + string(note))
}

func (s *BoltStore) UpsertNote(meta NoteMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal note meta: %w", err)
		}
		return tx.Bucket(bucketNotes).Put(noteKey(meta.SDPath, meta.Note), data)
	})
}

func (s *BoltStore) GetNote(sdPath string, note types.NoteID) (NoteMeta, bool, error) {
	var meta NoteMeta
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNotes).Get(noteKey(sdPath, note))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &meta)
	})
	return meta, found, err
}

func (s *BoltStore) NotesInSD(sdPath string) ([]NoteMeta, error) {
	var out []NoteMeta
	prefix := []byte(sdPath + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNotes).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var meta NoteMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("unmarshal note meta %q: %w", k, err)
			}
			out = append(out, meta)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteNote(sdPath string, note types.NoteID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotes).Delete(noteKey(sdPath, note))
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
