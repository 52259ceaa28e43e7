// Package notestore implements spec.md §4.2 C3: the per-note append-only
// log writer. It owns exactly one responsibility — issuing this instance's
// next sequence number for a note and durably appending the framed record
// — and enforces the invariant every other component depends on: sequences
// this instance issues for a note are strictly increasing with no gaps.
//
// Grounded on the per-resource state-map-plus-mutex organization of
// pkg/storage/boltdb.go (one lock domain per resource, not a single global
// lock) and the rotate-on-size-threshold structure common to append-only
// log implementations such as other_examples' WAL sample.
package notestore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/ncslog"
	"github.com/notecove/sync/internal/types"
)

// Store issues and appends log records on behalf of one local instance. A
// single Store is shared by every SD the engine has registered; state is
// keyed per (sdPath, noteId).
type Store struct {
	fs    fsabs.FileSystem
	clock fsabs.Clock
	cfg   config.Engine
	self  types.InstanceID

	mu    sync.Mutex
	notes map[noteKey]*noteState
}

type noteKey struct {
	sdPath string
	note   types.NoteID
}

// noteState is the write-queue side of one note: it serializes all writes
// from this instance for this note, mirroring spec.md's "write_update
// serializes with the note's write queue".
type noteState struct {
	mu                sync.Mutex
	recovered         bool
	currentFilename   string
	currentSize       int64
	nextSeqByInstance map[types.InstanceID]uint64
}

// New constructs a Store for instance self.
func New(fs fsabs.FileSystem, clock fsabs.Clock, cfg config.Engine, self types.InstanceID) *Store {
	return &Store{
		fs:    fs,
		clock: clock,
		cfg:   cfg,
		self:  self,
		notes: make(map[noteKey]*noteState),
	}
}

// CurrentFilename returns the log file this instance is currently
// appending to for (sdPath, note), if any. internal/snapshot.Manager.GC
// uses this to avoid deleting a log file out from under an in-progress
// append.
func (s *Store) CurrentFilename(sdPath string, note types.NoteID) (string, bool) {
	st := s.state(sdPath, note)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.currentFilename, st.currentFilename != ""
}

func (s *Store) state(sdPath string, note types.NoteID) *noteState {
	key := noteKey{sdPath: sdPath, note: note}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.notes[key]
	if !ok {
		st = &noteState{nextSeqByInstance: make(map[types.InstanceID]uint64)}
		s.notes[key] = st
	}
	return st
}

// WriteUpdate appends payload as the next record in this instance's log
// for note, rotating to a new log file if needed. It returns the sequence,
// filename, and offset (the byte just past the new record) the caller should record, e.g. to hand to
// DocumentSnapshot.apply_local for its own clock bookkeeping.
func (s *Store) WriteUpdate(sdPath string, note types.NoteID, payload []byte) (types.WriteResult, error) {
	st := s.state(sdPath, note)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.recovered {
		if err := s.recoverLocked(sdPath, note, st); err != nil {
			return types.WriteResult{}, err
		}
		st.recovered = true
	}

	ts := s.clock.NowMillis()
	seq := st.nextSeqByInstance[s.self] + 1
	record := codec.WriteLogRecord(ts, seq, payload)
	logsDir := layout.LogsDir(sdPath, note)

	if st.currentFilename == "" || st.currentSize+int64(len(record)) > s.cfg.LogMaxSize {
		filename := layout.LogFilename(ts, s.self)
		fullPath := logsDir + "/" + filename
		if err := s.fs.WriteFileAtomic(fullPath, codec.WriteLogHeader(), 0o644); err != nil {
			return types.WriteResult{}, fmt.Errorf("notestore: create log %s: %w", fullPath, err)
		}
		st.currentFilename = filename
		st.currentSize = int64(len(codec.WriteLogHeader()))
	}

	fullPath := logsDir + "/" + st.currentFilename
	w, err := s.fs.OpenAppend(fullPath)
	if err != nil {
		return types.WriteResult{}, fmt.Errorf("notestore: open %s: %w", fullPath, err)
	}
	if _, err := w.Write(record); err != nil {
		w.Close()
		return types.WriteResult{}, fmt.Errorf("notestore: append %s: %w", fullPath, err)
	}
	if err := w.Close(); err != nil {
		return types.WriteResult{}, fmt.Errorf("notestore: close %s: %w", fullPath, err)
	}

	st.currentSize += int64(len(record))
	offset := uint64(st.currentSize)
	st.nextSeqByInstance[s.self] = seq

	return types.WriteResult{
		Instance: s.self,
		Sequence: seq,
		Offset:   offset,
		Filename: st.currentFilename,
	}, nil
}

// recoverLocked finds this instance's most recent log file for note (if
// any), rewinding past a partially-written trailing record left by a
// crash mid-append, per spec.md §5 "C3 rewinds the file to the last
// complete record on next open".
func (s *Store) recoverLocked(sdPath string, note types.NoteID, st *noteState) error {
	logsDir := layout.LogsDir(sdPath, note)
	entries, err := s.fs.ListDir(logsDir)
	if err != nil {
		return fmt.Errorf("notestore: list %s: %w", logsDir, err)
	}

	suffix := "_" + string(s.self) + ".crdtlog"
	var candidates []string
	for _, e := range entries {
		if !e.IsDir && strings.HasSuffix(e.Name, suffix) {
			candidates = append(candidates, e.Name)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	// Millisecond timestamps are fixed-width decimal for the lifetime of
	// this format, so lexical sort agrees with numeric sort.
	sort.Strings(candidates)
	filename := candidates[len(candidates)-1]
	fullPath := logsDir + "/" + filename

	data, err := s.fs.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("notestore: read %s: %w", fullPath, err)
	}

	_, n, err := codec.ParseLogHeader(data)
	if err != nil {
		ncslog.Logger.Warn().Str("path", fullPath).Err(err).Msg("notestore: own log header invalid, treating as empty")
		return nil
	}

	var lastSeq uint64
	end, iterErr := codec.IterateLogRecords(data, n, func(v codec.LogRecordView) error {
		lastSeq = v.Sequence
		return nil
	})
	if iterErr != nil {
		var trunc *codec.Truncated
		if errors.As(iterErr, &trunc) {
			ncslog.Logger.Warn().Str("path", fullPath).Int("at_offset", trunc.AtOffset).
				Msg("notestore: rewinding own log past partial trailing record")
			if err := s.fs.Truncate(fullPath, int64(trunc.AtOffset)); err != nil {
				return fmt.Errorf("notestore: rewind %s: %w", fullPath, err)
			}
			end = trunc.AtOffset
		} else {
			return fmt.Errorf("notestore: own log %s: %w", fullPath, iterErr)
		}
	}

	st.currentFilename = filename
	st.currentSize = int64(end)
	st.nextSeqByInstance[s.self] = lastSeq
	return nil
}
