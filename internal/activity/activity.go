// Package activity implements spec.md §4.6 C7: the per-(profileId,
// instanceId) plain-text activity log that serves as this engine's
// broadcast mechanism — an appended line is the only signal another
// instance needs to know a note changed.
//
// Grounded directly on other_examples/c4c48644_asmith60-alertmanager__nflog-nflog.go.go's
// Log/Snapshot/GC maintenance shape and its atomic rename-on-close replace
// file, adapted from protobuf-delimited gossip entries to this spec's
// plain-text `noteId|profileId|instanceId_seq` lines.
package activity

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/types"
)

// Log is the writer side: one Log per (sd, profile, instance) triple that
// this process owns. Only the owning instance ever appends to its file.
type Log struct {
	fs  fsabs.FileSystem
	cfg config.Engine

	sd       string
	profile  types.ProfileID
	instance types.InstanceID

	mu      sync.Mutex
	size    int64
	nextSeq uint64
}

// NewLog opens (lazily — no I/O happens until the first Append) the
// activity log this instance owns.
func NewLog(fs fsabs.FileSystem, cfg config.Engine, sd string, profile types.ProfileID, instance types.InstanceID) *Log {
	return &Log{fs: fs, cfg: cfg, sd: sd, profile: profile, instance: instance}
}

func (l *Log) path() string {
	return layout.ActivityDir(l.sd) + "/" + layout.ActivityFilename(l.profile, l.instance)
}

// Append writes one line for (noteId, sequence) where sequence is this
// instance's own log sequence for that note, then compacts if the file
// has grown past ACTIVITY_MAX_SIZE.
func (l *Log) Append(note types.NoteID, sequence uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == 0 {
		if fi, err := l.fs.Stat(l.path()); err == nil {
			l.size = fi.Size()
		}
	}

	line := codec.FormatActivityLine(types.ActivityEntry{
		Note:           note,
		OriginProfile:  l.profile,
		OriginInstance: l.instance,
		Sequence:       sequence,
	})

	w, err := l.fs.OpenAppend(l.path())
	if err != nil {
		return fmt.Errorf("activity: open %s: %w", l.path(), err)
	}
	if _, err := w.Write([]byte(line)); err != nil {
		w.Close()
		return fmt.Errorf("activity: append %s: %w", l.path(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("activity: close %s: %w", l.path(), err)
	}
	l.size += int64(len(line))
	if sequence > l.nextSeq {
		l.nextSeq = sequence
	}

	if l.size > l.cfg.ActivityMaxSize {
		if err := l.compactLocked(); err != nil {
			return err
		}
	}
	return nil
}

// compactLocked rewrites the activity file to keep only the last
// ACTIVITY_KEEP lines, via a temp file and atomic rename so a crash never
// leaves a half-written replacement in place of the original.
func (l *Log) compactLocked() error {
	data, err := l.fs.ReadFile(l.path())
	if err != nil {
		return fmt.Errorf("activity: read %s for compaction: %w", l.path(), err)
	}
	lines := splitLines(data)
	if len(lines) > l.cfg.ActivityKeep {
		lines = lines[len(lines)-l.cfg.ActivityKeep:]
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := l.fs.WriteFileAtomic(l.path(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("activity: compact %s: %w", l.path(), err)
	}
	l.size = int64(buf.Len())
	metrics.ActivityCompactionsTotal.Inc()
	return nil
}

func splitLines(data []byte) []string {
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Reader tracks, per origin instance, the last sequence this process has
// successfully consumed from that instance's activity file — the
// watermark spec.md §4.6 defines gap detection against. One Reader is
// shared across every other instance's activity file within an SD.
type Reader struct {
	fs fsabs.FileSystem

	mu         sync.Mutex
	watermarks map[types.InstanceID]uint64
}

func NewReader(fs fsabs.FileSystem) *Reader {
	return &Reader{fs: fs, watermarks: make(map[types.InstanceID]uint64)}
}

// ReadResult is what Read returns for one activity file scan.
type ReadResult struct {
	Entries []types.ActivityEntry
	// Gap is true when the minimum sequence observed exceeds
	// watermark+1: the reader missed one or more lines, most likely to
	// compaction racing ahead of it, and must fall back to a full scan.
	Gap bool
}

// Read parses sd's activity file for origin, returning only entries newer
// than the stored watermark, and advances the watermark to the maximum
// sequence seen (even on a gap, per spec.md §4.6/§4.9: the watermark
// always advances to the max seen so the next read doesn't re-flag the
// same gap forever).
func (r *Reader) Read(sd string, profile types.ProfileID, origin types.InstanceID) (ReadResult, error) {
	path := layout.ActivityDir(sd) + "/" + layout.ActivityFilename(profile, origin)
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return ReadResult{}, fmt.Errorf("activity: read %s: %w", path, err)
	}

	r.mu.Lock()
	watermark := r.watermarks[origin]
	r.mu.Unlock()

	var result ReadResult
	var minSeq uint64
	haveMin := false
	maxSeq := watermark

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := codec.ParseActivityLine(line)
		if err != nil {
			continue // a partially-written trailing line; next read picks it up complete
		}
		if !haveMin || entry.Sequence < minSeq {
			minSeq = entry.Sequence
			haveMin = true
		}
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
		if entry.Sequence > watermark {
			result.Entries = append(result.Entries, entry)
		}
	}

	if haveMin && minSeq > watermark+1 {
		result.Gap = true
		metrics.ActivityGapsTotal.Inc()
	}

	r.mu.Lock()
	r.watermarks[origin] = maxSeq
	r.mu.Unlock()

	return result, nil
}

// Watermark returns the current watermark for origin, 0 if none observed.
func (r *Reader) Watermark(origin types.InstanceID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermarks[origin]
}

// SetWatermark is used by the reload pipeline's full-scan fallback to
// explicitly advance past a detected gap once recovery enqueues reloads
// for every note.
func (r *Reader) SetWatermark(origin types.InstanceID, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.watermarks[origin] {
		r.watermarks[origin] = seq
	}
}
