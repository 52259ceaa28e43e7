// Package doccache implements spec.md §4.4 C5: DocumentSnapshot, the
// in-memory CRDT document plus vector clock that every read and write for
// one note passes through. A DocumentSnapshot is owned exclusively by the
// note manager (internal/notemanager); nothing else ever touches one
// directly.
package doccache

import (
	"fmt"
	"sync"

	"github.com/notecove/sync/internal/activity"
	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/crdtdoc"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/notestore"
	"github.com/notecove/sync/internal/types"
)

// DocumentSnapshot wraps one note's CRDT document and vector clock under a
// mutex. Document and clock access in every exported method happens under
// that mutex, but ApplyLocal's log write through C3 happens before the
// mutex is taken, so concurrent ApplyLocal calls for one note are
// serialized by the caller (internal/notemanager's per-note lock).
type DocumentSnapshot struct {
	sd   string
	note types.NoteID

	store        *notestore.Store
	fs           fsabs.FileSystem
	activityLogs ActivityAppender

	mu        sync.Mutex
	doc       *crdtdoc.Document
	clock     types.VectorClock
	observers *observerSet
}

// ActivityAppender is the subset of *activity.Log DocumentSnapshot needs,
// narrowed to an interface so tests can substitute a recorder.
type ActivityAppender interface {
	Append(note types.NoteID, sequence uint64) error
}

var _ ActivityAppender = (*activity.Log)(nil)

// New wraps an already-loaded document and clock — the product of
// internal/loader.Load — as a live DocumentSnapshot.
func New(sd string, note types.NoteID, store *notestore.Store, fs fsabs.FileSystem, activityLog ActivityAppender, doc *crdtdoc.Document, clock types.VectorClock) *DocumentSnapshot {
	if clock == nil {
		clock = types.VectorClock{}
	}
	return &DocumentSnapshot{
		sd:           sd,
		note:         note,
		store:        store,
		fs:           fs,
		activityLogs: activityLog,
		doc:          doc,
		clock:        clock,
		observers:    newObserverSet(),
	}
}

// ApplyLocal writes payload through C3 and applies it to the document,
// advancing this instance's own clock entry. It fails only on I/O error —
// per spec.md §4.4, local updates never produce a SequenceViolation,
// since C3 assigns the sequence atomically.
func (d *DocumentSnapshot) ApplyLocal(payload []byte) (uint64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LocalUpdateDuration)

	res, err := d.store.WriteUpdate(d.sd, d.note, payload)
	if err != nil {
		return 0, fmt.Errorf("doccache: write local update: %w", err)
	}

	d.mu.Lock()
	if err := d.doc.ApplyUpdate(payload); err != nil {
		d.mu.Unlock()
		return 0, fmt.Errorf("doccache: apply local update to document: %w", err)
	}
	d.clock[res.Instance] = types.ClockEntry{
		Sequence: res.Sequence,
		Offset:   res.Offset,
		Filename: res.Filename,
	}
	d.mu.Unlock()
	d.observers.fire()

	metrics.LocalUpdatesTotal.Inc()

	if d.activityLogs != nil {
		if err := d.activityLogs.Append(d.note, res.Sequence); err != nil {
			return res.Sequence, fmt.Errorf("doccache: append activity: %w", err)
		}
	}
	return res.Sequence, nil
}

// SequenceViolation is returned by ApplyRemote when the given sequence is
// not exactly one past what this DocumentSnapshot's clock already has for
// origin. Per spec.md §4.4/§7, this is routine and recoverable: the
// caller triggers the reload pipeline, it is never a permanent error.
type SequenceViolation struct {
	Origin   types.InstanceID
	Expected uint64
	Got      uint64
}

func (e *SequenceViolation) Error() string {
	return fmt.Sprintf("sequence violation for %s: expected %d, got %d", e.Origin, e.Expected, e.Got)
}

// ApplyRemote validates that sequence is exactly one past origin's
// current clock entry, and if so applies payload and advances the clock.
func (d *DocumentSnapshot) ApplyRemote(origin types.InstanceID, sequence, offset uint64, filename string, payload []byte) error {
	d.mu.Lock()
	expected := d.clock.SequenceOf(origin) + 1
	if sequence != expected {
		d.mu.Unlock()
		metrics.RemoteUpdatesTotal.WithLabelValues("sequence_violation").Inc()
		return &SequenceViolation{Origin: origin, Expected: expected, Got: sequence}
	}
	if err := d.doc.ApplyUpdate(payload); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("doccache: apply remote update: %w", err)
	}
	d.clock[origin] = types.ClockEntry{Sequence: sequence, Offset: offset, Filename: filename}
	d.mu.Unlock()
	d.observers.fire()

	metrics.RemoteUpdatesTotal.WithLabelValues("applied").Inc()
	return nil
}

// EncodeState returns the full document state, the body of a .snapshot
// file.
func (d *DocumentSnapshot) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.EncodeState()
}

// StateVector returns a copy of the current vector clock.
func (d *DocumentSnapshot) StateVector() types.VectorClock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Clone()
}

// Get reads a root-level string field of the document, so a caller can
// project title/folder/tags without depending on crdtdoc directly.
func (d *DocumentSnapshot) Get(key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Get(key)
}

// Observe subscribes fn to be called (with no arguments — callers re-read
// whatever state they need via the other methods) after every successful
// ApplyLocal or ApplyRemote. The callback always fires after the
// document's mutex has been released, per spec.md §9's no-heap-cycles
// design note. The returned SubscriptionID is passed to Unobserve.
func (d *DocumentSnapshot) Observe(fn func()) SubscriptionID {
	return d.observers.subscribe(fn)
}

// Unobserve cancels a subscription returned by Observe.
func (d *DocumentSnapshot) Unobserve(id SubscriptionID) {
	d.observers.unsubscribe(id)
}

// FetchPayloadBySequence scans the log file named filename for the record
// with the given sequence, returning its payload. This is the lookup
// ensure_applied (internal/reload) performs before calling ApplyRemote: it
// knows which (origin, target_seq) it's waiting for but not where in the
// file that record lives, since offsets are only known once a record has
// already been read once. Returns (nil, 0, nil) if the file parses cleanly
// but does not contain the sequence (it hasn't arrived yet); returns a
// *codec.Truncated if the file's tail is unparsed and might still contain
// it.
func FetchPayloadBySequence(fs fsabs.FileSystem, sd string, note types.NoteID, filename string, targetSeq uint64) ([]byte, uint64, error) {
	fullPath := layout.LogsDir(sd, note) + "/" + filename
	data, err := fs.ReadFile(fullPath)
	if err != nil {
		return nil, 0, fmt.Errorf("doccache: read %s: %w", fullPath, err)
	}
	_, n, err := codec.ParseLogHeader(data)
	if err != nil {
		return nil, 0, fmt.Errorf("doccache: %s: %w", fullPath, err)
	}

	var payload []byte
	var offset uint64
	_, iterErr := codec.IterateLogRecords(data, n, func(v codec.LogRecordView) error {
		if v.Sequence == targetSeq {
			payload = v.Payload
			offset = uint64(v.RangeEnd)
		}
		return nil
	})
	if payload != nil {
		return payload, offset, nil
	}
	if iterErr != nil {
		return nil, 0, iterErr // *codec.Truncated: the tail might still hold it
	}
	return nil, 0, nil
}
