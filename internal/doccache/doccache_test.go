package doccache

import (
	"errors"
	"sync"
	"testing"
	"time"

	automerge "github.com/automerge/automerge-go"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/crdtdoc"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/notestore"
	"github.com/notecove/sync/internal/types"
)

type recordingActivity struct {
	mu      sync.Mutex
	entries []uint64
}

func (r *recordingActivity) Append(_ types.NoteID, sequence uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, sequence)
	return nil
}

func newTestSnapshot(t *testing.T) (*DocumentSnapshot, *recordingActivity) {
	t.Helper()
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := config.Default()
	store := notestore.New(fs, clock, cfg, "a")
	act := &recordingActivity{}
	return New("/sd", "n1", store, fs, act, crdtdoc.New(), nil), act
}

func mutationPayload(t *testing.T, doc *crdtdoc.Document, key, value string) []byte {
	t.Helper()
	update, err := doc.Mutate("set "+key, func(root *automerge.Map) error {
		return root.Set(key, value)
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	return update
}

func TestApplyLocalAdvancesOwnClockAndNotifiesActivity(t *testing.T) {
	ds, act := newTestSnapshot(t)
	scratch := crdtdoc.New()
	payload := mutationPayload(t, scratch, "title", "hi")

	seq, err := ds.ApplyLocal(payload)
	if err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if ds.StateVector().SequenceOf("a") != 1 {
		t.Errorf("clock[a] = %d, want 1", ds.StateVector().SequenceOf("a"))
	}
	title, ok, err := ds.Get("title")
	if err != nil || !ok || title != "hi" {
		t.Errorf("title = %q, %v, %v", title, ok, err)
	}
	if len(act.entries) != 1 || act.entries[0] != 1 {
		t.Errorf("activity entries = %v, want [1]", act.entries)
	}
}

func TestApplyRemoteRejectsNonContiguousSequence(t *testing.T) {
	ds, _ := newTestSnapshot(t)
	scratch := crdtdoc.New()
	payload := mutationPayload(t, scratch, "title", "hi")

	err := ds.ApplyRemote("b", 2, 0, "f", payload)
	var sv *SequenceViolation
	if !errors.As(err, &sv) {
		t.Fatalf("want *SequenceViolation, got %v", err)
	}
	if sv.Expected != 1 || sv.Got != 2 {
		t.Errorf("sv = %+v, want expected=1 got=2", sv)
	}
}

func TestApplyRemoteAcceptsContiguousSequence(t *testing.T) {
	ds, _ := newTestSnapshot(t)
	scratch := crdtdoc.New()
	payload := mutationPayload(t, scratch, "title", "hi")

	if err := ds.ApplyRemote("b", 1, 0, "f", payload); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if ds.StateVector().SequenceOf("b") != 1 {
		t.Errorf("clock[b] = %d, want 1", ds.StateVector().SequenceOf("b"))
	}
}

func TestObserveFiresAfterLockRelease(t *testing.T) {
	ds, _ := newTestSnapshot(t)
	fired := make(chan struct{}, 1)
	id := ds.Observe(func() { fired <- struct{}{} })
	defer ds.Unobserve(id)

	scratch := crdtdoc.New()
	payload := mutationPayload(t, scratch, "title", "hi")
	if _, err := ds.ApplyLocal(payload); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}

	select {
	case <-fired:
	default:
		t.Fatal("observer was not called")
	}
}

func TestUnobserveStopsFutureCallbacks(t *testing.T) {
	ds, _ := newTestSnapshot(t)
	var calls int
	id := ds.Observe(func() { calls++ })
	ds.Unobserve(id)

	scratch := crdtdoc.New()
	payload := mutationPayload(t, scratch, "title", "hi")
	if _, err := ds.ApplyLocal(payload); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 after Unobserve", calls)
	}
}
