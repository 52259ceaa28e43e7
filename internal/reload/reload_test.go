package reload

import (
	"sync"
	"testing"
	"time"

	automerge "github.com/automerge/automerge-go"
	"github.com/notecove/sync/internal/activity"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/crdtdoc"
	"github.com/notecove/sync/internal/doccache"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/metaindex"
	"github.com/notecove/sync/internal/notestore"
	"github.com/notecove/sync/internal/types"
)

type fakeNoteManager struct {
	mu               sync.Mutex
	ds               *doccache.DocumentSnapshot
	forceReloadCalls int
}

func (f *fakeNoteManager) GetOrLoad(string, types.NoteID) (*doccache.DocumentSnapshot, error) {
	return f.ds, nil
}

func (f *fakeNoteManager) ForceReload(string, types.NoteID) (*doccache.DocumentSnapshot, error) {
	f.mu.Lock()
	f.forceReloadCalls++
	f.mu.Unlock()
	return f.ds, nil
}

func (f *fakeNoteManager) forceReloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceReloadCalls
}

type fakeLister struct{ notes []metaindex.NoteMeta }

func (f *fakeLister) NotesInSD(string) ([]metaindex.NoteMeta, error) { return f.notes, nil }

func mutation(t *testing.T, key, value string) []byte {
	t.Helper()
	payload, err := crdtdoc.New().Mutate("set "+key, func(root *automerge.Map) error {
		return root.Set(key, value)
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	return payload
}

func testConfig() config.Engine {
	cfg := config.Default()
	cfg.ReloadBackoff = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}
	cfg.ReloadBudget = 200 * time.Millisecond
	return cfg
}

func waitForSequence(t *testing.T, ds *doccache.DocumentSnapshot, origin types.InstanceID, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ds.StateVector().SequenceOf(origin) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for clock[%s] >= %d, got %d", origin, want, ds.StateVector().SequenceOf(origin))
}

func TestEnsureAppliedCatchesUpFromActivityEvent(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := testConfig()

	originStore := notestore.New(fs, clock, cfg, "origin")
	payload := mutation(t, "title", "hi")
	if _, err := originStore.WriteUpdate("/sd", "n1", payload); err != nil {
		t.Fatalf("WriteUpdate: %v", err)
	}

	originAct := activity.NewLog(fs, cfg, "/sd", "p1", "origin")
	if err := originAct.Append("n1", 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	localStore := notestore.New(fs, clock, cfg, "local")
	ds := doccache.New("/sd", "n1", localStore, fs, nil, crdtdoc.New(), nil)
	nm := &fakeNoteManager{ds: ds}

	p := New(fs, cfg, nm, &fakeLister{})
	defer p.Stop()

	if err := p.OnActivityEvent("/sd", "p1", "origin"); err != nil {
		t.Fatalf("OnActivityEvent: %v", err)
	}
	waitForSequence(t, ds, "origin", 1)

	title, ok, err := ds.Get("title")
	if err != nil || !ok || title != "hi" {
		t.Errorf("title = %q, %v, %v", title, ok, err)
	}
	if len(p.GetStaleSyncs()) != 0 {
		t.Errorf("expected no stale syncs, got %+v", p.GetStaleSyncs())
	}
}

func TestEnsureAppliedRetriesUntilLogAppears(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := testConfig()

	originAct := activity.NewLog(fs, cfg, "/sd", "p1", "origin")
	if err := originAct.Append("n1", 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	localStore := notestore.New(fs, clock, cfg, "local")
	ds := doccache.New("/sd", "n1", localStore, fs, nil, crdtdoc.New(), nil)
	nm := &fakeNoteManager{ds: ds}

	p := New(fs, cfg, nm, &fakeLister{})
	defer p.Stop()

	if err := p.OnActivityEvent("/sd", "p1", "origin"); err != nil {
		t.Fatalf("OnActivityEvent: %v", err)
	}

	// The activity line arrived before the log bytes did; ensure_applied
	// should be backed off and waiting right now.
	time.Sleep(20 * time.Millisecond)
	if ds.StateVector().SequenceOf("origin") != 0 {
		t.Fatalf("applied before log bytes existed")
	}

	originStore := notestore.New(fs, clock, cfg, "origin")
	payload := mutation(t, "title", "hi")
	if _, err := originStore.WriteUpdate("/sd", "n1", payload); err != nil {
		t.Fatalf("WriteUpdate: %v", err)
	}

	waitForSequence(t, ds, "origin", 1)
}

func TestGapTriggersFullScanFallback(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := testConfig()

	localStore := notestore.New(fs, clock, cfg, "local")
	ds := doccache.New("/sd", "n1", localStore, fs, nil, crdtdoc.New(), nil)
	nm := &fakeNoteManager{ds: ds}
	lister := &fakeLister{notes: []metaindex.NoteMeta{{SDPath: "/sd", Note: "n1"}}}

	p := New(fs, cfg, nm, lister)
	defer p.Stop()

	originAct := activity.NewLog(fs, cfg, "/sd", "p1", "origin")
	// Skip straight to sequence 5: the reader has never seen this origin
	// before, so watermark starts at 0 and min(5) > 0+1 is a gap.
	if err := originAct.Append("n1", 5); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := p.OnActivityEvent("/sd", "p1", "origin"); err != nil {
		t.Fatalf("OnActivityEvent: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && nm.forceReloadCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if nm.forceReloadCount() == 0 {
		t.Fatal("gap did not trigger a full-scan ForceReload")
	}
}
