package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/fsabs"
)

func newTestWatcher(t *testing.T, sd string, on Handler) *Watcher {
	t.Helper()
	cfg := config.Default()
	cfg.PollInterval = time.Hour // don't let the ticker fire mid-test
	w, err := New(fsabs.NewOSFileSystem(), cfg, "local", on)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	w.AddSD(sd)
	return w
}

func TestPollOnceReportsOtherInstancesActivityOnly(t *testing.T) {
	sd := t.TempDir()
	activityDir := filepath.Join(sd, "activity")
	if err := os.MkdirAll(activityDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(activityDir, "p1.remote.log"), []byte("n1|p1|remote_1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(activityDir, "p1.local.log"), []byte("n1|p1|local_1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var events []Event
	w := newTestWatcher(t, sd, func(e Event) { events = append(events, e) })
	w.PollOnce(sd)

	if len(events) != 1 {
		t.Fatalf("events = %+v, want exactly one (the non-local instance)", events)
	}
	if events[0].Origin != "remote" {
		t.Errorf("origin = %q, want remote", events[0].Origin)
	}
	if events[0].Kind != KindPoll {
		t.Errorf("kind = %q, want poll", events[0].Kind)
	}
}

func TestPollOnceDiscoversNewNoteDirectories(t *testing.T) {
	sd := t.TempDir()
	if err := os.MkdirAll(filepath.Join(sd, "activity"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	w := newTestWatcher(t, sd, func(Event) {})

	noteLogs := filepath.Join(sd, "notes", "n1", "logs")
	if err := os.MkdirAll(noteLogs, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	w.PollOnce(sd)

	w.mu.Lock()
	_, watched := w.watched[noteLogs]
	w.mu.Unlock()
	if !watched {
		t.Error("expected PollOnce to have added a watch for the newly created note's logs dir")
	}
}
