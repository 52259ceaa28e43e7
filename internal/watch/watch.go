package watch

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/ncslog"
	"github.com/notecove/sync/internal/types"
)

// Kind names which part of the SD layout an Event came from, matching the
// "kind" label on metrics.WatcherEventsTotal.
type Kind string

const (
	KindLog      Kind = "log"
	KindSnapshot Kind = "snapshot"
	KindActivity Kind = "activity"
	KindPoll     Kind = "poll"
)

// Event is the normalized (sdId, path_kind, path) spec.md §4.8 describes.
// Origin/Profile are populated for KindActivity only.
type Event struct {
	SD      string
	Kind    Kind
	Path    string
	Note    types.NoteID
	Profile types.ProfileID
	Origin  types.InstanceID
}

// Handler receives every normalized event. Per spec.md §5, a handler must
// never block on the main progress of the sync pipeline — it only enqueues
// work (e.g. internal/reload.Pipeline.OnActivityEvent, which reads the
// activity file and then starts one goroutine per reload task).
type Handler func(Event)

// Watcher combines an fsnotify watch with a polling backstop across every
// registered SD.
type Watcher struct {
	fs   fsabs.FileSystem
	cfg  config.Engine
	self types.InstanceID
	on   Handler

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	sds     map[string]bool
	watched map[string]bool // directories already passed to fsw.Add

	debounceMu sync.Mutex
	timers     map[string]*time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Watcher. self is this instance's id, used to filter out
// this instance's own activity file from fsnotify/poll events (it never
// needs to reload from itself).
func New(fs fsabs.FileSystem, cfg config.Engine, self types.InstanceID, on Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fs,
		cfg:     cfg,
		self:    self,
		on:      on,
		fsw:     fsw,
		sds:     make(map[string]bool),
		watched: make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// AddSD registers sd for both signal sources: it adds fsnotify watches on
// every directory currently present, and makes sd a target of the periodic
// poll (which also re-discovers directories fsnotify couldn't watch yet,
// such as a note created after the last poll).
func (w *Watcher) AddSD(sd string) {
	w.mu.Lock()
	w.sds[sd] = true
	w.mu.Unlock()
	w.refreshWatches(sd)
}

// RemoveSD stops watching sd. fsnotify watches on its subdirectories are
// left to expire naturally on Close; individual Remove calls aren't worth
// the bookkeeping for a single-process-lifetime watcher.
func (w *Watcher) RemoveSD(sd string) {
	w.mu.Lock()
	delete(w.sds, sd)
	w.mu.Unlock()
}

// Close stops the watcher and the poll loop.
func (w *Watcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) refreshWatches(sd string) {
	w.addWatch(layout.ActivityDir(sd))

	notesDir := path.Join(sd, "notes")
	w.addWatch(notesDir)

	entries, err := w.fs.ListDir(notesDir)
	if err != nil {
		return // notes/ may not exist yet on a freshly registered SD
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		note := types.NoteID(e.Name)
		w.addWatch(layout.LogsDir(sd, note))
		w.addWatch(layout.SnapshotsDir(sd, note))
	}
}

func (w *Watcher) addWatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		ncslog.Logger.Debug().Str("dir", dir).Err(err).Msg("watch: add failed (may not exist yet)")
		return
	}
	w.watched[dir] = true
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.debounce(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			ncslog.Logger.Warn().Err(err).Msg("watch: fsnotify error")
		case <-ticker.C:
			w.pollAll()
		}
	}
}

// debounce coalesces repeated events for the same path within
// cfg.DebounceWindow before dispatching.
func (w *Watcher) debounce(p string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if t, ok := w.timers[p]; ok {
		t.Stop()
	}
	w.timers[p] = time.AfterFunc(w.cfg.DebounceWindow, func() {
		w.debounceMu.Lock()
		delete(w.timers, p)
		w.debounceMu.Unlock()
		w.dispatch(p)
	})
}

// dispatch normalizes a raw filesystem path into an Event and, for an
// event directly inside notes/ (a newly created note directory), refreshes
// the watches so that note's logs/snapshots dirs are watched once they exist.
func (w *Watcher) dispatch(p string) {
	sd, ok := w.sdFor(p)
	if !ok {
		return
	}

	dir := path.Dir(p)
	base := path.Base(p)

	switch {
	case dir == layout.ActivityDir(sd):
		profile, origin, ok := layout.ParseActivityFilename(base)
		if !ok || origin == w.self {
			return
		}
		metrics.WatcherEventsTotal.WithLabelValues("activity").Inc()
		w.on(Event{SD: sd, Kind: KindActivity, Path: p, Profile: profile, Origin: origin})
	case strings.HasSuffix(base, ".crdtlog"):
		note := noteFromDir(sd, dir, "logs")
		metrics.WatcherEventsTotal.WithLabelValues("log").Inc()
		w.on(Event{SD: sd, Kind: KindLog, Path: p, Note: note})
	case strings.HasSuffix(base, ".snapshot"):
		note := noteFromDir(sd, dir, "snapshots")
		metrics.WatcherEventsTotal.WithLabelValues("snapshot").Inc()
		w.on(Event{SD: sd, Kind: KindSnapshot, Path: p, Note: note})
	case dir == path.Join(sd, "notes"):
		// A new note directory; watch its logs/snapshots once they exist.
		w.refreshWatches(sd)
	}
}

func noteFromDir(sd, dir, leaf string) types.NoteID {
	notesDir := path.Join(sd, "notes")
	rest := strings.TrimPrefix(dir, notesDir+"/")
	rest = strings.TrimSuffix(rest, "/"+leaf)
	return types.NoteID(rest)
}

func (w *Watcher) sdFor(p string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sd := range w.sds {
		if strings.HasPrefix(p, sd+"/") {
			return sd, true
		}
	}
	return "", false
}

// pollAll re-scans every registered SD's activity directory, acting as the
// backstop spec.md §4.8 calls for.
func (w *Watcher) pollAll() {
	w.mu.Lock()
	sds := make([]string, 0, len(w.sds))
	for sd := range w.sds {
		sds = append(sds, sd)
	}
	w.mu.Unlock()
	for _, sd := range sds {
		w.PollOnce(sd)
	}
}

// PollOnce re-scans sd's activity directory and re-discovers note
// directories, dispatching a KindPoll event for every other instance's
// activity file. Exported so tests can drive one poll pass synchronously.
func (w *Watcher) PollOnce(sd string) {
	w.refreshWatches(sd)

	entries, err := w.fs.ListDir(layout.ActivityDir(sd))
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		profile, origin, ok := layout.ParseActivityFilename(e.Name)
		if !ok || origin == w.self {
			continue
		}
		metrics.WatcherEventsTotal.WithLabelValues("poll").Inc()
		w.on(Event{SD: sd, Kind: KindPoll, Path: layout.ActivityDir(sd) + "/" + e.Name, Profile: profile, Origin: origin})
	}
}
