package engine

import (
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notecove/sync/internal/activity"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/doccache"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/loader"
	"github.com/notecove/sync/internal/metaindex"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/ncslog"
	"github.com/notecove/sync/internal/notemanager"
	"github.com/notecove/sync/internal/notestore"
	"github.com/notecove/sync/internal/reload"
	"github.com/notecove/sync/internal/sdid"
	"github.com/notecove/sync/internal/snapshot"
	"github.com/notecove/sync/internal/types"
	"github.com/notecove/sync/internal/watch"
)

// Identity names the local profile/instance and the presence fields
// written to <sd>/profiles/<profileId>.json.
type Identity struct {
	Profile     types.ProfileID
	Instance    types.InstanceID
	ProfileName string
	Username    string
	Handle      string
	Hostname    string
	Platform    string
}

// sdRecord is what Engine keeps per registered storage directory.
type sdRecord struct {
	path         string
	presenceStop chan struct{}
}

// Engine wires C1-C12 together behind spec.md §6's external API. One
// Engine instance is shared by every SD this process has registered.
type Engine struct {
	fs    fsabs.FileSystem
	clock fsabs.Clock
	cfg   config.Engine
	id    Identity

	loader    *loader.Loader
	notes     *notemanager.Manager
	reload    *reload.Pipeline
	watcher   *watch.Watcher
	metaStore metaindex.Store

	mu      sync.Mutex
	sdsByID map[string]*sdRecord
	sdPaths map[string]string // sdId -> path, redundant index for unregister
	noteSD  map[types.NoteID]string
}

// New constructs an Engine. metaStore is the metadata index to consult
// for the gap-triggered full-scan fallback (internal/reload.NoteLister);
// pass metaindex.NewMemStore() or a BoltStore, or any Store a UI layer
// supplies.
func New(fs fsabs.FileSystem, clock fsabs.Clock, cfg config.Engine, id Identity, metaStore metaindex.Store) (*Engine, error) {
	store := notestore.New(fs, clock, cfg, id.Instance)
	snapshots := snapshot.New(fs, clock)
	ld := loader.New(fs, clock, snapshots)
	notes := notemanager.New(fs, clock, cfg, store, ld, snapshots, id.Instance)
	pipeline := reload.New(fs, cfg, notes, metaStore)

	e := &Engine{
		fs:        fs,
		clock:     clock,
		cfg:       cfg,
		id:        id,
		loader:    ld,
		notes:     notes,
		reload:    pipeline,
		metaStore: metaStore,
		sdsByID:   make(map[string]*sdRecord),
		sdPaths:   make(map[string]string),
		noteSD:    make(map[types.NoteID]string),
	}

	w, err := watch.New(fs, cfg, id.Instance, e.handleWatchEvent)
	if err != nil {
		return nil, fmt.Errorf("engine: start watcher: %w", err)
	}
	e.watcher = w
	return e, nil
}

// Stop shuts down the watcher, the reload pipeline, and every presence
// heartbeat goroutine, after first writing a snapshot for every note
// currently open in memory (spec.md §4.3's clean_shutdown trigger). Safe
// to call once, after which the Engine must not be used again.
func (e *Engine) Stop() {
	e.notes.SnapshotAllOpen()
	e.reload.Stop()
	e.watcher.Close()

	e.mu.Lock()
	recs := make([]*sdRecord, 0, len(e.sdsByID))
	for _, r := range e.sdsByID {
		recs = append(recs, r)
	}
	e.mu.Unlock()
	for _, r := range recs {
		close(r.presenceStop)
	}
}

func (e *Engine) handleWatchEvent(ev watch.Event) {
	if ev.Kind != watch.KindActivity && ev.Kind != watch.KindPoll {
		return
	}
	if err := e.reload.OnActivityEvent(ev.SD, ev.Profile, ev.Origin); err != nil {
		ncslog.Logger.Error().Str("sd", ev.SD).Str("origin", string(ev.Origin)).
			Err(err).Msg("engine: OnActivityEvent failed")
	}
}

// RegisterSD is spec.md §6's register_sd: it bootstraps (or adopts) the
// SD's identity files, associates the SD with this instance's activity
// log, starts watching it, discovers the notes already on disk so
// read_state/apply_local_update can resolve a bare noteId, and starts a
// presence heartbeat.
func (e *Engine) RegisterSD(sdPath string) (string, error) {
	sdID, err := sdid.EnsureSDID(e.fs, sdPath)
	if err != nil {
		return "", err
	}
	if _, err := sdid.EnsureSDVersion(e.fs, sdPath); err != nil {
		return "", err
	}

	actLog := activity.NewLog(e.fs, e.cfg, sdPath, e.id.Profile, e.id.Instance)
	e.notes.RegisterSD(sdPath, actLog)
	e.watcher.AddSD(sdPath)

	if err := e.discoverNotes(sdPath); err != nil {
		ncslog.Logger.Warn().Str("sd", sdPath).Err(err).Msg("engine: note discovery failed")
	}

	if err := sdid.WritePresence(e.fs, e.clock, sdPath, types.ProfilePresence{
		ProfileID:   e.id.Profile,
		ProfileName: e.id.ProfileName,
		Username:    e.id.Username,
		Handle:      e.id.Handle,
		Hostname:    e.id.Hostname,
		Platform:    e.id.Platform,
	}); err != nil {
		ncslog.Logger.Warn().Str("sd", sdPath).Err(err).Msg("engine: initial presence write failed")
	}

	rec := &sdRecord{path: sdPath, presenceStop: make(chan struct{})}
	e.mu.Lock()
	e.sdsByID[sdID] = rec
	e.sdPaths[sdID] = sdPath
	e.mu.Unlock()

	metrics.RegisteredSDs.Inc()
	go e.presenceLoop(rec)

	return sdID, nil
}

// UnregisterSD is spec.md §6's unregister_sd: it stops the heartbeat and
// watcher for sdId and drops every note it owns from the note manager's
// cache. Files on disk are untouched.
func (e *Engine) UnregisterSD(sdID string) error {
	e.mu.Lock()
	rec, ok := e.sdsByID[sdID]
	if ok {
		delete(e.sdsByID, sdID)
		delete(e.sdPaths, sdID)
		for note, sd := range e.noteSD {
			if sd == rec.path {
				delete(e.noteSD, note)
			}
		}
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: unknown sd id %q", sdID)
	}

	close(rec.presenceStop)
	e.watcher.RemoveSD(rec.path)
	e.notes.UnregisterSD(rec.path)
	metrics.RegisteredSDs.Dec()
	return nil
}

func (e *Engine) presenceLoop(rec *sdRecord) {
	ticker := time.NewTicker(e.cfg.PresenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rec.presenceStop:
			return
		case <-ticker.C:
			if err := sdid.WritePresence(e.fs, e.clock, rec.path, types.ProfilePresence{
				ProfileID:   e.id.Profile,
				ProfileName: e.id.ProfileName,
				Username:    e.id.Username,
				Handle:      e.id.Handle,
				Hostname:    e.id.Hostname,
				Platform:    e.id.Platform,
			}); err != nil {
				ncslog.Logger.Warn().Str("sd", rec.path).Err(err).Msg("engine: presence heartbeat failed")
			}
		}
	}
}

// discoverNotes populates noteSD for every note directory already present
// under sd/notes, so a client that calls register_sd and then names an
// existing note by id doesn't have to call CreateNote first.
func (e *Engine) discoverNotes(sdPath string) error {
	entries, err := e.fs.ListDir(path.Join(sdPath, "notes"))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		e.noteSD[types.NoteID(entry.Name)] = sdPath
	}
	return nil
}

// CreateNote associates a brand-new noteId with sdPath so subsequent
// ApplyLocalUpdate/ReadState calls can resolve it. This is additive to
// spec.md §6: the distilled external API assumes a client already knows
// which SD a note lives in when it first names one, but a real client
// generates the noteId itself, so engine needs an explicit place to
// record that association before the note has ever been written to.
func (e *Engine) CreateNote(sdPath string, note types.NoteID) {
	e.mu.Lock()
	e.noteSD[note] = sdPath
	e.mu.Unlock()
}

func (e *Engine) sdForNote(note types.NoteID) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sd, ok := e.noteSD[note]
	return sd, ok
}

var errUnknownNote = errors.New("engine: unknown note, call CreateNote or register_sd first")

// ApplyLocalUpdate is spec.md §6's apply_local_update.
func (e *Engine) ApplyLocalUpdate(note types.NoteID, payload []byte) (uint64, error) {
	sd, ok := e.sdForNote(note)
	if !ok {
		return 0, errUnknownNote
	}
	return e.notes.ApplyLocal(sd, note, payload)
}

// ReadState is spec.md §6's read_state: the full current document state,
// suitable for internal/crdtdoc.Load or handing to a UI-side decoder.
func (e *Engine) ReadState(note types.NoteID) ([]byte, error) {
	sd, ok := e.sdForNote(note)
	if !ok {
		return nil, errUnknownNote
	}
	ds, err := e.notes.GetOrLoad(sd, note)
	if err != nil {
		return nil, err
	}
	return ds.EncodeState(), nil
}

// ObserveState is spec.md §6's observe_state: fn is called after every
// local or remote update lands, with no arguments, matching
// internal/doccache.DocumentSnapshot.Observe's contract.
func (e *Engine) ObserveState(note types.NoteID, fn func()) (doccache.SubscriptionID, error) {
	sd, ok := e.sdForNote(note)
	if !ok {
		return 0, errUnknownNote
	}
	ds, err := e.notes.GetOrLoad(sd, note)
	if err != nil {
		return 0, err
	}
	return ds.Observe(fn), nil
}

// UnobserveState cancels a subscription returned by ObserveState.
func (e *Engine) UnobserveState(note types.NoteID, id doccache.SubscriptionID) error {
	sd, ok := e.sdForNote(note)
	if !ok {
		return errUnknownNote
	}
	ds, err := e.notes.GetOrLoad(sd, note)
	if err != nil {
		return err
	}
	ds.Unobserve(id)
	return nil
}

// CreateSnapshot is spec.md §6's create_snapshot: write a fresh complete
// snapshot for note from its current in-memory state, then garbage
// collect any log file the new snapshot fully covers (skipping whichever
// log file this instance currently has open for write). This is the
// explicit_request trigger named in spec.md §4.3; the threshold+interval
// and clean_shutdown triggers call through to the same
// internal/notemanager.Manager.CreateSnapshot logic directly.
func (e *Engine) CreateSnapshot(note types.NoteID) error {
	sd, ok := e.sdForNote(note)
	if !ok {
		return errUnknownNote
	}
	return e.notes.CreateSnapshot(sd, note)
}

// ForceReloadFromLogs is spec.md §6's force_reload_from_logs.
func (e *Engine) ForceReloadFromLogs(note types.NoteID) error {
	sd, ok := e.sdForNote(note)
	if !ok {
		return errUnknownNote
	}
	_, err := e.notes.ForceReload(sd, note)
	return err
}

// GetStaleSyncs is spec.md §6's get_stale_syncs.
func (e *Engine) GetStaleSyncs() []reload.StaleSync {
	return e.reload.GetStaleSyncs()
}

// SkipStale is spec.md §6's skip_stale.
func (e *Engine) SkipStale(entry reload.StaleSync) bool {
	return e.reload.SkipStale(entry.SD, entry.Note, entry.Origin)
}

// RetryStale is spec.md §6's retry_stale.
func (e *Engine) RetryStale(entry reload.StaleSync) bool {
	return e.reload.RetryStale(entry.SD, entry.Note, entry.Origin)
}

// NewInstanceID generates a fresh instance id, for first-run setup before
// any identity has been persisted.
func NewInstanceID() types.InstanceID {
	return types.InstanceID(uuid.NewString())
}
