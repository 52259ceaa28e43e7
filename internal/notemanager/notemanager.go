package notemanager

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/notecove/sync/internal/activity"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/doccache"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/loader"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/ncslog"
	"github.com/notecove/sync/internal/notestore"
	"github.com/notecove/sync/internal/snapshot"
	"github.com/notecove/sync/internal/types"
)

type noteKey struct {
	sd   string
	note types.NoteID
}

type cacheEntry struct {
	ds   *doccache.DocumentSnapshot
	elem *list.Element
}

// snapshotTracker counts updates applied to a note since its last snapshot,
// for spec.md §4.3's threshold+interval automatic trigger.
type snapshotTracker struct {
	updatesSinceSnapshot int
	lastSnapshotAt       time.Time
}

// Manager owns every open DocumentSnapshot across every registered SD.
type Manager struct {
	fs    fsabs.FileSystem
	clock fsabs.Clock
	cfg   config.Engine
	store *notestore.Store
	ld    *loader.Loader
	snaps *snapshot.Manager
	self  types.InstanceID

	mu        sync.Mutex
	cache     map[noteKey]*cacheEntry
	lru       *list.List // front = most recently used
	noteLocks map[noteKey]*sync.Mutex

	activityMu   sync.Mutex
	activityLogs map[string]doccache.ActivityAppender // keyed by sd

	snapMu    sync.Mutex
	snapState map[noteKey]*snapshotTracker
}

// New constructs a Manager. store issues local writes; ld performs cold
// loads from snapshot + log files; snaps and self are what CreateSnapshot
// (explicit, automatic, or shutdown-triggered) writes through.
func New(fs fsabs.FileSystem, clock fsabs.Clock, cfg config.Engine, store *notestore.Store, ld *loader.Loader, snaps *snapshot.Manager, self types.InstanceID) *Manager {
	return &Manager{
		fs:           fs,
		clock:        clock,
		cfg:          cfg,
		store:        store,
		ld:           ld,
		snaps:        snaps,
		self:         self,
		cache:        make(map[noteKey]*cacheEntry),
		lru:          list.New(),
		noteLocks:    make(map[noteKey]*sync.Mutex),
		activityLogs: make(map[string]doccache.ActivityAppender),
		snapState:    make(map[noteKey]*snapshotTracker),
	}
}

// RegisterSD associates sd with the activity log this instance appends to
// when a local update lands on one of its notes. Called once during
// register_sd.
func (m *Manager) RegisterSD(sd string, act *activity.Log) {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()
	m.activityLogs[sd] = act
}

// UnregisterSD drops sd's activity log and evicts every cached note it owns.
func (m *Manager) UnregisterSD(sd string) {
	m.activityMu.Lock()
	delete(m.activityLogs, sd)
	m.activityMu.Unlock()

	m.mu.Lock()
	for key, e := range m.cache {
		if key.sd == sd {
			m.lru.Remove(e.elem)
			delete(m.cache, key)
		}
	}
	metrics.OpenNotes.Set(float64(len(m.cache)))
	m.mu.Unlock()

	m.snapMu.Lock()
	for key := range m.snapState {
		if key.sd == sd {
			delete(m.snapState, key)
		}
	}
	m.snapMu.Unlock()
}

func (m *Manager) activityLogFor(sd string) doccache.ActivityAppender {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()
	return m.activityLogs[sd]
}

func (m *Manager) noteLock(key noteKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	nl, ok := m.noteLocks[key]
	if !ok {
		nl = &sync.Mutex{}
		m.noteLocks[key] = nl
	}
	return nl
}

func (m *Manager) lookupCached(key noteKey) (*doccache.DocumentSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	m.lru.MoveToFront(e.elem)
	return e.ds, true
}

// insert stores ds under key, evicting the least-recently-used entry
// past cfg.NoteCacheSize. Caller must hold the per-note lock for key (so a
// concurrent GetOrLoad can't observe a half-inserted entry); insert
// itself takes m.mu only for the map/list mutation.
func (m *Manager) insert(key noteKey, ds *doccache.DocumentSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache[key]; ok {
		e.ds = ds
		m.lru.MoveToFront(e.elem)
		return
	}

	elem := m.lru.PushFront(key)
	m.cache[key] = &cacheEntry{ds: ds, elem: elem}

	for len(m.cache) > m.cfg.NoteCacheSize && m.cfg.NoteCacheSize > 0 {
		back := m.lru.Back()
		if back == nil {
			break
		}
		evictKey := back.Value.(noteKey)
		m.lru.Remove(back)
		delete(m.cache, evictKey)
	}
	metrics.OpenNotes.Set(float64(len(m.cache)))
}

// GetOrLoad returns the cached DocumentSnapshot for (sd, note), cold-loading
// it from disk on a miss.
func (m *Manager) GetOrLoad(sd string, note types.NoteID) (*doccache.DocumentSnapshot, error) {
	key := noteKey{sd: sd, note: note}
	if ds, ok := m.lookupCached(key); ok {
		return ds, nil
	}

	nl := m.noteLock(key)
	nl.Lock()
	defer nl.Unlock()
	return m.loadLocked(key, sd, note)
}

// loadLocked returns the cached snapshot for key, cold-loading it from disk
// if it isn't already cached. Callers must hold key's note lock (from
// m.noteLock), so that a cold load and a concurrent ApplyLocal for the same
// note can never race to insert two different snapshots.
func (m *Manager) loadLocked(key noteKey, sd string, note types.NoteID) (*doccache.DocumentSnapshot, error) {
	if ds, ok := m.lookupCached(key); ok {
		return ds, nil
	}

	res, err := m.ld.Load(sd, note)
	if err != nil {
		return nil, fmt.Errorf("notemanager: load %s/%s: %w", sd, note, err)
	}
	if len(res.TruncatedTail) > 0 {
		ncslog.Logger.Warn().Str("sd", sd).Str("note", string(note)).
			Int("truncated_files", len(res.TruncatedTail)).
			Msg("notemanager: cold load saw truncated log tail(s)")
	}

	ds := doccache.New(sd, note, m.store, m.fs, m.activityLogFor(sd), res.Doc, res.Clock)
	m.insert(key, ds)
	m.resetSnapshotTracker(sd, note)
	return ds, nil
}

// ForceReload discards whatever is cached for (sd, note) and rebuilds it
// purely from disk, per spec.md §6's force_reload_from_logs. Safe at any
// time: a local edit is already durable on disk before it ever reaches the
// in-memory document, so reloading from disk never loses local work.
func (m *Manager) ForceReload(sd string, note types.NoteID) (*doccache.DocumentSnapshot, error) {
	key := noteKey{sd: sd, note: note}
	nl := m.noteLock(key)
	nl.Lock()
	defer nl.Unlock()

	res, err := m.ld.Load(sd, note)
	if err != nil {
		return nil, fmt.Errorf("notemanager: force reload %s/%s: %w", sd, note, err)
	}
	ds := doccache.New(sd, note, m.store, m.fs, m.activityLogFor(sd), res.Doc, res.Clock)
	m.insert(key, ds)
	m.resetSnapshotTracker(sd, note)
	return ds, nil
}

// ApplyLocal is the note manager's half of spec.md §4.7's apply_local: load
// (or reuse) the note, then hand payload to its DocumentSnapshot. Per
// spec.md §5/§9's per-note FIFO operation queue, this holds the note's lock
// for the full load+write+apply sequence, not just the load: ApplyLocal
// itself writes through C3 outside DocumentSnapshot's own mutex (see
// doccache.DocumentSnapshot.ApplyLocal), so two concurrent local writes to
// the same note would otherwise still be free to race for the document
// mutex after their disk writes land, letting the one that wrote seq 1
// overwrite the self clock entry the one that wrote seq 2 already
// published. Serializing on the note lock here closes that window. The
// activity line DocumentSnapshot.ApplyLocal appends is what lets C9/C10 on
// other instances notice the change — there is no separate broadcast step.
func (m *Manager) ApplyLocal(sd string, note types.NoteID, payload []byte) (uint64, error) {
	key := noteKey{sd: sd, note: note}
	nl := m.noteLock(key)
	nl.Lock()
	defer nl.Unlock()

	ds, err := m.loadLocked(key, sd, note)
	if err != nil {
		return 0, err
	}
	seq, err := ds.ApplyLocal(payload)
	if err != nil {
		return 0, err
	}
	m.afterApply(sd, note)
	return seq, nil
}

// ApplyRemote is spec.md §4.7's apply_remote: load (or reuse) the note,
// fetch payload bytes for (origin, sequence) out of filename, and apply.
// The offset argument mirrors what internal/types.ClockEntry records but is
// not used to seek directly — log files are capped at LogMaxSize (1 MiB by
// default), so scanning the file for the matching sequence via
// doccache.FetchPayloadBySequence is simple and cheap, and it reuses the
// exact same Truncated-tail handling ensure_applied depends on.
//
// Like ApplyLocal, this holds the note lock across the full
// load-then-apply sequence rather than just the load: looking up the
// DocumentSnapshot via GetOrLoad and then calling ApplyRemote on it
// separately would leave a window where a concurrent ForceReload could
// swap the cache entry out from under the call in between, so the
// payload gets applied to (and the observer fires on) a DocumentSnapshot
// that's already been discarded from the cache.
func (m *Manager) ApplyRemote(sd string, note types.NoteID, origin types.InstanceID, sequence, offset uint64, filename string) error {
	key := noteKey{sd: sd, note: note}
	nl := m.noteLock(key)
	nl.Lock()
	defer nl.Unlock()

	ds, err := m.loadLocked(key, sd, note)
	if err != nil {
		return err
	}
	payload, _, err := doccache.FetchPayloadBySequence(m.fs, sd, note, filename, sequence)
	if err != nil {
		return fmt.Errorf("notemanager: fetch %s@%d from %s: %w", origin, sequence, filename, err)
	}
	if payload == nil {
		return fmt.Errorf("notemanager: %s@%d not found in %s", origin, sequence, filename)
	}
	if err := ds.ApplyRemote(origin, sequence, offset, filename, payload); err != nil {
		return err
	}
	m.afterApply(sd, note)
	return nil
}

// afterApply is spec.md §4.3's automatic snapshot trigger: once a note has
// accumulated SnapshotThreshold updates since its last snapshot, and at
// least SnapshotMinInterval wall-clock time has passed since then, write
// one. The explicit_request and clean_shutdown triggers both go through
// CreateSnapshot directly instead.
//
// The counter only tracks updates applied since this Manager last cold-
// loaded or force-reloaded the note (loadLocked resets it); it does not
// persist across an eviction-then-reload. That underestimates the true
// updates-since-last-snapshot count for a note that falls out of the LRU
// between bursts of activity, which simply delays, rather than skips, the
// next automatic snapshot.
func (m *Manager) afterApply(sd string, note types.NoteID) {
	key := noteKey{sd: sd, note: note}
	now := m.clock.Now()

	m.snapMu.Lock()
	st, ok := m.snapState[key]
	if !ok {
		st = &snapshotTracker{lastSnapshotAt: now}
		m.snapState[key] = st
	}
	st.updatesSinceSnapshot++
	due := st.updatesSinceSnapshot >= m.cfg.SnapshotThreshold && now.Sub(st.lastSnapshotAt) >= m.cfg.SnapshotMinInterval
	if due {
		st.updatesSinceSnapshot = 0
		st.lastSnapshotAt = now
	}
	m.snapMu.Unlock()

	if !due {
		return
	}
	if err := m.writeSnapshot(sd, note); err != nil {
		ncslog.Logger.Warn().Str("sd", sd).Str("note", string(note)).Err(err).
			Msg("notemanager: automatic snapshot failed")
	}
}

// CreateSnapshot is spec.md §6's create_snapshot, also used directly for
// spec.md §4.3's explicit_request and clean_shutdown triggers: write a
// fresh complete snapshot for note from its current in-memory state, then
// garbage collect any log file the new snapshot fully covers.
func (m *Manager) CreateSnapshot(sd string, note types.NoteID) error {
	if err := m.writeSnapshot(sd, note); err != nil {
		return err
	}
	m.resetSnapshotTracker(sd, note)
	return nil
}

func (m *Manager) writeSnapshot(sd string, note types.NoteID) error {
	ds, err := m.GetOrLoad(sd, note)
	if err != nil {
		return err
	}
	state := ds.EncodeState()
	clock := ds.StateVector()
	if _, err := m.snaps.WriteSnapshot(sd, note, m.self, state, clock); err != nil {
		return err
	}
	isOpenForWrite := func(filename string) bool {
		cur, ok := m.store.CurrentFilename(sd, note)
		return ok && cur == filename
	}
	return m.snaps.GC(sd, note, isOpenForWrite)
}

func (m *Manager) resetSnapshotTracker(sd string, note types.NoteID) {
	key := noteKey{sd: sd, note: note}
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	m.snapState[key] = &snapshotTracker{lastSnapshotAt: m.clock.Now()}
}

// SnapshotAllOpen writes a snapshot for every note currently cached in
// memory, per spec.md §4.3's clean-shutdown trigger. Best-effort: a
// failure snapshotting one note is logged and does not stop the others.
func (m *Manager) SnapshotAllOpen() {
	m.mu.Lock()
	keys := make([]noteKey, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		if err := m.CreateSnapshot(k.sd, k.note); err != nil {
			ncslog.Logger.Warn().Str("sd", k.sd).Str("note", string(k.note)).Err(err).
				Msg("notemanager: shutdown snapshot failed")
		}
	}
}
