package reload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notecove/sync/internal/activity"
	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/doccache"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/metaindex"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/ncslog"
	"github.com/notecove/sync/internal/types"
)

// NoteManager is the subset of internal/notemanager.Manager that the
// reload pipeline needs: a way to get at a note's live DocumentSnapshot
// and a way to force a full cold reload for the gap-triggered fallback.
type NoteManager interface {
	GetOrLoad(sd string, note types.NoteID) (*doccache.DocumentSnapshot, error)
	ForceReload(sd string, note types.NoteID) (*doccache.DocumentSnapshot, error)
}

// NoteLister answers "what notes exist in this SD", used only by the
// gap-triggered full-scan fallback (§4.9 step 2).
type NoteLister interface {
	NotesInSD(sdPath string) ([]metaindex.NoteMeta, error)
}

var _ NoteLister = (metaindex.Store)(nil)

// StaleSync is a reload task that exhausted its retry budget: §4.9's
// "the note becomes a candidate to be surfaced to the user, but the
// system is not blocked".
type StaleSync struct {
	SD        string
	Note      types.NoteID
	Origin    types.InstanceID
	TargetSeq uint64
	Since     time.Time
	LastError string
}

type taskKey struct {
	sd     string
	note   types.NoteID
	origin types.InstanceID
}

type task struct {
	mu        sync.Mutex
	targetSeq uint64
	start     time.Time
}

// Pipeline runs the ensure_applied state machine for every (sd, note,
// origin) triple with activity newer than what's been applied. One
// Pipeline is shared across every SD this process has registered.
type Pipeline struct {
	fs     fsabs.FileSystem
	cfg    config.Engine
	notes  NoteManager
	lister NoteLister

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readers map[string]*activity.Reader // keyed by sd
	tasks   map[taskKey]*task

	staleMu sync.Mutex
	stale   map[taskKey]StaleSync
}

// New constructs a Pipeline. notes and lister are the only two things it
// needs from the rest of the engine; everything else (log scanning,
// backoff, stale bookkeeping) is self-contained.
func New(fs fsabs.FileSystem, cfg config.Engine, notes NoteManager, lister NoteLister) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		fs:      fs,
		cfg:     cfg,
		notes:   notes,
		lister:  lister,
		ctx:     ctx,
		cancel:  cancel,
		readers: make(map[string]*activity.Reader),
		tasks:   make(map[taskKey]*task),
		stale:   make(map[taskKey]StaleSync),
	}
}

// Stop cancels every in-flight reload task. Per spec.md §5, shutdown
// cancels reload work unconditionally; no local write is ever lost by
// this, since a write that already reached apply_local is already on
// disk before Stop can run.
func (p *Pipeline) Stop() {
	p.cancel()
}

func (p *Pipeline) readerFor(sd string) *activity.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.readers[sd]
	if !ok {
		r = activity.NewReader(p.fs)
		p.readers[sd] = r
	}
	return r
}

// OnActivityEvent handles one watcher-reported change to another
// instance's activity file, per spec.md §4.9.
func (p *Pipeline) OnActivityEvent(sd string, profile types.ProfileID, origin types.InstanceID) error {
	reader := p.readerFor(sd)
	result, err := reader.Read(sd, profile, origin)
	if err != nil {
		return fmt.Errorf("reload: read activity for %s: %w", origin, err)
	}

	if result.Gap {
		p.runGapFallback(sd)
		return nil
	}

	for _, entry := range result.Entries {
		p.enqueueEnsureApplied(sd, entry.Note, origin, entry.Sequence)
	}
	return nil
}

// runGapFallback enqueues a full ForceReload for every note the metadata
// index knows about in sd, per §4.9 step 2. It never blocks the caller.
func (p *Pipeline) runGapFallback(sd string) {
	notesMeta, err := p.lister.NotesInSD(sd)
	if err != nil {
		ncslog.Logger.Error().Str("sd", sd).Err(err).Msg("reload: gap fallback: list notes")
		return
	}
	for _, nm := range notesMeta {
		note := nm.Note
		go func() {
			if _, err := p.notes.ForceReload(sd, note); err != nil {
				ncslog.Logger.Error().Str("sd", sd).Str("note", string(note)).Err(err).
					Msg("reload: gap fallback: force reload failed")
				metrics.ReloadOutcomesTotal.WithLabelValues("stale").Inc()
				return
			}
			metrics.ReloadOutcomesTotal.WithLabelValues("applied").Inc()
		}()
	}
}

// enqueueEnsureApplied starts (or fast-forwards) the task tracking
// (sd, note, origin). A second event for the same triple with a higher
// target_seq supersedes the in-flight attempt rather than starting a
// second goroutine, per spec.md §5's cancellation rule.
func (p *Pipeline) enqueueEnsureApplied(sd string, note types.NoteID, origin types.InstanceID, targetSeq uint64) {
	key := taskKey{sd: sd, note: note, origin: origin}

	p.mu.Lock()
	if t, ok := p.tasks[key]; ok {
		t.mu.Lock()
		if targetSeq > t.targetSeq {
			t.targetSeq = targetSeq
		}
		t.mu.Unlock()
		p.mu.Unlock()
		return
	}
	t := &task{targetSeq: targetSeq, start: time.Now()}
	p.tasks[key] = t
	p.mu.Unlock()

	p.staleMu.Lock()
	delete(p.stale, key)
	p.staleMu.Unlock()

	metrics.ReloadQueueDepth.Inc()
	go p.run(key, t)
}

// run drives one (sd, note, origin) task through
// Pending→Scanning→Waiting→Applied|Stale until it resolves.
func (p *Pipeline) run(key taskKey, t *task) {
	defer func() {
		p.mu.Lock()
		delete(p.tasks, key)
		p.mu.Unlock()
		metrics.ReloadQueueDepth.Dec()
	}()

	attempt := 0
	for {
		t.mu.Lock()
		target := t.targetSeq
		t.mu.Unlock()

		applied, correctedTarget, err := p.tryApply(key.sd, key.note, key.origin, target)
		if err != nil {
			ncslog.Logger.Error().Str("sd", key.sd).Str("note", string(key.note)).
				Str("origin", string(key.origin)).Err(err).Msg("reload: ensure_applied failed")
			return
		}
		if applied {
			metrics.ReloadOutcomesTotal.WithLabelValues("applied").Inc()
			return
		}
		if correctedTarget != 0 {
			t.mu.Lock()
			t.targetSeq = correctedTarget
			t.mu.Unlock()
		}

		if time.Since(t.start) > p.cfg.ReloadBudget {
			p.markStale(key, t)
			return
		}

		delay := p.cfg.ReloadBackoff[attempt]
		if attempt < len(p.cfg.ReloadBackoff)-1 {
			attempt++
		}
		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return
		}
	}
}

// tryApply is one Scanning pass: it returns applied=true on success,
// applied=false with no error when the record isn't visible yet (caller
// backs off), a non-zero correctedTarget when apply_remote reported a
// SequenceViolation naming the actually-expected sequence, and a non-nil
// error only for a genuine I/O failure outside the truncated/missing case.
func (p *Pipeline) tryApply(sd string, note types.NoteID, origin types.InstanceID, targetSeq uint64) (applied bool, correctedTarget uint64, err error) {
	ds, err := p.notes.GetOrLoad(sd, note)
	if err != nil {
		return false, 0, fmt.Errorf("get_or_load: %w", err)
	}

	if ds.StateVector().SequenceOf(origin) >= targetSeq {
		return true, 0, nil
	}

	payload, offset, filename, found, err := scanForRecord(p.fs, sd, note, origin, targetSeq)
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, nil
	}

	applyErr := ds.ApplyRemote(origin, targetSeq, offset, filename, payload)
	if applyErr == nil {
		return true, 0, nil
	}
	var violation *doccache.SequenceViolation
	if errors.As(applyErr, &violation) {
		return false, violation.Expected, nil
	}
	return false, 0, fmt.Errorf("apply_remote: %w", applyErr)
}

// scanForRecord looks across every log file origin owns within note's
// logs/ directory for the record at targetSeq. A file whose tail is
// Truncated is treated the same as "not found yet" — it might still
// arrive on the next pass.
func scanForRecord(fs fsabs.FileSystem, sd string, note types.NoteID, origin types.InstanceID, targetSeq uint64) (payload []byte, offset uint64, filename string, found bool, err error) {
	logsDir := layout.LogsDir(sd, note)
	entries, err := fs.ListDir(logsDir)
	if err != nil {
		return nil, 0, "", false, fmt.Errorf("reload: list %s: %w", logsDir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(e.Name, ".crdtlog") {
			continue
		}
		_, inst, ok := layout.ParseLogFilename(e.Name)
		if ok && inst == origin {
			candidates = append(candidates, e.Name)
		}
	}
	sort.Strings(candidates)

	for _, name := range candidates {
		p, off, ferr := doccache.FetchPayloadBySequence(fs, sd, note, name, targetSeq)
		if ferr != nil {
			var trunc *codec.Truncated
			if errors.As(ferr, &trunc) {
				continue // might still be in a later file, or this one's tail grows later
			}
			return nil, 0, "", false, ferr
		}
		if p != nil {
			return p, off, name, true, nil
		}
	}
	return nil, 0, "", false, nil
}

func (p *Pipeline) markStale(key taskKey, t *task) {
	p.staleMu.Lock()
	p.stale[key] = StaleSync{
		SD:        key.sd,
		Note:      key.note,
		Origin:    key.origin,
		TargetSeq: t.targetSeq,
		Since:     t.start,
	}
	p.staleMu.Unlock()
	metrics.ReloadOutcomesTotal.WithLabelValues("stale").Inc()
	metrics.StaleSyncs.Inc()
}

// GetStaleSyncs returns every reload task currently parked as stale.
func (p *Pipeline) GetStaleSyncs() []StaleSync {
	p.staleMu.Lock()
	defer p.staleMu.Unlock()
	out := make([]StaleSync, 0, len(p.stale))
	for _, s := range p.stale {
		out = append(out, s)
	}
	return out
}

// SkipStale discards a stale-sync entry without retrying it. It stays
// dismissed until a fresh activity event for the same (note, origin)
// arrives.
func (p *Pipeline) SkipStale(sd string, note types.NoteID, origin types.InstanceID) bool {
	key := taskKey{sd: sd, note: note, origin: origin}
	p.staleMu.Lock()
	_, ok := p.stale[key]
	delete(p.stale, key)
	p.staleMu.Unlock()
	if ok {
		metrics.StaleSyncs.Dec()
	}
	return ok
}

// RetryStale re-enqueues a stale-sync entry's ensure_applied task
// immediately, per spec.md §4.11's "Stale → Applied is allowed on any
// future watcher event that supplies the missing bytes" — this is the
// user-triggered equivalent of that future event.
func (p *Pipeline) RetryStale(sd string, note types.NoteID, origin types.InstanceID) bool {
	key := taskKey{sd: sd, note: note, origin: origin}
	p.staleMu.Lock()
	s, ok := p.stale[key]
	if ok {
		delete(p.stale, key)
	}
	p.staleMu.Unlock()
	if !ok {
		return false
	}
	metrics.StaleSyncs.Dec()
	p.enqueueEnsureApplied(sd, note, origin, s.TargetSeq)
	return true
}
