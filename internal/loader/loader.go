// Package loader implements spec.md §4.5 C6: the pure cold-load function
// that reconstructs a document and vector clock purely from whatever
// snapshot and log files are currently visible on disk. Its one side
// effect is moving a file it cannot parse into layout.QuarantineDir, per
// SPEC_FULL.md's quarantine directory convention.
//
// Grounded on pkg/storage's read-path structure (open, parse, return) and
// other_examples/82b6c14b_hashicorp-serf__serf-snapshot.go.go's restore
// path (select newest valid snapshot, then replay the tail).
package loader

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/crdtdoc"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/metrics"
	"github.com/notecove/sync/internal/ncslog"
	"github.com/notecove/sync/internal/snapshot"
	"github.com/notecove/sync/internal/types"
)

// Result is what Load produces: a ready-to-use document, its vector clock,
// and the set of log files that ended in a Truncated tail (for the caller
// to know a retry later may pick up more).
type Result struct {
	Doc           *crdtdoc.Document
	Clock         types.VectorClock
	TruncatedTail []TruncatedTail
}

// TruncatedTail names a log file whose parse stopped early because the
// buffer ended mid-record.
type TruncatedTail struct {
	Filename string
	AtOffset int
}

// Loader loads documents from snapshot + log files.
type Loader struct {
	fs        fsabs.FileSystem
	clock     fsabs.Clock
	snapshots *snapshot.Manager
}

func New(fs fsabs.FileSystem, clock fsabs.Clock, snapshots *snapshot.Manager) *Loader {
	return &Loader{fs: fs, clock: clock, snapshots: snapshots}
}

// quarantine moves fullPath (named name, under sd) to
// layout.QuarantineDir(sd), leaving logs/snapshots holding only files the
// loader can actually parse. Best-effort: a failure here is logged but
// does not override the caller's original parse error.
func (l *Loader) quarantine(sd, fullPath, name string) {
	dir := layout.QuarantineDir(sd)
	if err := l.fs.MkdirAll(dir); err != nil {
		ncslog.Logger.Warn().Str("path", fullPath).Err(err).Msg("loader: quarantine mkdir failed")
		return
	}
	dest := dir + "/" + layout.QuarantinedName(name, l.clock.NowMillis())
	if err := l.fs.Rename(fullPath, dest); err != nil {
		ncslog.Logger.Warn().Str("path", fullPath).Str("dest", dest).Err(err).Msg("loader: quarantine move failed")
		return
	}
	ncslog.Logger.Warn().Str("path", fullPath).Str("dest", dest).Msg("loader: quarantined corrupt file")
}

// Load reconstructs the document for (sd, note) purely from disk.
func (l *Loader) Load(sd string, note types.NoteID) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LoadDuration)

	doc, clock, err := l.loadBaseSnapshot(sd, note)
	if err != nil {
		return Result{}, err
	}

	logsDir := layout.LogsDir(sd, note)
	entries, err := l.fs.ListDir(logsDir)
	if err != nil {
		return Result{}, fmt.Errorf("loader: list %s: %w", logsDir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir && strings.HasSuffix(e.Name, ".crdtlog") {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names) // fixed-width millisecond timestamp prefix sorts chronologically

	var truncated []TruncatedTail
	for _, name := range names {
		tt, err := l.applyLog(logsDir+"/"+name, name, doc, clock)
		if err != nil {
			if l.isQuarantineWorthy(err) {
				l.quarantine(sd, logsDir+"/"+name, name)
				continue
			}
			return Result{}, err
		}
		if tt != nil {
			truncated = append(truncated, *tt)
		}
	}

	return Result{Doc: doc, Clock: clock, TruncatedTail: truncated}, nil
}

func (l *Loader) loadBaseSnapshot(sd string, note types.NoteID) (*crdtdoc.Document, types.VectorClock, error) {
	infos, err := l.snapshots.ListComplete(sd, note)
	if err != nil {
		return nil, nil, err
	}
	if len(infos) == 0 {
		return crdtdoc.New(), types.VectorClock{}, nil
	}

	var best *snapshot.Info
	for i := range infos {
		if best == nil || infos[i].Clock.Dominates(best.Clock) {
			best = &infos[i]
		}
	}
	state, clock, err := l.snapshots.ReadState(sd, note, best.Filename)
	if err != nil {
		if l.isQuarantineWorthy(err) {
			l.quarantine(sd, layout.SnapshotsDir(sd, note)+"/"+best.Filename, best.Filename)
			return crdtdoc.New(), types.VectorClock{}, nil
		}
		return nil, nil, fmt.Errorf("loader: read snapshot %s: %w", best.Filename, err)
	}
	doc, err := crdtdoc.Load(state)
	if err != nil {
		// The header parsed fine but the automerge payload itself didn't
		// decode: still unreadable, so quarantine it the same way.
		l.quarantine(sd, layout.SnapshotsDir(sd, note)+"/"+best.Filename, best.Filename)
		return crdtdoc.New(), types.VectorClock{}, nil
	}
	return doc, clock.Clone(), nil
}

func (l *Loader) isQuarantineWorthy(err error) bool {
	var magic *codec.MagicMismatch
	var version *codec.UnknownVersion
	var badName *unparseableLogFilename
	return errors.As(err, &magic) || errors.As(err, &version) || errors.As(err, &badName)
}

// applyLog replays every record in filename whose sequence is newer than
// what clock already has for that record's instance, in the strict
// per-instance order the file stores them in. A Truncated tail is
// reported, not treated as an error.
func (l *Loader) applyLog(fullPath, filename string, doc *crdtdoc.Document, clock types.VectorClock) (*TruncatedTail, error) {
	data, err := l.fs.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", fullPath, err)
	}
	_, inst, ok := layout.ParseLogFilename(filename)
	if !ok {
		return nil, &unparseableLogFilename{filename: filename}
	}

	_, n, err := codec.ParseLogHeader(data)
	if err != nil {
		ncslog.Logger.Warn().Str("path", fullPath).Err(err).Msg("loader: quarantine-worthy log header")
		return nil, fmt.Errorf("loader: %s: %w", fullPath, err)
	}

	prevSeq := clock.SequenceOf(inst)
	_, iterErr := codec.IterateLogRecords(data, n, func(v codec.LogRecordView) error {
		if v.Sequence <= prevSeq {
			return nil // already applied via an earlier snapshot or file
		}
		if v.Sequence != prevSeq+1 {
			ncslog.Logger.Error().Str("path", fullPath).
				Uint64("expected", prevSeq+1).Uint64("got", v.Sequence).
				Msg("loader: sequence gap in own log, entering read-only state for this note")
			return &SequenceGapInOwnLog{Instance: inst, Expected: prevSeq + 1, Got: v.Sequence}
		}
		if err := doc.ApplyUpdate(v.Payload); err != nil {
			return fmt.Errorf("loader: apply %s@%d: %w", inst, v.Sequence, err)
		}
		prevSeq = v.Sequence
		clock[inst] = types.ClockEntry{Sequence: v.Sequence, Offset: uint64(v.RangeEnd), Filename: filename}
		return nil
	})

	var gap *SequenceGapInOwnLog
	if errors.As(iterErr, &gap) {
		return nil, gap
	}
	var trunc *codec.Truncated
	if errors.As(iterErr, &trunc) {
		return &TruncatedTail{Filename: filename, AtOffset: trunc.AtOffset}, nil
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return nil, nil
}

// SequenceGapInOwnLog is fatal for the affected note per spec.md §7: the
// loader saw non-contiguous sequences from a single instance within its
// own logs, which should never happen absent corruption or a bug in the
// writer.
type SequenceGapInOwnLog struct {
	Instance types.InstanceID
	Expected uint64
	Got      uint64
}

func (e *SequenceGapInOwnLog) Error() string {
	return fmt.Sprintf("sequence gap in %s's own log: expected %d, got %d", e.Instance, e.Expected, e.Got)
}

// unparseableLogFilename is quarantine-worthy the same way
// codec.MagicMismatch/codec.UnknownVersion are: the file itself may be
// fine, but this loader has no way to know which instance or sequence its
// records belong to, so it can't be reconciled into the clock.
type unparseableLogFilename struct{ filename string }

func (e *unparseableLogFilename) Error() string {
	return fmt.Sprintf("loader: unparseable log filename %s", e.filename)
}
