package snapshot

import (
	"testing"
	"time"

	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/types"
)

func TestWriteSnapshotIsReadableAndComplete(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	m := New(fs, clock)

	vc := types.VectorClock{"a": {Sequence: 3, Offset: 10, Filename: "x.crdtlog"}}
	filename, err := m.WriteSnapshot("/sd", "n1", "a", []byte("doc state"), vc)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	state, gotClock, err := m.ReadState("/sd", "n1", filename)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if string(state) != "doc state" {
		t.Errorf("state = %q, want %q", state, "doc state")
	}
	if gotClock["a"] != vc["a"] {
		t.Errorf("clock = %+v, want %+v", gotClock, vc)
	}

	data, err := fs.ReadFile(layout.SnapshotsDir("/sd", "n1") + "/" + filename)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	status, _, err := codec.ParseSnapshotHeader(data)
	if err != nil {
		t.Fatalf("ParseSnapshotHeader: %v", err)
	}
	if status != types.SnapshotComplete {
		t.Errorf("status = %v, want complete", status)
	}
}

func TestWriteSnapshotDeletesDominatedPredecessors(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	m := New(fs, clock)

	old, err := m.WriteSnapshot("/sd", "n1", "a", []byte("old"), types.VectorClock{"a": {Sequence: 1}})
	if err != nil {
		t.Fatalf("write old: %v", err)
	}
	clock.Advance(time.Second)
	newer, err := m.WriteSnapshot("/sd", "n1", "a", []byte("newer"), types.VectorClock{"a": {Sequence: 5}})
	if err != nil {
		t.Fatalf("write newer: %v", err)
	}

	infos, err := m.ListComplete("/sd", "n1")
	if err != nil {
		t.Fatalf("ListComplete: %v", err)
	}
	if len(infos) != 1 || infos[0].Filename != newer {
		t.Errorf("infos = %v, want only %q (old=%q should be GC'd)", infos, newer, old)
	}
}

func TestWriteSnapshotKeepsNonDominatedSibling(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	m := New(fs, clock)

	sibling, err := m.WriteSnapshot("/sd", "n1", "a", []byte("a-branch"), types.VectorClock{"a": {Sequence: 5}, "b": {Sequence: 0}})
	if err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	clock.Advance(time.Second)
	other, err := m.WriteSnapshot("/sd", "n1", "b", []byte("b-branch"), types.VectorClock{"a": {Sequence: 0}, "b": {Sequence: 5}})
	if err != nil {
		t.Fatalf("write other: %v", err)
	}

	infos, err := m.ListComplete("/sd", "n1")
	if err != nil {
		t.Fatalf("ListComplete: %v", err)
	}
	names := map[string]bool{}
	for _, info := range infos {
		names[info.Filename] = true
	}
	if !names[sibling] || !names[other] {
		t.Errorf("expected both %q and %q to survive (neither dominates the other), got %v", sibling, other, infos)
	}
}

func TestGCDeletesFullyCoveredLogsOnly(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	m := New(fs, clock)

	coveredLog := layout.LogFilename(1, "a")
	aheadLog := layout.LogFilename(2, "a")
	for _, tc := range []struct {
		name string
		seqs []uint64
	}{
		{coveredLog, []uint64{1, 2}},
		{aheadLog, []uint64{3}},
	} {
		var buf []byte
		buf = append(buf, codec.WriteLogHeader()...)
		for _, seq := range tc.seqs {
			buf = append(buf, codec.WriteLogRecord(1700000000000, seq, nil)...)
		}
		if err := fs.WriteFileAtomic(layout.LogsDir("/sd", "n1")+"/"+tc.name, buf, 0o644); err != nil {
			t.Fatalf("seed %s: %v", tc.name, err)
		}
	}

	if _, err := m.WriteSnapshot("/sd", "n1", "a", []byte("state"), types.VectorClock{"a": {Sequence: 2}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	if err := m.GC("/sd", "n1", nil); err != nil {
		t.Fatalf("GC: %v", err)
	}

	entries, err := fs.ListDir(layout.LogsDir("/sd", "n1"))
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	var remaining []string
	for _, e := range entries {
		remaining = append(remaining, e.Name)
	}
	if len(remaining) != 1 || remaining[0] != aheadLog {
		t.Errorf("remaining logs = %v, want only %q", remaining, aheadLog)
	}
}

func TestGCNeverDeletesOpenLog(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	m := New(fs, clock)

	openLog := layout.LogFilename(1, "a")
	var buf []byte
	buf = append(buf, codec.WriteLogHeader()...)
	buf = append(buf, codec.WriteLogRecord(1700000000000, 1, nil)...)
	if err := fs.WriteFileAtomic(layout.LogsDir("/sd", "n1")+"/"+openLog, buf, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := m.WriteSnapshot("/sd", "n1", "a", []byte("state"), types.VectorClock{"a": {Sequence: 1}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	if err := m.GC("/sd", "n1", func(filename string) bool { return filename == openLog }); err != nil {
		t.Fatalf("GC: %v", err)
	}

	entries, err := fs.ListDir(layout.LogsDir("/sd", "n1"))
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != openLog {
		t.Errorf("entries = %v, want %q to survive", entries, openLog)
	}
}
