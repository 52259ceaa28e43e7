package notestore

import (
	"testing"
	"time"

	"github.com/notecove/sync/internal/codec"
	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
)

func newTestStore(t *testing.T) (*Store, *fsabs.FakeFileSystem, *fsabs.FakeClock) {
	t.Helper()
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := config.Default()
	return New(fs, clock, cfg, "a"), fs, clock
}

func TestWriteUpdateIssuesContiguousSequences(t *testing.T) {
	s, _, _ := newTestStore(t)
	for i := 1; i <= 5; i++ {
		res, err := s.WriteUpdate("/sd", "n1", []byte("payload"))
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if res.Sequence != uint64(i) {
			t.Errorf("write %d: sequence = %d, want %d", i, res.Sequence, i)
		}
		if res.Instance != "a" {
			t.Errorf("write %d: instance = %q, want a", i, res.Instance)
		}
	}
}

func TestWriteUpdateRotatesAtSizeLimit(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := config.Default()
	cfg.LogMaxSize = 64 // force rotation quickly
	s := New(fs, clock, cfg, "a")

	var filenames []string
	for i := 0; i < 10; i++ {
		clock.Advance(time.Millisecond)
		res, err := s.WriteUpdate("/sd", "n1", []byte("0123456789012345678901234567890"))
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		filenames = append(filenames, res.Filename)
	}

	distinct := map[string]bool{}
	for _, f := range filenames {
		distinct[f] = true
	}
	if len(distinct) < 2 {
		t.Fatalf("expected rotation to produce multiple files, got %v", filenames)
	}

	// No record may be split across rotation: verify every log file parses
	// cleanly to the end with no Truncated ranges.
	entries, err := fs.ListDir(layout.LogsDir("/sd", "n1"))
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	for _, e := range entries {
		data, err := fs.ReadFile(layout.LogsDir("/sd", "n1") + "/" + e.Name)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", e.Name, err)
		}
		_, n, err := codec.ParseLogHeader(data)
		if err != nil {
			t.Fatalf("%s: header: %v", e.Name, err)
		}
		if _, err := codec.IterateLogRecords(data, n, func(codec.LogRecordView) error { return nil }); err != nil {
			t.Errorf("%s: unexpected parse error: %v", e.Name, err)
		}
	}
}

func TestWriteUpdateRewindsPartialTail(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := config.Default()

	logsDir := layout.LogsDir("/sd", "n1")
	filename := layout.LogFilename(1700000000000, "a")
	fullPath := logsDir + "/" + filename

	var buf []byte
	buf = append(buf, codec.WriteLogHeader()...)
	buf = append(buf, codec.WriteLogRecord(1700000000000, 1, []byte("complete"))...)
	if err := fs.WriteFileAtomic(fullPath, buf, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Simulate a crash mid-write of record 2: a varint length header
	// claiming 250 bytes (LEB128: 0xFA 0x01) with only 16 actually present.
	partial := append([]byte{0xFA, 0x01}, []byte("not enough bytes")...)
	fs.Corrupt(fullPath, partial)

	s := New(fs, clock, cfg, "a")
	res, err := s.WriteUpdate("/sd", "n1", []byte("record three"))
	if err != nil {
		t.Fatalf("WriteUpdate: %v", err)
	}
	if res.Sequence != 2 {
		t.Errorf("sequence = %d, want 2 (the partial record 2 must be overwritten, not counted)", res.Sequence)
	}

	data, err := fs.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	_, n, err := codec.ParseLogHeader(data)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	var seqs []uint64
	if _, err := codec.IterateLogRecords(data, n, func(v codec.LogRecordView) error {
		seqs = append(seqs, v.Sequence)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("seqs = %v, want [1 2]", seqs)
	}
}

func TestWriteUpdateResumesAcrossNewStoreInstance(t *testing.T) {
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := config.Default()

	s1 := New(fs, clock, cfg, "a")
	if _, err := s1.WriteUpdate("/sd", "n1", []byte("one")); err != nil {
		t.Fatalf("s1 write: %v", err)
	}

	s2 := New(fs, clock, cfg, "a")
	res, err := s2.WriteUpdate("/sd", "n1", []byte("two"))
	if err != nil {
		t.Fatalf("s2 write: %v", err)
	}
	if res.Sequence != 2 {
		t.Errorf("sequence = %d, want 2", res.Sequence)
	}
}
