package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestLogHeaderRoundTrip(t *testing.T) {
	buf := WriteLogHeader()
	version, n, err := ParseLogHeader(buf)
	if err != nil {
		t.Fatalf("ParseLogHeader: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("version = %d, want %d", version, CurrentVersion)
	}
	if n != 5 {
		t.Errorf("consumed %d bytes, want 5", n)
	}
}

func TestParseLogHeaderMagicMismatch(t *testing.T) {
	buf := append([]byte{'X', 'X', 'X', 'X'}, CurrentVersion)
	_, _, err := ParseLogHeader(buf)
	var mm *MagicMismatch
	if !errors.As(err, &mm) {
		t.Fatalf("want *MagicMismatch, got %v", err)
	}
}

func TestParseLogHeaderUnknownVersion(t *testing.T) {
	buf := append(append([]byte{}, LogMagic[:]...), 0xFF)
	_, _, err := ParseLogHeader(buf)
	var uv *UnknownVersion
	if !errors.As(err, &uv) {
		t.Fatalf("want *UnknownVersion, got %v", err)
	}
}

func TestParseLogHeaderTruncated(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4} {
		buf := WriteLogHeader()[:n]
		_, _, err := ParseLogHeader(buf)
		var tr *Truncated
		if !errors.As(err, &tr) {
			t.Errorf("len %d: want *Truncated, got %v", n, err)
		}
	}
}

func TestWriteLogRecordRoundTrip(t *testing.T) {
	cases := []struct {
		ts      int64
		seq     uint64
		payload []byte
	}{
		{ts: 0, seq: 0, payload: nil},
		{ts: 1700000000000, seq: 1, payload: []byte("hello")},
		{ts: -1, seq: 18446744073709551615, payload: bytes.Repeat([]byte{0xAB}, 300)},
	}
	for _, c := range cases {
		rec := WriteLogRecord(c.ts, c.seq, c.payload)
		var got *LogRecordView
		_, err := IterateLogRecords(rec, 0, func(v LogRecordView) error {
			got = &v
			return nil
		})
		if err != nil {
			t.Fatalf("ts=%d seq=%d: iterate: %v", c.ts, c.seq, err)
		}
		if got == nil {
			t.Fatalf("ts=%d seq=%d: no record yielded", c.ts, c.seq)
		}
		if got.TimestampMillis != c.ts || got.Sequence != c.seq || !bytes.Equal(got.Payload, c.payload) {
			t.Errorf("got %+v, want ts=%d seq=%d payload=%x", got, c.ts, c.seq, c.payload)
		}
	}
}

func TestIterateLogRecordsMultiple(t *testing.T) {
	var buf []byte
	buf = append(buf, WriteLogRecord(100, 1, []byte("a"))...)
	buf = append(buf, WriteLogRecord(200, 2, []byte("bb"))...)
	buf = append(buf, WriteLogRecord(300, 3, nil)...)

	var seqs []uint64
	end, err := IterateLogRecords(buf, 0, func(v LogRecordView) error {
		seqs = append(seqs, v.Sequence)
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if end != len(buf) {
		t.Errorf("end = %d, want %d", end, len(buf))
	}
	want := []uint64{1, 2, 3}
	if len(seqs) != len(want) {
		t.Fatalf("seqs = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}
}

func TestIterateLogRecordsTruncatedTail(t *testing.T) {
	var buf []byte
	buf = append(buf, WriteLogRecord(100, 1, []byte("complete"))...)
	firstEnd := len(buf)
	// A header claiming a long payload with only a few bytes present.
	buf = append(buf, putUvarint(nil, 500)...)
	buf = append(buf, []byte("only a few bytes")...)

	var seqs []uint64
	offset, err := IterateLogRecords(buf, 0, func(v LogRecordView) error {
		seqs = append(seqs, v.Sequence)
		return nil
	})
	var tr *Truncated
	if !errors.As(err, &tr) {
		t.Fatalf("want *Truncated, got %v", err)
	}
	if tr.AtOffset != firstEnd {
		t.Errorf("AtOffset = %d, want %d", tr.AtOffset, firstEnd)
	}
	if offset != firstEnd {
		t.Errorf("offset = %d, want %d", offset, firstEnd)
	}
	if len(seqs) != 1 || seqs[0] != 1 {
		t.Errorf("seqs = %v, want [1]", seqs)
	}
}

func TestIterateLogRecordsResumeFromOffset(t *testing.T) {
	var buf []byte
	buf = append(buf, WriteLogRecord(100, 1, []byte("a"))...)
	secondStart := len(buf)
	buf = append(buf, WriteLogRecord(200, 2, []byte("b"))...)

	var seqs []uint64
	_, err := IterateLogRecords(buf, secondStart, func(v LogRecordView) error {
		seqs = append(seqs, v.Sequence)
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seqs) != 1 || seqs[0] != 2 {
		t.Errorf("seqs = %v, want [2]", seqs)
	}
}
