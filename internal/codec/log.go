// Package codec implements the binary wire formats spec.md §4.1 names:
// the per-note log file framing, the snapshot header and vector clock
// encoding, and the plain-text activity line format. It is deliberately
// pure — every function takes and returns byte slices, none of it touches
// the filesystem. Parsing is total: it never panics on malformed input,
// and a buffer that ends mid-record yields a *Truncated error value (a
// "retry later" signal, not corruption), per spec.md §4.1's framing
// contract.
package codec

import (
	"encoding/binary"
	"io"
)

// LogMagic is the 4-byte header of a .crdtlog file.
var LogMagic = [4]byte{'N', 'C', 'L', 'G'}

// CurrentVersion is the version byte this codec writes and the only one it
// currently accepts on read.
const CurrentVersion byte = 1

// WriteLogHeader returns the fixed 5-byte header every .crdtlog file opens
// with: magic followed by the version byte.
func WriteLogHeader() []byte {
	return append(append([]byte{}, LogMagic[:]...), CurrentVersion)
}

// ParseLogHeader validates the leading bytes of a log file and returns the
// version plus the number of bytes consumed (always 5 on success).
func ParseLogHeader(buf []byte) (version byte, n int, err error) {
	if len(buf) < 4 {
		return 0, 0, &Truncated{AtOffset: 0}
	}
	var got [4]byte
	copy(got[:], buf[:4])
	if got != LogMagic {
		return 0, 0, &MagicMismatch{Want: LogMagic, Got: got}
	}
	if len(buf) < 5 {
		return 0, 0, &Truncated{AtOffset: 4}
	}
	if buf[4] != CurrentVersion {
		return 0, 0, &UnknownVersion{Got: buf[4]}
	}
	return buf[4], 5, nil
}

// WriteLogRecord frames one record: varint(length) | i64 timestamp_ms |
// varint sequence | payload. length covers everything after itself
// through the payload, so a reader can skip unknown trailing fields safely
// by trusting length alone.
func WriteLogRecord(timestampMillis int64, sequence uint64, payload []byte) []byte {
	body := make([]byte, 0, 8+binary.MaxVarintLen64+len(payload))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestampMillis))
	body = append(body, tsBuf[:]...)
	body = putUvarint(body, sequence)
	body = append(body, payload...)

	out := putUvarint(nil, uint64(len(body)))
	out = append(out, body...)
	return out
}

// LogRecordView is one parsed record plus the byte range it occupied in the
// source buffer, relative to the start of the slice iterateLogRecords was
// called with.
type LogRecordView struct {
	RangeStart      int
	RangeEnd        int
	TimestampMillis int64
	Sequence        uint64
	Payload         []byte
}

// IterateLogRecords parses as many complete records as are present in buf
// starting at startOffset, calling yield for each. It returns the offset of
// the first unparsed byte (== len(buf) if the buffer ended exactly on a
// record boundary) and a *Truncated error if a record header or payload
// ran past the end of buf. yield returning an error stops iteration early
// and that error is returned verbatim (not wrapped).
func IterateLogRecords(buf []byte, startOffset int, yield func(LogRecordView) error) (endOffset int, err error) {
	offset := startOffset
	for offset < len(buf) {
		recordStart := offset
		length, n, ok := getUvarint(buf[offset:])
		if !ok {
			return offset, &Truncated{AtOffset: recordStart}
		}
		offset += n

		if uint64(len(buf)-offset) < length {
			return recordStart, &Truncated{AtOffset: recordStart}
		}
		body := buf[offset : offset+int(length)]
		offset += int(length)

		if len(body) < 8 {
			return recordStart, &Truncated{AtOffset: recordStart}
		}
		ts := int64(binary.BigEndian.Uint64(body[:8]))
		seq, n2, ok := getUvarint(body[8:])
		if !ok {
			return recordStart, &Truncated{AtOffset: recordStart}
		}
		payload := body[8+n2:]

		if err := yield(LogRecordView{
			RangeStart:      recordStart,
			RangeEnd:        offset,
			TimestampMillis: ts,
			Sequence:        seq,
			Payload:         payload,
		}); err != nil {
			return offset, err
		}
	}
	return offset, nil
}

// ReadFullLogRecord reads a single framed record from r at the current
// position, for callers (apply_remote) that need to fetch one payload by
// offset rather than scanning a whole file. io.EOF is returned unwrapped
// when r is exhausted exactly at a record boundary.
func ReadFullLogRecord(r io.Reader) (LogRecordView, error) {
	var lenBuf [binary.MaxVarintLen64]byte
	length, err := readUvarintFrom(r, lenBuf[:])
	if err != nil {
		return LogRecordView{}, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return LogRecordView{}, &Truncated{AtOffset: 0}
		}
		return LogRecordView{}, err
	}
	if len(body) < 8 {
		return LogRecordView{}, &Truncated{AtOffset: 0}
	}
	ts := int64(binary.BigEndian.Uint64(body[:8]))
	seq, n2, ok := getUvarint(body[8:])
	if !ok {
		return LogRecordView{}, &Truncated{AtOffset: 0}
	}
	return LogRecordView{
		TimestampMillis: ts,
		Sequence:        seq,
		Payload:         body[8+n2:],
	}, nil
}

func readUvarintFrom(r io.Reader, scratch []byte) (uint64, error) {
	var x uint64
	var s uint
	var b [1]byte
	for i := 0; i < binary.MaxVarintLen64; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if b[0] < 0x80 {
			return x | uint64(b[0])<<s, nil
		}
		x |= uint64(b[0]&0x7f) << s
		s += 7
	}
	return 0, &Truncated{AtOffset: 0}
}
