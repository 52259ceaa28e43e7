package codec

import (
	"sort"

	"github.com/notecove/sync/internal/types"
)

// SnapshotMagic is the 4-byte header of a .snapshot file.
var SnapshotMagic = [4]byte{'N', 'C', 'S', 'S'}

// WriteSnapshotHeader returns magic + version + status, the fixed 6-byte
// prefix of a .snapshot file. Callers write this twice per spec.md §4.3:
// once with status=incomplete before the body is durable, then again with
// status=complete after a flush.
func WriteSnapshotHeader(status types.SnapshotStatus) []byte {
	out := append([]byte{}, SnapshotMagic[:]...)
	out = append(out, CurrentVersion, byte(status))
	return out
}

// ParseSnapshotHeader validates the leading bytes of a snapshot file and
// returns its status plus bytes consumed (always 6 on success).
func ParseSnapshotHeader(buf []byte) (status types.SnapshotStatus, n int, err error) {
	if len(buf) < 4 {
		return 0, 0, &Truncated{AtOffset: 0}
	}
	var got [4]byte
	copy(got[:], buf[:4])
	if got != SnapshotMagic {
		return 0, 0, &MagicMismatch{Want: SnapshotMagic, Got: got}
	}
	if len(buf) < 6 {
		return 0, 0, &Truncated{AtOffset: 4}
	}
	if buf[4] != CurrentVersion {
		return 0, 0, &UnknownVersion{Got: buf[4]}
	}
	return types.SnapshotStatus(buf[5]), 6, nil
}

// WriteVectorClock encodes a vector clock as varint(count) followed by
// count entries of { varint instanceId_len | bytes | varint sequence |
// varint offset | varint filename_len | bytes }. Entries are written in
// sorted instance-id order so the encoding is deterministic — useful for
// the round-trip-identity property in spec.md §8, not required by format.
func WriteVectorClock(vc types.VectorClock) []byte {
	instances := make([]string, 0, len(vc))
	for inst := range vc {
		instances = append(instances, string(inst))
	}
	sort.Strings(instances)

	out := putUvarint(nil, uint64(len(instances)))
	for _, inst := range instances {
		entry := vc[types.InstanceID(inst)]
		out = putUvarint(out, uint64(len(inst)))
		out = append(out, inst...)
		out = putUvarint(out, entry.Sequence)
		out = putUvarint(out, entry.Offset)
		out = putUvarint(out, uint64(len(entry.Filename)))
		out = append(out, entry.Filename...)
	}
	return out
}

// ParseVectorClock decodes the encoding WriteVectorClock produces,
// returning the clock and the number of bytes consumed from buf.
func ParseVectorClock(buf []byte) (types.VectorClock, int, error) {
	count, n, ok := getUvarint(buf)
	if !ok {
		return nil, 0, &Truncated{AtOffset: 0}
	}
	offset := n
	vc := make(types.VectorClock, count)
	for i := uint64(0); i < count; i++ {
		idLen, n, ok := getUvarint(buf[offset:])
		if !ok {
			return nil, 0, &Truncated{AtOffset: offset}
		}
		offset += n
		if uint64(len(buf)-offset) < idLen {
			return nil, 0, &Truncated{AtOffset: offset}
		}
		inst := types.InstanceID(buf[offset : offset+int(idLen)])
		offset += int(idLen)

		seq, n, ok := getUvarint(buf[offset:])
		if !ok {
			return nil, 0, &Truncated{AtOffset: offset}
		}
		offset += n

		off, n, ok := getUvarint(buf[offset:])
		if !ok {
			return nil, 0, &Truncated{AtOffset: offset}
		}
		offset += n

		fnameLen, n, ok := getUvarint(buf[offset:])
		if !ok {
			return nil, 0, &Truncated{AtOffset: offset}
		}
		offset += n
		if uint64(len(buf)-offset) < fnameLen {
			return nil, 0, &Truncated{AtOffset: offset}
		}
		fname := string(buf[offset : offset+int(fnameLen)])
		offset += int(fnameLen)

		vc[inst] = types.ClockEntry{Sequence: seq, Offset: off, Filename: fname}
	}
	return vc, offset, nil
}

// WriteDocumentState frames the CRDT state region as varint(length) |
// bytes, so a snapshot reader can skip it without understanding the CRDT
// encoding, and so the snapshot file has a clean end-of-buffer boundary for
// ParseDocumentState to detect truncation against.
func WriteDocumentState(state []byte) []byte {
	out := putUvarint(nil, uint64(len(state)))
	return append(out, state...)
}

// ParseDocumentState decodes the encoding WriteDocumentState produces,
// returning the state bytes and the number consumed from buf.
func ParseDocumentState(buf []byte) (state []byte, n int, err error) {
	length, n, ok := getUvarint(buf)
	if !ok {
		return nil, 0, &Truncated{AtOffset: 0}
	}
	if uint64(len(buf)-n) < length {
		return nil, 0, &Truncated{AtOffset: n}
	}
	return buf[n : n+int(length)], n + int(length), nil
}
