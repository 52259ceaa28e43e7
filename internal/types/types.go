// Package types holds the data-model values shared across the sync engine:
// vector clocks, log/snapshot record shapes, and the small identity structs
// that name a note or a storage directory. None of these types know how to
// read or write bytes themselves — that's internal/codec's job — they are
// the in-memory shapes codec produces and consumes.
package types

// InstanceID is a stable short identifier for one device+install.
type InstanceID string

// ProfileID groups instances representing the same user.
type ProfileID string

// NoteID identifies a note within a storage directory.
type NoteID string

// ClockEntry is one instance's position in a VectorClock: the highest
// contiguous sequence applied from that instance, plus the byte offset and
// log filename needed to resume reading its ring from that point.
type ClockEntry struct {
	Sequence uint64
	Offset   uint64
	Filename string
}

// VectorClock maps an instance to its ClockEntry. A nil or empty clock
// represents the empty document.
type VectorClock map[InstanceID]ClockEntry

// Clone returns a deep copy safe to mutate independently.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Dominates reports whether vc is greater than or equal to other in every
// component other contains, and strictly greater in at least one — the
// "strictly dominated" relation write_snapshot uses to prune old snapshots.
func (vc VectorClock) Dominates(other VectorClock) bool {
	strictlyGreater := false
	for inst, otherEntry := range other {
		mine, ok := vc[inst]
		if !ok || mine.Sequence < otherEntry.Sequence {
			return false
		}
		if mine.Sequence > otherEntry.Sequence {
			strictlyGreater = true
		}
	}
	for inst := range vc {
		if _, ok := other[inst]; !ok {
			strictlyGreater = true
		}
	}
	return strictlyGreater
}

// SequenceOf returns the contiguous sequence applied from inst, or 0 if
// nothing from inst has been applied yet.
func (vc VectorClock) SequenceOf(inst InstanceID) uint64 {
	return vc[inst].Sequence
}

// LogRecord is one parsed entry from a .crdtlog file.
type LogRecord struct {
	// RangeStart/RangeEnd are the byte offsets in the source buffer the
	// record occupied, RangeEnd exclusive. Used to resume a clock entry's
	// Offset at the byte after this record.
	RangeStart int
	RangeEnd   int
	TimestampMillis int64
	Sequence        uint64
	Payload         []byte
}

// WriteResult is what write_update (C3) returns for a completed append.
type WriteResult struct {
	Instance InstanceID
	Sequence uint64
	Offset   uint64
	Filename string
}

// SnapshotStatus is the single status byte in a .snapshot file.
type SnapshotStatus byte

const (
	SnapshotComplete   SnapshotStatus = 0x00
	SnapshotIncomplete SnapshotStatus = 0x01
)

// ActivityEntry is one parsed line from an activity log:
// <noteId>|<originProfileId>|<originInstanceId>_<sequence>.
type ActivityEntry struct {
	Note            NoteID
	OriginProfile   ProfileID
	OriginInstance  InstanceID
	Sequence        uint64
}

// ProfilePresence is the heartbeated contents of
// <sd>/profiles/<profileId>.json.
type ProfilePresence struct {
	ProfileID   ProfileID `json:"profileId"`
	ProfileName string    `json:"profileName"`
	Username    string    `json:"username"`
	Handle      string    `json:"handle"`
	Hostname    string    `json:"hostname"`
	Platform    string    `json:"platform"`
	LastSeen    int64     `json:"lastSeen"`
}
