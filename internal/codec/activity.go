package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notecove/sync/internal/types"
)

// FormatActivityLine renders one activity-log line:
// <noteId>|<originProfileId>|<originInstanceId>_<sequence>\n
func FormatActivityLine(e types.ActivityEntry) string {
	return fmt.Sprintf("%s|%s|%s_%d\n", e.Note, e.OriginProfile, e.OriginInstance, e.Sequence)
}

// ParseActivityLine parses one line (without its trailing newline) written
// by FormatActivityLine. A 1-byte instanceId is accepted, per spec.md §8's
// boundary behaviors.
func ParseActivityLine(line string) (types.ActivityEntry, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return types.ActivityEntry{}, fmt.Errorf("activity line: want 3 fields, got %d: %q", len(parts), line)
	}
	noteID, profileID, tail := parts[0], parts[1], parts[2]

	underscore := strings.LastIndexByte(tail, '_')
	if underscore < 0 {
		return types.ActivityEntry{}, fmt.Errorf("activity line: missing '_' in %q", tail)
	}
	instanceID, seqStr := tail[:underscore], tail[underscore+1:]
	if instanceID == "" {
		return types.ActivityEntry{}, fmt.Errorf("activity line: empty instanceId in %q", tail)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return types.ActivityEntry{}, fmt.Errorf("activity line: bad sequence %q: %w", seqStr, err)
	}
	return types.ActivityEntry{
		Note:           types.NoteID(noteID),
		OriginProfile:  types.ProfileID(profileID),
		OriginInstance: types.InstanceID(instanceID),
		Sequence:       seq,
	}, nil
}
