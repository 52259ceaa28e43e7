// Package layout names the on-disk paths spec.md §6 fixes as the
// authoritative layout of a storage directory (an "SD"):
//
//	<sd>/
//	  SD_ID
//	  SD_VERSION
//	  notes/<noteId>/logs/<timestamp>_<instanceId>.crdtlog
//	  notes/<noteId>/snapshots/<timestamp>_<instanceId>.snapshot
//	  activity/<profileId>.<instanceId>.log
//	  profiles/<profileId>.json
//	  media/<imageId>.<ext>
//
// Every component that reads or writes SD-relative paths goes through here
// so the layout is defined in exactly one place.
package layout

import (
	"fmt"
	"path"
	"strings"

	"github.com/notecove/sync/internal/types"
)

func SDIDFile(sd string) string      { return path.Join(sd, "SD_ID") }
func SDVersionFile(sd string) string { return path.Join(sd, "SD_VERSION") }

func NoteDir(sd string, note types.NoteID) string {
	return path.Join(sd, "notes", string(note))
}

func LogsDir(sd string, note types.NoteID) string {
	return path.Join(NoteDir(sd, note), "logs")
}

func SnapshotsDir(sd string, note types.NoteID) string {
	return path.Join(NoteDir(sd, note), "snapshots")
}

func ActivityDir(sd string) string { return path.Join(sd, "activity") }

func ProfilesDir(sd string) string { return path.Join(sd, "profiles") }

func MediaDir(sd string) string { return path.Join(sd, "media") }

// QuarantineDir holds files loader moved aside as corrupt, so a listing of
// logs/ or snapshots/ stays a clean working set for the next load.
func QuarantineDir(sd string) string { return path.Join(sd, "quarantine") }

// QuarantinedName returns "<name>.corrupt.<timestampMillis>" for a file
// being moved into QuarantineDir.
func QuarantinedName(name string, timestampMillis int64) string {
	return fmt.Sprintf("%s.corrupt.%d", name, timestampMillis)
}

// LogFilename returns "<timestampMillis>_<instanceId>.crdtlog".
func LogFilename(timestampMillis int64, inst types.InstanceID) string {
	return fmt.Sprintf("%d_%s.crdtlog", timestampMillis, inst)
}

// SnapshotFilename returns "<timestampMillis>_<instanceId>.snapshot".
func SnapshotFilename(timestampMillis int64, inst types.InstanceID) string {
	return fmt.Sprintf("%d_%s.snapshot", timestampMillis, inst)
}

// ActivityFilename returns "<profileId>.<instanceId>.log".
func ActivityFilename(profile types.ProfileID, inst types.InstanceID) string {
	return fmt.Sprintf("%s.%s.log", profile, inst)
}

// ProfileFilename returns "<profileId>.json".
func ProfileFilename(profile types.ProfileID) string {
	return fmt.Sprintf("%s.json", profile)
}

// ParseLogFilename splits "<timestamp>_<instanceId>.crdtlog" back apart.
func ParseLogFilename(name string) (timestampMillis int64, inst types.InstanceID, ok bool) {
	base := strings.TrimSuffix(name, ".crdtlog")
	if base == name {
		return 0, "", false
	}
	return splitTimestampInstance(base)
}

// ParseSnapshotFilename splits "<timestamp>_<instanceId>.snapshot" back apart.
func ParseSnapshotFilename(name string) (timestampMillis int64, inst types.InstanceID, ok bool) {
	base := strings.TrimSuffix(name, ".snapshot")
	if base == name {
		return 0, "", false
	}
	return splitTimestampInstance(base)
}

func splitTimestampInstance(base string) (int64, types.InstanceID, bool) {
	idx := strings.IndexByte(base, '_')
	if idx < 0 {
		return 0, "", false
	}
	var ts int64
	if _, err := fmt.Sscanf(base[:idx], "%d", &ts); err != nil {
		return 0, "", false
	}
	inst := base[idx+1:]
	if inst == "" {
		return 0, "", false
	}
	return ts, types.InstanceID(inst), true
}

// ParseActivityFilename splits "<profileId>.<instanceId>.log" back apart.
func ParseActivityFilename(name string) (profile types.ProfileID, inst types.InstanceID, ok bool) {
	base := strings.TrimSuffix(name, ".log")
	if base == name {
		return "", "", false
	}
	idx := strings.IndexByte(base, '.')
	if idx < 0 {
		return "", "", false
	}
	return types.ProfileID(base[:idx]), types.InstanceID(base[idx+1:]), true
}
