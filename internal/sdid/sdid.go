// Package sdid implements spec.md §4.10 C11: storage-directory identity
// bootstrap (SD_ID, SD_VERSION) and periodic profile presence
// heartbeats.
//
// Grounded on pkg/security/ca.go's create-on-first-use bootstrap pattern
// (check for an existing file, atomically create it if absent, adopt
// whatever wins the race) and google/uuid usage throughout the teacher
// (pkg/types/doc.go, pkg/api/server.go).
package sdid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/layout"
	"github.com/notecove/sync/internal/types"
)

// SchemaVersion is the SD_VERSION this build writes and the highest it
// will open. Opening a higher version than this is refused, per spec.md
// §4.10, since a newer build may have written a layout this one doesn't
// understand.
const SchemaVersion = 1

// EnsureSDID reads sd's SD_ID file, creating it if absent. On a race
// between two instances creating it concurrently, the loser detects this
// (WriteFileAtomic is last-writer-wins, so it re-reads after writing to
// confirm its own id survived) and adopts whichever id is actually on
// disk — both instances converge on one id either way.
func EnsureSDID(fs fsabs.FileSystem, sd string) (string, error) {
	path := layout.SDIDFile(sd)
	if data, err := fs.ReadFile(path); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	candidate := uuid.NewString()
	if err := fs.WriteFileAtomic(path, []byte(candidate+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("sdid: create %s: %w", path, err)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("sdid: re-read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// UnsupportedSchemaVersion means the SD's SD_VERSION is higher than this
// build knows how to open.
type UnsupportedSchemaVersion struct {
	Got, Max int
}

func (e *UnsupportedSchemaVersion) Error() string {
	return fmt.Sprintf("SD_VERSION %d is newer than the %d this build supports", e.Got, e.Max)
}

// EnsureSDVersion reads sd's SD_VERSION, creating it with SchemaVersion if
// absent, and refuses to proceed if the stored version exceeds
// SchemaVersion.
func EnsureSDVersion(fs fsabs.FileSystem, sd string) (int, error) {
	path := layout.SDVersionFile(sd)
	if data, err := fs.ReadFile(path); err == nil {
		v, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil {
			return 0, fmt.Errorf("sdid: malformed SD_VERSION %q: %w", data, perr)
		}
		if v > SchemaVersion {
			return 0, &UnsupportedSchemaVersion{Got: v, Max: SchemaVersion}
		}
		return v, nil
	}

	if err := fs.WriteFileAtomic(path, []byte(strconv.Itoa(SchemaVersion)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("sdid: create %s: %w", path, err)
	}
	return SchemaVersion, nil
}

// WritePresence writes the current presence heartbeat for profile,
// overwriting any previous one. Called on startup and every
// PRESENCE_INTERVAL.
func WritePresence(fs fsabs.FileSystem, clock fsabs.Clock, sd string, p types.ProfilePresence) error {
	p.LastSeen = clock.NowMillis()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sdid: marshal presence for %s: %w", p.ProfileID, err)
	}
	path := layout.ProfilesDir(sd) + "/" + layout.ProfileFilename(p.ProfileID)
	if err := fs.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("sdid: write presence %s: %w", path, err)
	}
	return nil
}

// ReadPresence reads one profile's presence file.
func ReadPresence(fs fsabs.FileSystem, sd string, profile types.ProfileID) (types.ProfilePresence, error) {
	path := layout.ProfilesDir(sd) + "/" + layout.ProfileFilename(profile)
	data, err := fs.ReadFile(path)
	if err != nil {
		return types.ProfilePresence{}, fmt.Errorf("sdid: read %s: %w", path, err)
	}
	var p types.ProfilePresence
	if err := json.Unmarshal(bytes.TrimSpace(data), &p); err != nil {
		return types.ProfilePresence{}, fmt.Errorf("sdid: parse %s: %w", path, err)
	}
	return p, nil
}

// ListPresences reads every profile presence file currently in sd.
func ListPresences(fs fsabs.FileSystem, sd string) ([]types.ProfilePresence, error) {
	dir := layout.ProfilesDir(sd)
	entries, err := fs.ListDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sdid: list %s: %w", dir, err)
	}
	var out []types.ProfilePresence
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(e.Name, ".json") {
			continue
		}
		profile := types.ProfileID(strings.TrimSuffix(e.Name, ".json"))
		p, err := ReadPresence(fs, sd, profile)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
