package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"github.com/notecove/sync/internal/engine"
	"github.com/notecove/sync/internal/types"
)

// localIdentity is the on-disk form of this device's profile/instance
// identity, persisted independently of any storage directory: a device
// may register several SDs but must present the same instance id to all
// of them, since internal/notestore.Store.recoverLocked resumes sequence
// numbering by scanning for this instance's own log files.
type localIdentity struct {
	ProfileID   string `json:"profileId"`
	InstanceID  string `json:"instanceId"`
	ProfileName string `json:"profileName"`
	Username    string `json:"username"`
	Handle      string `json:"handle"`
}

func identityPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}
	return filepath.Join(home, ".notecove", "identity.json"), nil
}

// loadOrCreateIdentity reads this device's identity file, creating it
// with a fresh instance id (and the given profile name) on first run. It
// mirrors internal/sdid.EnsureSDID's create-on-first-use shape, just
// scoped to a per-device file rather than a per-SD one.
func loadOrCreateIdentity(profile, profileName, username, handle string) (engine.Identity, error) {
	path, err := identityPath()
	if err != nil {
		return engine.Identity{}, err
	}

	var li localIdentity
	data, err := os.ReadFile(path)
	if err == nil {
		if jerr := json.Unmarshal(data, &li); jerr != nil {
			return engine.Identity{}, fmt.Errorf("identity: parse %s: %w", path, jerr)
		}
	} else {
		if !os.IsNotExist(err) {
			return engine.Identity{}, fmt.Errorf("identity: read %s: %w", path, err)
		}
		li = localIdentity{
			ProfileID:  profile,
			InstanceID: uuid.NewString(),
		}
	}

	if profile != "" {
		li.ProfileID = profile
	}
	if profileName != "" {
		li.ProfileName = profileName
	}
	if username != "" {
		li.Username = username
	}
	if handle != "" {
		li.Handle = handle
	}
	if li.ProfileID == "" {
		li.ProfileID = "default"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engine.Identity{}, fmt.Errorf("identity: mkdir: %w", err)
	}
	out, err := json.MarshalIndent(li, "", "  ")
	if err != nil {
		return engine.Identity{}, fmt.Errorf("identity: marshal: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return engine.Identity{}, fmt.Errorf("identity: write %s: %w", path, err)
	}

	hostname, _ := os.Hostname()
	return engine.Identity{
		Profile:     types.ProfileID(li.ProfileID),
		Instance:    types.InstanceID(li.InstanceID),
		ProfileName: li.ProfileName,
		Username:    li.Username,
		Handle:      li.Handle,
		Hostname:    hostname,
		Platform:    runtime.GOOS,
	}, nil
}
