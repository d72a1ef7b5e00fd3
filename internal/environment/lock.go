package environment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fpp-125/docbot/internal/manifest"
)

// Lock is written into the environment after a successful provisioning run.
// It lives inside the environment directory so it disappears with it.
type Lock struct {
	SchemaVersion  int                `json:"schemaVersion"`
	ManifestDigest string             `json:"manifestDigest"`
	Packages       []manifest.Package `json:"packages"`
	RunID          string             `json:"runId,omitempty"`
	InstalledAtUTC string             `json:"installedAtUtc"`
}

const LockFilename = "docbot.lock.json"

func (h Handle) LockPath() string {
	return filepath.Join(h.Dir, LockFilename)
}

func (h Handle) LoadLock() (Lock, error) {
	path := h.LockPath()
	b, err := os.ReadFile(path)
	if err != nil {
		return Lock{}, err
	}
	var l Lock
	if err := json.Unmarshal(b, &l); err != nil {
		return Lock{}, fmt.Errorf("parse lock: %w", err)
	}
	if l.SchemaVersion == 0 {
		l.SchemaVersion = 1
	}
	if l.SchemaVersion != 1 {
		return Lock{}, fmt.Errorf("unsupported lock schemaVersion %d", l.SchemaVersion)
	}
	if l.ManifestDigest == "" {
		return Lock{}, fmt.Errorf("lock manifestDigest is required (%s)", path)
	}
	return l, nil
}

func (h Handle) WriteLock(lock Lock) error {
	if lock.SchemaVersion == 0 {
		lock.SchemaVersion = 1
	}
	if lock.InstalledAtUTC == "" {
		lock.InstalledAtUTC = time.Now().UTC().Format(time.RFC3339)
	}
	if !h.Exists() {
		return fmt.Errorf("environment %s does not exist", h.Dir)
	}
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	path := h.LockPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write lock temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}
