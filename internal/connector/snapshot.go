package connector

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/google/renameio/v2"
)

// snapshotFileMode is the permission mode for the registry state file.
const snapshotFileMode = 0644

// Snapshot is the persisted form of the driver registry.
type Snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Drivers []Driver  `json:"drivers"`
}

// Snapshot returns the current registry, sorted by label.
func (c *Connector) Snapshot() Snapshot {
	c.mu.RLock()
	drivers := slices.Collect(maps.Values(c.drivers))
	c.mu.RUnlock()

	slices.SortFunc(drivers, func(a, b Driver) int { return cmp.Compare(a.Label, b.Label) })
	return Snapshot{SavedAt: time.Now().UTC(), Drivers: drivers}
}

// persist writes the registry to StatePath, replacing the file atomically.
func (c *Connector) persist() {
	if c.statePath == "" {
		return
	}
	if err := SaveSnapshot(c.statePath, c.Snapshot()); err != nil {
		c.logger.Warn("saving driver registry", "path", c.statePath, "error", err)
	}
}

// SaveSnapshot writes s to path atomically.
func SaveSnapshot(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), snapshotFileMode); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. A missing file
// yields an empty snapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return s, nil
}

// Restore starts every driver in the snapshot at StatePath that is not
// already registered. It returns the number started.
func (c *Connector) Restore() (int, error) {
	if c.statePath == "" {
		return 0, nil
	}
	s, err := LoadSnapshot(c.statePath)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, d := range s.Drivers {
		if d.Binary == "" || c.IsDriverRunning(d.key()) {
			continue
		}
		if c.StartDriver(d) {
			started++
		}
	}
	if started > 0 {
		c.logger.Info("restored drivers from snapshot", "count", started, "path", c.statePath)
	}
	return started, nil
}
