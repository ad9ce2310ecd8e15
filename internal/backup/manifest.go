package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// The manifest is the commit point of a backup set: it is written once,
// after every component artifact exists and has been validated or recorded
// as failed. Artifacts without a manifest are leftovers from an interrupted
// run and are never restored from.

// Manifests carry JSON in a .txt file so an operator can read them with
// anything.
func manifestPath(dir, id string) string {
	return filepath.Join(dir, fmt.Sprintf("manifest-%s.txt", id))
}

func (m *Manager) writeManifest(set *Set) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath(m.cfg.BackupDir, set.ID), data, 0644)
}

// Get loads one set's manifest by ID.
func (m *Manager) Get(id string) (*Set, error) {
	raw, err := os.ReadFile(manifestPath(m.cfg.BackupDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup set %s not found", id)
		}
		return nil, fmt.Errorf("read manifest for %s: %w", id, err)
	}

	var set Set
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", id, err)
	}
	return &set, nil
}

// List returns all sets with a manifest, newest first. Sets whose manifest
// cannot be parsed are skipped rather than failing the listing.
func (m *Manager) List() ([]*Set, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var sets []*Set
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "manifest-") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "manifest-"), ".txt")
		set, err := m.Get(id)
		if err != nil {
			continue
		}
		sets = append(sets, set)
	}

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].CreatedAt.After(sets[j].CreatedAt)
	})
	return sets, nil
}
