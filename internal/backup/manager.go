package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/hostinfo"
	"github.com/solstice-ai/warden/internal/locker"
	"github.com/solstice-ai/warden/internal/models"
	"github.com/solstice-ai/warden/internal/store"
)

// All backup-directory mutators share one lock: a prune that ran while a
// restore was reading the same artifacts would delete them out from under
// it, so create, restore and prune serialize against each other, not just
// against themselves.
const lockName = "backup"

type Component string

const (
	ComponentDatastore Component = "datastore"
	ComponentConfig    Component = "config"
	ComponentCode      Component = "code"
	ComponentLogs      Component = "logs"
	ComponentHostInfo  Component = "hostinfo"
)

// Components in creation order.
var allComponents = []Component{
	ComponentDatastore, ComponentConfig, ComponentCode, ComponentLogs, ComponentHostInfo,
}

// ComponentResult records one component's artifact and whether it passed
// validation. A component is only counted valid after its artifact has been
// verified in place, not merely written.
type ComponentResult struct {
	Component Component `json:"component"`
	Path      string    `json:"path,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	Valid     bool      `json:"valid"`
	Error     string    `json:"error,omitempty"`
}

// Set is one backup set. The manifest on disk is written only after every
// component has been produced and validated (or recorded as failed), so any
// set with a manifest is restorable to at least its valid components.
type Set struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Components []ComponentResult `json:"components"`
	Outcome    models.Outcome    `json:"outcome"`
}

func (s *Set) component(c Component) *ComponentResult {
	for i := range s.Components {
		if s.Components[i].Component == c {
			return &s.Components[i]
		}
	}
	return nil
}

// FailedComponents lists the components that did not validate.
func (s *Set) FailedComponents() []Component {
	var failed []Component
	for _, c := range s.Components {
		if !c.Valid {
			failed = append(failed, c.Component)
		}
	}
	return failed
}

type Manager struct {
	cfg     config.Config
	profile hostinfo.Profile
	locks   *locker.Locker

	// now is swapped in retention tests.
	now func() time.Time
}

func NewManager(cfg config.Config, profile hostinfo.Profile) *Manager {
	return &Manager{cfg: cfg, profile: profile, locks: locker.New(cfg.LockDir), now: time.Now}
}

// Create produces one backup set. Component failures are isolated: one
// component failing degrades the set to partial without aborting the
// others. The manifest is written last. A concurrent backup, restore or
// prune yields locker.ErrBusy.
func (m *Manager) Create() (*Set, error) {
	release, err := m.locks.Acquire(lockName)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := os.MkdirAll(m.cfg.BackupDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	set := &Set{
		ID:        m.now().Format("20060102-150405"),
		CreatedAt: m.now(),
		Outcome:   models.OutcomeSuccess,
	}

	for _, component := range allComponents {
		result := m.createComponent(set.ID, component)
		set.Components = append(set.Components, result)
		if !result.Valid {
			set.Outcome = models.OutcomePartial
		}
	}

	if err := m.writeManifest(set); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return set, nil
}

func (m *Manager) createComponent(id string, component Component) ComponentResult {
	result := ComponentResult{Component: component}

	var path string
	var err error
	switch component {
	case ComponentDatastore:
		path, err = m.backupDatastore(id)
	case ComponentConfig:
		path, err = m.backupArchive(id, component, []string{
			filepath.Join(m.cfg.ProjectRoot, ".env"),
			m.cfg.ConfigDir,
		}, nil)
	case ComponentCode:
		path, err = m.backupArchive(id, component, []string{m.cfg.ProjectRoot}, []string{
			relOrSelf(m.cfg.ProjectRoot, m.cfg.BackupDir),
			relOrSelf(m.cfg.ProjectRoot, m.cfg.DataDir),
			relOrSelf(m.cfg.ProjectRoot, m.cfg.LogDir),
			relOrSelf(m.cfg.ProjectRoot, m.cfg.LockDir),
			"node_modules",
		})
	case ComponentLogs:
		path, err = m.backupArchive(id, component, []string{m.cfg.LogDir}, nil)
	case ComponentHostInfo:
		path, err = m.backupHostInfo(id)
	}

	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Path = path
	if info, statErr := os.Stat(path); statErr == nil {
		result.SizeBytes = info.Size()
	}
	sum, sumErr := fileSHA256(path)
	if sumErr != nil {
		result.Error = fmt.Sprintf("checksum: %v", sumErr)
		return result
	}
	result.SHA256 = sum
	result.Valid = true
	return result
}

// backupDatastore writes a consistent copy via the datastore's own backup
// mechanism, then validates the copy with a logical integrity check. A bare
// file copy would not detect page-level corruption.
func (m *Manager) backupDatastore(id string) (string, error) {
	if _, err := os.Stat(m.cfg.DatabasePath); err != nil {
		return "", fmt.Errorf("datastore missing: %w", err)
	}
	if err := store.IntegrityCheck(m.cfg.DatabasePath); err != nil {
		return "", fmt.Errorf("live datastore failed validation: %w", err)
	}

	db, err := store.NewDB(m.cfg.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("open datastore: %w", err)
	}
	defer db.Close()

	dst := filepath.Join(m.cfg.BackupDir, fmt.Sprintf("%s-datastore.db", id))
	if err := db.VacuumInto(dst); err != nil {
		return "", err
	}
	if err := store.IntegrityCheck(dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("backup copy failed validation: %w", err)
	}
	return dst, nil
}

func (m *Manager) backupArchive(id string, component Component, paths []string, exclude []string) (string, error) {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return "", fmt.Errorf("no source paths exist")
	}

	dst := filepath.Join(m.cfg.BackupDir, fmt.Sprintf("%s-%s.tar.gz", id, component))
	if err := writeTarGz(dst, m.cfg.ProjectRoot, existing, exclude); err != nil {
		os.Remove(dst)
		return "", err
	}
	if _, err := listTarGz(dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("archive failed validation: %w", err)
	}
	return dst, nil
}

func (m *Manager) backupHostInfo(id string) (string, error) {
	data, err := json.MarshalIndent(m.profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal host profile: %w", err)
	}

	dst := filepath.Join(m.cfg.BackupDir, fmt.Sprintf("%s-hostinfo.json", id))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("write host snapshot: %w", err)
	}

	var check hostinfo.Profile
	raw, err := os.ReadFile(dst)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &check); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("snapshot failed validation: %w", err)
	}
	return dst, nil
}

// RestoreResult mirrors ComponentResult for the restore direction.
type RestoreResult struct {
	SetID      string            `json:"set_id"`
	Components []ComponentResult `json:"components"`
	Outcome    models.Outcome    `json:"outcome"`
}

// Restore brings back the named components from a set (all restorable
// components when none are named). Components whose manifest entry is
// invalid are refused explicitly while the rest are still restored. The
// live datastore is always snapshotted aside before being overwritten.
// A concurrent backup, restore or prune yields locker.ErrBusy.
func (m *Manager) Restore(id string, components ...Component) (*RestoreResult, error) {
	release, err := m.locks.Acquire(lockName)
	if err != nil {
		return nil, err
	}
	defer release()

	set, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	if len(components) == 0 {
		for _, c := range set.Components {
			if c.Component == ComponentHostInfo {
				continue // informational snapshot, nothing to restore
			}
			components = append(components, c.Component)
		}
	}

	result := &RestoreResult{SetID: id, Outcome: models.OutcomeSuccess}
	for _, component := range components {
		cr := m.restoreComponent(set, component)
		result.Components = append(result.Components, cr)
		if !cr.Valid {
			result.Outcome = models.OutcomePartial
		}
	}
	return result, nil
}

func (m *Manager) restoreComponent(set *Set, component Component) ComponentResult {
	result := ComponentResult{Component: component}

	entry := set.component(component)
	if entry == nil {
		result.Error = "component not present in backup set"
		return result
	}
	if !entry.Valid {
		result.Error = fmt.Sprintf("refusing restore: component %s was not validated in set %s", component, set.ID)
		return result
	}

	sum, err := fileSHA256(entry.Path)
	if err != nil {
		result.Error = fmt.Sprintf("artifact unreadable: %v", err)
		return result
	}
	if sum != entry.SHA256 {
		result.Error = "artifact checksum mismatch with manifest"
		return result
	}

	switch component {
	case ComponentDatastore:
		err = m.restoreDatastore(entry.Path)
	case ComponentConfig, ComponentCode, ComponentLogs:
		err = extractTarGz(entry.Path, m.cfg.ProjectRoot)
	default:
		err = fmt.Errorf("component %s is not restorable", component)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Path = entry.Path
	result.Valid = true
	return result
}

// restoreDatastore snapshots the current (possibly corrupt) datastore
// aside before overwriting, so a failed restore is itself recoverable.
func (m *Manager) restoreDatastore(artifact string) error {
	if _, err := os.Stat(m.cfg.DatabasePath); err == nil {
		aside := fmt.Sprintf("%s.pre-restore-%s", m.cfg.DatabasePath, m.now().Format("20060102-150405"))
		if err := copyFile(m.cfg.DatabasePath, aside); err != nil {
			return fmt.Errorf("snapshot current datastore aside: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.DatabasePath), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := copyFile(artifact, m.cfg.DatabasePath); err != nil {
		return fmt.Errorf("restore datastore: %w", err)
	}
	if err := store.IntegrityCheck(m.cfg.DatabasePath); err != nil {
		return fmt.Errorf("restored datastore failed validation: %w", err)
	}
	return nil
}

// PruneResult reports one retention pass.
type PruneResult struct {
	Removed []string `json:"removed"`
	Kept    int      `json:"kept"`
}

// Prune deletes backup artifacts and manifests strictly older than the
// retention window, evaluated independently per file. While a backup or
// restore holds the shared lock, Prune yields locker.ErrBusy instead of
// deleting artifacts the other operation may be reading.
func (m *Manager) Prune() (*PruneResult, error) {
	release, err := m.locks.Acquire(lockName)
	if err != nil {
		return nil, err
	}
	defer release()

	cutoff := m.now().AddDate(0, 0, -m.cfg.RetentionDays)

	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &PruneResult{}, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	result := &PruneResult{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			result.Kept++
			continue
		}
		path := filepath.Join(m.cfg.BackupDir, entry.Name())
		if err := os.Remove(path); err != nil {
			return result, fmt.Errorf("remove %s: %w", path, err)
		}
		result.Removed = append(result.Removed, entry.Name())
	}
	return result, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func relOrSelf(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
