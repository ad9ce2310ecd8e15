package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/models"
	"github.com/solstice-ai/warden/internal/orchestrator"
	"github.com/solstice-ai/warden/internal/store"
)

// Stable check ids. The recovery engine keys its action table on these.
const (
	CheckCPUUsage         = "cpu_usage"
	CheckMemoryUsage      = "memory_usage"
	CheckDiskSpace        = "disk_space"
	CheckBackendProcess   = "backend_process"
	CheckFrontendProcess  = "frontend_process"
	CheckProxyActive      = "proxy_active"
	CheckBackendEndpoint  = "backend_endpoint"
	CheckFrontendEndpoint = "frontend_endpoint"
	CheckConnectivity     = "outbound_connectivity"
	CheckDatastoreFile    = "datastore_file"
	CheckDatastoreIntact  = "datastore_integrity"
	CheckEnvFile          = "env_file"
	CheckEnvPermissions   = "env_permissions"
	CheckBackupsRecent    = "backups_recent"
)

const connectivityTimeout = 5 * time.Second

// Scorer runs the read-only check battery. Every dependency is an
// interface or a path so the battery itself never mutates system state and
// tests can substitute fakes; this is what lets the recovery engine score
// before and after remediation safely.
type Scorer struct {
	cfg       config.Config
	descs     []models.ServiceDescriptor
	pm        orchestrator.ProcessManagerClient
	sys       orchestrator.SystemServiceClient
	probe     orchestrator.Prober
	resources ResourceReader
	cuts      Thresholds

	// ConnectivityURL is probed for the outbound connectivity check.
	ConnectivityURL string
}

func NewScorer(cfg config.Config, descs []models.ServiceDescriptor, pm orchestrator.ProcessManagerClient, sys orchestrator.SystemServiceClient, probe orchestrator.Prober) *Scorer {
	return &Scorer{
		cfg:             cfg,
		descs:           descs,
		pm:              pm,
		sys:             sys,
		probe:           probe,
		resources:       GopsutilReader{},
		cuts:            DefaultThresholds(),
		ConnectivityURL: "https://www.google.com/generate_204",
	}
}

// SetResources replaces the resource reader; used by tests.
func (s *Scorer) SetResources(r ResourceReader) { s.resources = r }

// SetThresholds overrides the status cut points.
func (s *Scorer) SetThresholds(t Thresholds) { s.cuts = t }

// Run executes the ordered battery and reduces it to a report. A failing
// probe or unreadable resource is a failed check, never an error of the
// run itself.
func (s *Scorer) Run(ctx context.Context) Report {
	var checks []Check

	checks = append(checks, s.resourceChecks()...)
	checks = append(checks, s.processChecks()...)
	checks = append(checks, s.networkChecks(ctx)...)
	checks = append(checks, s.datastoreChecks()...)
	checks = append(checks, s.configChecks()...)
	checks = append(checks, s.securityChecks()...)

	return Compute(checks, time.Now(), s.cuts)
}

func (s *Scorer) resourceChecks() []Check {
	return []Check{
		gaugeCheck(CheckCPUUsage, CategoryResource, WeightImportant, s.resources.CPUPercent, s.cfg.CPUThreshold),
		gaugeCheck(CheckMemoryUsage, CategoryResource, WeightImportant, s.resources.MemoryPercent, s.cfg.MemThreshold),
		gaugeCheck(CheckDiskSpace, CategoryResource, WeightCritical, func() (float64, error) {
			return s.resources.DiskPercent(s.cfg.ProjectRoot)
		}, s.cfg.DiskThreshold),
	}
}

func gaugeCheck(id string, cat Category, w Weight, read func() (float64, error), threshold float64) Check {
	check := Check{
		ID:        id,
		Category:  cat,
		Weight:    w,
		Threshold: fmt.Sprintf("%.0f%%", threshold),
	}
	value, err := read()
	if err != nil {
		check.Value = "unreadable"
		return check
	}
	check.Value = fmt.Sprintf("%.1f%%", value)
	check.Passed = value < threshold
	return check
}

func (s *Scorer) processChecks() []Check {
	running := map[string]bool{}
	listed, err := s.pm.List()
	if err == nil {
		for _, svc := range listed {
			running[svc.Name] = svc.State == models.StateRunning
		}
	}

	var checks []Check
	for _, desc := range s.descs {
		id := CheckBackendProcess
		weight := WeightCritical
		if strings.Contains(desc.Name, "frontend") {
			id = CheckFrontendProcess
			weight = WeightImportant
		}
		checks = append(checks, Check{
			ID:       id,
			Category: CategoryProcess,
			Weight:   weight,
			Passed:   running[desc.Name],
			Value:    boolValue(running[desc.Name], "running", "not running"),
		})
	}

	proxyActive := false
	if active, err := s.sys.IsActive("nginx"); err == nil {
		proxyActive = active
	}
	checks = append(checks, Check{
		ID:       CheckProxyActive,
		Category: CategoryProcess,
		Weight:   WeightImportant,
		Passed:   proxyActive,
		Value:    boolValue(proxyActive, "active", "inactive"),
	})
	return checks
}

func (s *Scorer) networkChecks(ctx context.Context) []Check {
	var checks []Check
	for _, desc := range s.descs {
		id := CheckBackendEndpoint
		weight := WeightCritical
		if strings.Contains(desc.Name, "frontend") {
			id = CheckFrontendEndpoint
			weight = WeightImportant
		}

		res := s.probe.Check(desc.HealthURL(s.cfg.BackendHost))
		value := "unreachable"
		if res.Healthy {
			value = fmt.Sprintf("%dms", res.Latency.Milliseconds())
		}
		checks = append(checks, Check{
			ID:       id,
			Category: CategoryNetwork,
			Weight:   weight,
			Passed:   res.Healthy,
			Value:    value,
		})
	}

	checks = append(checks, s.connectivityCheck(ctx))
	return checks
}

func (s *Scorer) connectivityCheck(ctx context.Context) Check {
	check := Check{
		ID:       CheckConnectivity,
		Category: CategoryNetwork,
		Weight:   WeightInformational,
		Value:    "offline",
	}

	reqCtx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.ConnectivityURL, nil)
	if err != nil {
		return check
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return check
	}
	resp.Body.Close()

	check.Passed = resp.StatusCode < 500
	if check.Passed {
		check.Value = "online"
	}
	return check
}

func (s *Scorer) datastoreChecks() []Check {
	fileCheck := Check{
		ID:       CheckDatastoreFile,
		Category: CategoryDatastore,
		Weight:   WeightCritical,
		Value:    "missing",
	}
	intactCheck := Check{
		ID:       CheckDatastoreIntact,
		Category: CategoryDatastore,
		Weight:   WeightCritical,
		Value:    "not checked",
	}

	info, err := os.Stat(s.cfg.DatabasePath)
	if err != nil {
		return []Check{fileCheck, intactCheck}
	}
	fileCheck.Passed = true
	fileCheck.Value = fmt.Sprintf("%d bytes", info.Size())

	if err := store.IntegrityCheck(s.cfg.DatabasePath); err != nil {
		intactCheck.Value = err.Error()
	} else {
		intactCheck.Passed = true
		intactCheck.Value = "ok"
	}
	return []Check{fileCheck, intactCheck}
}

func (s *Scorer) configChecks() []Check {
	envPath := filepath.Join(s.cfg.ProjectRoot, ".env")
	_, err := os.Stat(envPath)
	return []Check{{
		ID:       CheckEnvFile,
		Category: CategoryConfig,
		Weight:   WeightImportant,
		Passed:   err == nil,
		Value:    boolValue(err == nil, "present", "missing"),
	}}
}

func (s *Scorer) securityChecks() []Check {
	envPath := filepath.Join(s.cfg.ProjectRoot, ".env")
	permCheck := Check{
		ID:        CheckEnvPermissions,
		Category:  CategorySecurity,
		Weight:    WeightImportant,
		Threshold: "0600",
	}
	if info, err := os.Stat(envPath); err == nil {
		perm := info.Mode().Perm()
		permCheck.Value = fmt.Sprintf("%04o", perm)
		permCheck.Passed = perm&0044 == 0
	} else {
		permCheck.Value = "missing"
	}

	recentCheck := Check{
		ID:       CheckBackupsRecent,
		Category: CategorySecurity,
		Weight:   WeightInformational,
		Value:    "none",
	}
	cutoff := time.Now().Add(-48 * time.Hour)
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err == nil {
		for _, e := range entries {
			if !strings.HasPrefix(e.Name(), "manifest-") {
				continue
			}
			if info, err := e.Info(); err == nil && info.ModTime().After(cutoff) {
				recentCheck.Passed = true
				recentCheck.Value = e.Name()
				break
			}
		}
	}

	return []Check{permCheck, recentCheck}
}

func boolValue(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
