package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/solstice-ai/warden/internal/backup"
	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/health"
	"github.com/solstice-ai/warden/internal/hostinfo"
	"github.com/solstice-ai/warden/internal/models"
	"github.com/solstice-ai/warden/internal/orchestrator"
	"github.com/solstice-ai/warden/internal/recovery"
	"github.com/solstice-ai/warden/internal/store"
)

// fakePM is an in-memory process table standing in for the external process
// manager.
type fakePM struct {
	running map[string]bool
}

func (f *fakePM) List() ([]models.ServiceStatus, error) {
	var statuses []models.ServiceStatus
	for name, up := range f.running {
		state := models.StateStopped
		if up {
			state = models.StateRunning
		}
		statuses = append(statuses, models.ServiceStatus{Name: name, State: state, PID: 100})
	}
	return statuses, nil
}

func (f *fakePM) Start(desc models.ServiceDescriptor) error {
	f.running[desc.Name] = true
	return nil
}

func (f *fakePM) Stop(name string) error {
	delete(f.running, name)
	return nil
}

func (f *fakePM) Restart(name string) error {
	f.running[name] = true
	return nil
}

type fakeSys struct {
	active bool
}

func (f *fakeSys) IsActive(string) (bool, error) { return f.active, nil }
func (f *fakeSys) Reload(string) error           { return nil }
func (f *fakeSys) Restart(string) error          { f.active = true; return nil }

// pmProber reports an endpoint healthy exactly when its service is running
// in the process table.
type pmProber struct {
	pm          *fakePM
	backendPort int
}

func (p *pmProber) Check(url string) orchestrator.ProbeResult {
	name := "agent-frontend"
	if strings.Contains(url, fmt.Sprintf(":%d", p.backendPort)) {
		name = "agent-backend"
	}
	return orchestrator.ProbeResult{Healthy: p.pm.running[name], Status: "healthy"}
}

type fixedResources struct{}

func (fixedResources) CPUPercent() (float64, error)        { return 15, nil }
func (fixedResources) MemoryPercent() (float64, error)     { return 40, nil }
func (fixedResources) DiskPercent(string) (float64, error) { return 30, nil }

func instantBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
}

// TestFullLifecycle walks the whole operational loop on a temp root:
// materialize the layout, deploy, back up, score, break the deployment,
// recover, and verify convergence.
func TestFullLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}

	root := t.TempDir()
	profile := hostinfo.Profile{
		Provider:    hostinfo.ProviderLocal,
		OSFamily:    "debian",
		CurrentUser: "tester",
		Hostname:    "e2e-host",
		ProjectRoot: root,
		DetectedAt:  time.Now(),
	}
	cfg := config.Config{
		ProjectRoot:   root,
		BackendHost:   "127.0.0.1",
		BackendPort:   8000,
		FrontendPort:  3000,
		DatabasePath:  root + "/data/agent.db",
		LogDir:        root + "/logs",
		DataDir:       root + "/data",
		BackupDir:     root + "/backups",
		LockDir:       root + "/locks",
		ConfigDir:     root + "/config",
		RetentionDays: 7,
		CPUThreshold:  90,
		MemThreshold:  90,
		DiskThreshold: 85,
	}

	// Materialize the deployment layout.
	mat := config.NewMaterializer(profile, hostinfo.StrategyFor(profile.Provider), cfg)
	renderResult, err := mat.Render(false)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if renderResult.Outcome != models.OutcomeSuccess {
		t.Fatalf("materialize outcome = %s", renderResult.Outcome)
	}
	descs := mat.Descriptors()

	if err := os.WriteFile(cfg.LogDir+"/warden.log", []byte("deploy started\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	// Seed the datastore the backend would create on first boot.
	db, err := store.NewDB(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("create datastore: %v", err)
	}
	if err := db.LogConversation(&store.Conversation{
		SessionID: "e2e", Timestamp: time.Now(), UserMessage: "ping",
		AssistantResponse: "pong", ModelUsed: "test", Success: true,
	}); err != nil {
		t.Fatalf("seed datastore: %v", err)
	}
	db.Close()

	// Deploy everything through a fake process table.
	pm := &fakePM{running: map[string]bool{}}
	sys := &fakeSys{}
	probe := &pmProber{pm: pm, backendPort: cfg.BackendPort}

	orch := orchestrator.New(pm, sys, probe, cfg.BackendHost)
	orch.SetBackOff(instantBackOff)

	deploy, err := orch.Deploy(context.Background(), descs)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if deploy.Outcome != models.OutcomeSuccess {
		t.Fatalf("deploy outcome = %s: %+v", deploy.Outcome, deploy.Services)
	}
	if !sys.active {
		t.Fatal("deploy should bring up the reverse proxy")
	}

	// A validated backup set, so the recency check has something to find.
	backups := backup.NewManager(cfg, profile)
	set, err := backups.Create()
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if set.Outcome != models.OutcomeSuccess {
		t.Fatalf("backup outcome = %s: %+v", set.Outcome, set.Components)
	}

	connectivity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer connectivity.Close()

	scorer := health.NewScorer(cfg, descs, pm, sys, probe)
	scorer.SetResources(fixedResources{})
	scorer.ConnectivityURL = connectivity.URL

	report := scorer.Run(context.Background())
	if report.Score != 100.0 {
		t.Fatalf("healthy deployment score = %.1f, failing = %v", report.Score, report.FailingChecks())
	}

	// Break the deployment: backend down, proxy inactive.
	pm.Stop("agent-backend")
	sys.active = false

	broken := scorer.Run(context.Background())
	if broken.Score >= report.Score {
		t.Fatalf("broken deployment should score lower, got %.1f", broken.Score)
	}

	deps := recovery.Deps{
		Orchestrator: orch,
		System:       sys,
		Descriptors:  descs,
		Config:       cfg,
		PruneBackups: func() error { _, err := backups.Prune(); return err },
		RenderConfig: func() error { _, err := mat.Render(false); return err },
	}
	engine := recovery.NewEngine(scorer, recovery.DefaultActions(deps))
	engine.SetSleep(func(time.Duration) {})

	result := engine.Run(context.Background(), broken)
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("recovery outcome = %s: unresolved=%v failed=%v unmapped=%v",
			result.Outcome, result.Unresolved, result.RecoveryFailed, result.Unmapped)
	}
	if result.ScoreAfter != 100.0 {
		t.Errorf("post-recovery score = %.1f", result.ScoreAfter)
	}
	if !pm.running["agent-backend"] {
		t.Error("recovery should have restarted the backend")
	}
	if !sys.active {
		t.Error("recovery should have restarted the reverse proxy")
	}

	// Restore the datastore from the earlier set and confirm the data
	// survived the trip.
	restore, err := backups.Restore(set.ID, backup.ComponentDatastore)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restore.Outcome != models.OutcomeSuccess {
		t.Fatalf("restore outcome = %s: %+v", restore.Outcome, restore.Components)
	}

	db, err = store.NewDB(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("reopen datastore: %v", err)
	}
	defer db.Close()
	turns, err := db.SessionHistory("e2e", 10)
	if err != nil {
		t.Fatalf("history after restore: %v", err)
	}
	if len(turns) != 1 || turns[0].AssistantResponse != "pong" {
		t.Errorf("restored history = %+v", turns)
	}
}
