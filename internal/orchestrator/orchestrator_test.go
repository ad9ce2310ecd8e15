package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/solstice-ai/warden/internal/models"
)

type fakePM struct {
	procs      map[string]models.ServiceState
	startCalls int
	stopCalls  int
	listErr    error
}

func newFakePM() *fakePM {
	return &fakePM{procs: make(map[string]models.ServiceState)}
}

func (f *fakePM) List() ([]models.ServiceStatus, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.ServiceStatus
	for name, state := range f.procs {
		out = append(out, models.ServiceStatus{Name: name, State: state})
	}
	return out, nil
}

func (f *fakePM) Start(desc models.ServiceDescriptor) error {
	f.startCalls++
	f.procs[desc.Name] = models.StateRunning
	return nil
}

func (f *fakePM) Stop(name string) error {
	f.stopCalls++
	delete(f.procs, name)
	return nil
}

func (f *fakePM) Restart(name string) error {
	f.procs[name] = models.StateRunning
	return nil
}

type fakeSys struct {
	active   bool
	reloads  int
	restarts int
}

func (f *fakeSys) IsActive(name string) (bool, error) { return f.active, nil }
func (f *fakeSys) Reload(name string) error           { f.reloads++; return nil }
func (f *fakeSys) Restart(name string) error          { f.restarts++; f.active = true; return nil }

// fakeProber reports healthy after failCount failed probes.
type fakeProber struct {
	failCount int
	calls     int
}

func (f *fakeProber) Check(url string) ProbeResult {
	f.calls++
	if f.calls <= f.failCount {
		return ProbeResult{}
	}
	return ProbeResult{Healthy: true, Status: "healthy"}
}

func instantBackOff() func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
	}
}

func testDescriptor() models.ServiceDescriptor {
	return models.ServiceDescriptor{
		Name:            "agent-backend",
		StartCommand:    "./bin/agentd",
		ListenPort:      8000,
		HealthCheckPath: "/health",
	}
}

func newTestOrchestrator(pm *fakePM, probe Prober) (*Orchestrator, *fakeSys) {
	sys := &fakeSys{active: true}
	o := New(pm, sys, probe, "127.0.0.1")
	o.SetBackOff(instantBackOff())
	return o, sys
}

func TestStartIdempotent(t *testing.T) {
	pm := newFakePM()
	o, _ := newTestOrchestrator(pm, &fakeProber{})

	first, err := o.Start(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.State != models.StateRunning || first.Outcome != models.OutcomeSuccess {
		t.Fatalf("first start result: %+v", first)
	}

	second, err := o.Start(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.State != models.StateRunning || second.Outcome != models.OutcomeSuccess {
		t.Fatalf("second start result: %+v", second)
	}
	if second.Detail != "already running" {
		t.Errorf("expected no-op detail, got %q", second.Detail)
	}
	if pm.startCalls != 1 {
		t.Errorf("expected exactly 1 process spawn, got %d", pm.startCalls)
	}
}

func TestStartWaitsThroughTransientFailures(t *testing.T) {
	pm := newFakePM()
	probe := &fakeProber{failCount: 3}
	o, _ := newTestOrchestrator(pm, probe)

	result, err := o.Start(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success after transient probe failures, got %+v", result)
	}
	if probe.calls != 4 {
		t.Errorf("expected 4 probes, got %d", probe.calls)
	}
}

func TestStartTimeoutYieldsFailedNotError(t *testing.T) {
	pm := newFakePM()
	probe := &fakeProber{failCount: 100}
	o, _ := newTestOrchestrator(pm, probe)

	result, err := o.Start(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("start should not error on timeout: %v", err)
	}
	if result.Outcome != models.OutcomeFailed || result.State != models.StateFailed {
		t.Fatalf("expected failed outcome, got %+v", result)
	}
}

func TestStopAlwaysSucceedsLocally(t *testing.T) {
	pm := newFakePM()
	o, _ := newTestOrchestrator(pm, &fakeProber{})

	// Service was never started; stop must still succeed.
	result, err := o.Stop(testDescriptor())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.State != models.StateStopped || result.Outcome != models.OutcomeSuccess {
		t.Fatalf("stop result: %+v", result)
	}
}

func TestRestartIsStopThenStart(t *testing.T) {
	pm := newFakePM()
	o, _ := newTestOrchestrator(pm, &fakeProber{})

	if _, err := o.Start(context.Background(), testDescriptor()); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := o.Restart(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("restart result: %+v", result)
	}
	if pm.stopCalls != 1 || pm.startCalls != 2 {
		t.Errorf("expected stop then fresh start, stops=%d starts=%d", pm.stopCalls, pm.startCalls)
	}
}

func TestDeployPartialFailure(t *testing.T) {
	pm := newFakePM()
	// First service converges, second never does.
	probe := &flakyProber{healthyURLs: map[string]bool{
		"http://127.0.0.1:8000/health": true,
	}}
	o, sys := newTestOrchestrator(pm, probe)

	descs := []models.ServiceDescriptor{
		testDescriptor(),
		{Name: "agent-frontend", StartCommand: "npx serve", ListenPort: 3000, HealthCheckPath: "/"},
	}

	result, err := o.Deploy(context.Background(), descs)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("expected degraded deploy outcome, got %s", result.Outcome)
	}
	if result.Services[0].Outcome != models.OutcomeSuccess {
		t.Errorf("backend should have converged: %+v", result.Services[0])
	}
	if result.Services[1].Outcome != models.OutcomeFailed {
		t.Errorf("frontend should have failed: %+v", result.Services[1])
	}
	if sys.reloads != 1 {
		t.Errorf("proxy should still be reloaded, reloads=%d", sys.reloads)
	}
}

type flakyProber struct {
	healthyURLs map[string]bool
}

func (f *flakyProber) Check(url string) ProbeResult {
	return ProbeResult{Healthy: f.healthyURLs[url]}
}

func TestDeployRestartsInactiveProxy(t *testing.T) {
	pm := newFakePM()
	o, sys := newTestOrchestrator(pm, &fakeProber{})
	sys.active = false

	if _, err := o.Deploy(context.Background(), []models.ServiceDescriptor{testDescriptor()}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if sys.restarts != 1 || sys.reloads != 0 {
		t.Errorf("expected restart of inactive proxy, restarts=%d reloads=%d", sys.restarts, sys.reloads)
	}
}

func TestStatusIncludesUnknownServices(t *testing.T) {
	pm := newFakePM()
	pm.procs["agent-backend"] = models.StateRunning
	o, _ := newTestOrchestrator(pm, &fakeProber{})

	statuses, err := o.Status([]models.ServiceDescriptor{
		testDescriptor(),
		{Name: "agent-frontend"},
	})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].State != models.StateRunning {
		t.Errorf("backend state = %s", statuses[0].State)
	}
	if statuses[1].State != models.StateStopped {
		t.Errorf("never-started frontend should report stopped, got %s", statuses[1].State)
	}
}

func TestStatusPropagatesManagerError(t *testing.T) {
	pm := newFakePM()
	pm.listErr = fmt.Errorf("pm2 not installed")
	o, _ := newTestOrchestrator(pm, &fakeProber{})

	if _, err := o.Status(nil); err == nil {
		t.Fatal("expected error when process manager is unusable")
	}
}

func TestPM2StateMapping(t *testing.T) {
	cases := map[string]models.ServiceState{
		"online":    models.StateRunning,
		"launching": models.StateStarting,
		"errored":   models.StateFailed,
		"stopped":   models.StateStopped,
		"weird":     models.StateStopped,
	}
	for in, want := range cases {
		if got := pm2State(in); got != want {
			t.Errorf("pm2State(%q) = %s, want %s", in, got, want)
		}
	}
}
