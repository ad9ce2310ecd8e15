package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/solstice-ai/warden/internal/models"
)

const (
	defaultDeployTimeout = 90 * time.Second
	proxyServiceName     = "nginx"
)

// Orchestrator starts, stops, restarts and polls the managed services via
// the process manager, and drives the reverse proxy through the OS service
// manager. It holds no state of its own; service state is whatever the
// process manager reports plus the health probe's verdict.
type Orchestrator struct {
	pm    ProcessManagerClient
	sys   SystemServiceClient
	probe Prober

	backendHost   string
	deployTimeout time.Duration

	// newBackOff builds the wait-for-healthy schedule; tests inject a
	// zero-interval schedule instead of sleeping.
	newBackOff func() backoff.BackOff
}

func New(pm ProcessManagerClient, sys SystemServiceClient, probe Prober, backendHost string) *Orchestrator {
	o := &Orchestrator{
		pm:            pm,
		sys:           sys,
		probe:         probe,
		backendHost:   backendHost,
		deployTimeout: defaultDeployTimeout,
	}
	o.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = o.deployTimeout
		return b
	}
	return o
}

// SetBackOff overrides the wait schedule. Used by tests and by callers that
// need a tighter deploy deadline.
func (o *Orchestrator) SetBackOff(f func() backoff.BackOff) {
	o.newBackOff = f
}

// ServiceResult is the typed outcome of one lifecycle operation on one
// service. A service that failed to converge is a result, not an error;
// errors are reserved for the process manager itself being unusable.
type ServiceResult struct {
	Service string
	State   models.ServiceState
	Outcome models.Outcome
	Detail  string
}

// Start brings one service up and waits for its health endpoint. Starting
// an already-running service is a no-op that reports the current state.
func (o *Orchestrator) Start(ctx context.Context, desc models.ServiceDescriptor) (ServiceResult, error) {
	current, err := o.stateOf(desc.Name)
	if err != nil {
		return ServiceResult{}, fmt.Errorf("query process manager: %w", err)
	}

	if current == models.StateRunning {
		return ServiceResult{
			Service: desc.Name,
			State:   models.StateRunning,
			Outcome: models.OutcomeSuccess,
			Detail:  "already running",
		}, nil
	}

	if err := o.pm.Start(desc); err != nil {
		return ServiceResult{
			Service: desc.Name,
			State:   models.StateFailed,
			Outcome: models.OutcomeFailed,
			Detail:  err.Error(),
		}, nil
	}

	return o.waitHealthy(ctx, desc), nil
}

// Stop removes the service from the process manager's active set. It always
// succeeds locally, even if the underlying process was already gone.
func (o *Orchestrator) Stop(desc models.ServiceDescriptor) (ServiceResult, error) {
	if err := o.pm.Stop(desc.Name); err != nil {
		return ServiceResult{}, fmt.Errorf("stop %s: %w", desc.Name, err)
	}
	return ServiceResult{
		Service: desc.Name,
		State:   models.StateStopped,
		Outcome: models.OutcomeSuccess,
	}, nil
}

// Restart is stop followed by start. Whether a restart is warranted is the
// caller's decision; no already-healthy special case here.
func (o *Orchestrator) Restart(ctx context.Context, desc models.ServiceDescriptor) (ServiceResult, error) {
	if _, err := o.Stop(desc); err != nil {
		return ServiceResult{}, err
	}

	if err := o.pm.Start(desc); err != nil {
		return ServiceResult{
			Service: desc.Name,
			State:   models.StateFailed,
			Outcome: models.OutcomeFailed,
			Detail:  err.Error(),
		}, nil
	}

	return o.waitHealthy(ctx, desc), nil
}

// DeployResult aggregates a full deploy pass.
type DeployResult struct {
	Services []ServiceResult
	Proxy    ServiceResult
	Outcome  models.Outcome
}

// Deploy starts every managed service, waits for each to report healthy,
// then reloads the reverse proxy. Per-service failures degrade the outcome
// instead of aborting the remaining services.
func (o *Orchestrator) Deploy(ctx context.Context, descs []models.ServiceDescriptor) (DeployResult, error) {
	result := DeployResult{Outcome: models.OutcomeSuccess}

	for _, desc := range descs {
		sr, err := o.Start(ctx, desc)
		if err != nil {
			return result, err
		}
		result.Services = append(result.Services, sr)
		result.Outcome = result.Outcome.Combine(sr.Outcome)
	}

	result.Proxy = o.reloadProxy()
	result.Outcome = result.Outcome.Combine(result.Proxy.Outcome)
	return result, nil
}

func (o *Orchestrator) reloadProxy() ServiceResult {
	active, err := o.sys.IsActive(proxyServiceName)
	if err != nil {
		return ServiceResult{
			Service: proxyServiceName,
			State:   models.StateFailed,
			Outcome: models.OutcomeFailed,
			Detail:  fmt.Sprintf("query service manager: %v", err),
		}
	}

	op := o.sys.Reload
	if !active {
		op = o.sys.Restart
	}
	if err := op(proxyServiceName); err != nil {
		return ServiceResult{
			Service: proxyServiceName,
			State:   models.StateFailed,
			Outcome: models.OutcomeFailed,
			Detail:  err.Error(),
		}
	}
	return ServiceResult{
		Service: proxyServiceName,
		State:   models.StateRunning,
		Outcome: models.OutcomeSuccess,
	}
}

// Status returns the process manager's view of every managed service,
// including descriptors the manager has never seen (reported stopped).
func (o *Orchestrator) Status(descs []models.ServiceDescriptor) ([]models.ServiceStatus, error) {
	listed, err := o.pm.List()
	if err != nil {
		return nil, fmt.Errorf("query process manager: %w", err)
	}

	byName := make(map[string]models.ServiceStatus, len(listed))
	for _, s := range listed {
		byName[s.Name] = s
	}

	statuses := make([]models.ServiceStatus, 0, len(descs))
	for _, desc := range descs {
		if s, ok := byName[desc.Name]; ok {
			statuses = append(statuses, s)
			continue
		}
		statuses = append(statuses, models.ServiceStatus{
			Name:  desc.Name,
			State: models.StateStopped,
		})
	}
	return statuses, nil
}

// waitHealthy polls the health endpoint with exponential backoff until the
// deploy deadline. Exceeding the deadline yields a failed result, not an
// error.
func (o *Orchestrator) waitHealthy(ctx context.Context, desc models.ServiceDescriptor) ServiceResult {
	url := desc.HealthURL(o.backendHost)

	var attempts int
	check := func() error {
		attempts++
		if res := o.probe.Check(url); res.Healthy {
			return nil
		}
		return fmt.Errorf("service %s not yet healthy", desc.Name)
	}

	err := backoff.Retry(check, backoff.WithContext(o.newBackOff(), ctx))
	if err != nil {
		return ServiceResult{
			Service: desc.Name,
			State:   models.StateFailed,
			Outcome: models.OutcomeFailed,
			Detail:  fmt.Sprintf("health probe did not pass within deadline (%d attempts)", attempts),
		}
	}

	return ServiceResult{
		Service: desc.Name,
		State:   models.StateRunning,
		Outcome: models.OutcomeSuccess,
		Detail:  fmt.Sprintf("healthy after %d probe(s)", attempts),
	}
}

func (o *Orchestrator) stateOf(name string) (models.ServiceState, error) {
	listed, err := o.pm.List()
	if err != nil {
		return "", err
	}
	for _, s := range listed {
		if s.Name == name {
			return s.State, nil
		}
	}
	return models.StateStopped, nil
}
