package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/solstice-ai/warden/internal/models"
)

// ProcessManagerClient is the typed surface over the external process
// manager. Parsing of its CLI output lives in exactly one implementation so
// the rest of the system never touches tool output text.
type ProcessManagerClient interface {
	List() ([]models.ServiceStatus, error)
	Start(desc models.ServiceDescriptor) error
	Stop(name string) error
	Restart(name string) error
}

// SystemServiceClient drives OS-managed services (the reverse proxy) through
// the service manager's administrative surface.
type SystemServiceClient interface {
	IsActive(name string) (bool, error)
	Reload(name string) error
	Restart(name string) error
}

// PM2Client shells out to pm2 and parses its JSON list output.
type PM2Client struct {
	bin string
}

func NewPM2Client() *PM2Client {
	return &PM2Client{bin: "pm2"}
}

// pm2Process mirrors the subset of `pm2 jlist` output we consume.
type pm2Process struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status      string `json:"status"`
		PMUptime    int64  `json:"pm_uptime"`
		RestartTime int    `json:"restart_time"`
	} `json:"pm2_env"`
	Monit struct {
		Memory int64 `json:"memory"`
	} `json:"monit"`
}

func (c *PM2Client) List() ([]models.ServiceStatus, error) {
	out, err := c.run("jlist")
	if err != nil {
		return nil, fmt.Errorf("pm2 jlist: %w", err)
	}

	var procs []pm2Process
	if err := json.Unmarshal(out, &procs); err != nil {
		return nil, fmt.Errorf("parse pm2 jlist output: %w", err)
	}

	statuses := make([]models.ServiceStatus, 0, len(procs))
	for _, p := range procs {
		status := models.ServiceStatus{
			Name:        p.Name,
			State:       pm2State(p.PM2Env.Status),
			PID:         p.PID,
			Restarts:    p.PM2Env.RestartTime,
			MemoryBytes: p.Monit.Memory,
		}
		if p.PM2Env.PMUptime > 0 {
			status.Uptime = time.Since(time.UnixMilli(p.PM2Env.PMUptime))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func pm2State(s string) models.ServiceState {
	switch s {
	case "online":
		return models.StateRunning
	case "launching":
		return models.StateStarting
	case "errored":
		return models.StateFailed
	case "stopped", "stopping":
		return models.StateStopped
	default:
		return models.StateStopped
	}
}

func (c *PM2Client) Start(desc models.ServiceDescriptor) error {
	parts := strings.Fields(desc.StartCommand)
	if len(parts) == 0 {
		return fmt.Errorf("service %s has an empty start command", desc.Name)
	}

	args := []string{"start", parts[0], "--name", desc.Name, "--cwd", desc.WorkingDir}
	if desc.MemoryLimitMB > 0 {
		args = append(args, "--max-memory-restart", fmt.Sprintf("%dM", desc.MemoryLimitMB))
	}
	if len(parts) > 1 {
		args = append(args, "--")
		args = append(args, parts[1:]...)
	}

	if _, err := c.run(args...); err != nil {
		return fmt.Errorf("pm2 start %s: %w", desc.Name, err)
	}
	return nil
}

// Stop removes the service from pm2's active set. An already-gone process
// is not an error.
func (c *PM2Client) Stop(name string) error {
	if _, err := c.run("delete", name); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("pm2 delete %s: %w", name, err)
	}
	return nil
}

func (c *PM2Client) Restart(name string) error {
	if _, err := c.run("restart", name); err != nil {
		return fmt.Errorf("pm2 restart %s: %w", name, err)
	}
	return nil
}

func (c *PM2Client) run(args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(c.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// SystemdClient drives services through systemctl.
type SystemdClient struct {
	bin string
}

func NewSystemdClient() *SystemdClient {
	return &SystemdClient{bin: "systemctl"}
}

func (c *SystemdClient) IsActive(name string) (bool, error) {
	out, err := exec.Command(c.bin, "is-active", name).Output()
	state := strings.TrimSpace(string(out))
	if state == "active" {
		return true, nil
	}
	// is-active exits nonzero for inactive units; that is an answer,
	// not a failure.
	if state != "" {
		return false, nil
	}
	return false, err
}

func (c *SystemdClient) Reload(name string) error {
	if out, err := exec.Command(c.bin, "reload", name).CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl reload %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *SystemdClient) Restart(name string) error {
	if out, err := exec.Command(c.bin, "restart", name).CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl restart %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
