package models

import (
	"fmt"
	"time"
)

// ServiceDescriptor is the static definition of one managed service:
// how to start it and how to probe it. Descriptors are produced by the
// configuration materializer and consumed by the orchestrator and the
// health scorer.
type ServiceDescriptor struct {
	Name            string `yaml:"name" json:"name"`
	StartCommand    string `yaml:"start_command" json:"start_command"`
	WorkingDir      string `yaml:"working_dir" json:"working_dir"`
	ListenPort      int    `yaml:"listen_port" json:"listen_port"`
	HealthCheckPath string `yaml:"health_check_path" json:"health_check_path"`
	MemoryLimitMB   int    `yaml:"memory_limit_mb" json:"memory_limit_mb"`
}

// HealthURL returns the probe URL for the service's health endpoint.
func (d ServiceDescriptor) HealthURL(host string) string {
	return fmt.Sprintf("http://%s:%d%s", host, d.ListenPort, d.HealthCheckPath)
}

type ServiceState string

const (
	StateStopped    ServiceState = "stopped"
	StateStarting   ServiceState = "starting"
	StateRunning    ServiceState = "running"
	StateDegraded   ServiceState = "degraded"
	StateFailed     ServiceState = "failed"
	StateRestarting ServiceState = "restarting"
)

// ServiceStatus is a point-in-time view of one managed process as reported
// by the process manager client.
type ServiceStatus struct {
	Name        string        `json:"name"`
	State       ServiceState  `json:"state"`
	PID         int           `json:"pid,omitempty"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	Restarts    int           `json:"restarts"`
	MemoryBytes int64         `json:"memory_bytes,omitempty"`
}
