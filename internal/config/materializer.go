package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/joho/godotenv"
	"github.com/solstice-ai/warden/internal/hostinfo"
	"github.com/solstice-ai/warden/internal/models"
	"gopkg.in/yaml.v3"
)

// Materializer renders the on-disk artifacts derived from the host profile:
// the .env file, the process-manager service descriptors and the reverse
// proxy site config. Rendering is idempotent; re-running against unchanged
// inputs produces byte-identical artifacts.
type Materializer struct {
	profile  hostinfo.Profile
	strategy hostinfo.EnvironmentStrategy
	cfg      Config
}

// RenderResult reports what a materialization pass did per artifact.
type RenderResult struct {
	Written   []string
	Unchanged []string
	Changed   []string
	Outcome   models.Outcome
}

func NewMaterializer(profile hostinfo.Profile, strategy hostinfo.EnvironmentStrategy, cfg Config) *Materializer {
	return &Materializer{profile: profile, strategy: strategy, cfg: cfg}
}

// Descriptors returns the fixed managed service set. The reverse proxy is
// driven as an OS service, not a descriptor.
func (m *Materializer) Descriptors() []models.ServiceDescriptor {
	return []models.ServiceDescriptor{
		{
			Name:            "agent-backend",
			StartCommand:    "./bin/agentd",
			WorkingDir:      m.cfg.ProjectRoot,
			ListenPort:      m.cfg.BackendPort,
			HealthCheckPath: "/health",
			MemoryLimitMB:   512,
		},
		{
			Name:            "agent-frontend",
			StartCommand:    "npx serve -s frontend/dist -l " + fmt.Sprint(m.cfg.FrontendPort),
			WorkingDir:      m.cfg.ProjectRoot,
			ListenPort:      m.cfg.FrontendPort,
			HealthCheckPath: "/",
			MemoryLimitMB:   256,
		},
	}
}

// Render writes all artifacts under the project root. When overwrite is
// false an artifact whose rendered content differs from what is on disk is
// reported as changed and left alone.
func (m *Materializer) Render(overwrite bool) (*RenderResult, error) {
	for _, dir := range []string{m.cfg.LogDir, m.cfg.DataDir, m.cfg.BackupDir, m.cfg.LockDir, m.cfg.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	result := &RenderResult{Outcome: models.OutcomeSuccess}

	envPath := filepath.Join(m.cfg.ProjectRoot, ".env")
	if err := m.renderEnv(envPath, result); err != nil {
		return nil, err
	}

	servicesYAML, err := yaml.Marshal(map[string]interface{}{
		"services": m.Descriptors(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal service descriptors: %w", err)
	}
	if err := m.writeArtifact(filepath.Join(m.cfg.ConfigDir, "services.yaml"), servicesYAML, 0644, overwrite, result); err != nil {
		return nil, err
	}

	nginxConf, err := m.renderNginx()
	if err != nil {
		return nil, err
	}
	if err := m.writeArtifact(filepath.Join(m.cfg.ConfigDir, "nginx-ai-agent.conf"), nginxConf, 0644, overwrite, result); err != nil {
		return nil, err
	}

	if len(result.Changed) > 0 {
		result.Outcome = models.OutcomePartial
	}
	return result, nil
}

// NginxSitePath is where the provider convention expects the site config
// to live, typically under /etc/nginx/sites-available.
func (m *Materializer) NginxSitePath() string { return m.strategy.NginxSitePath() }

// InstallNginx writes the rendered site config at the provider's nginx
// site path. Hosts without an nginx layout get an error the caller can
// report and carry on from; the copy under ConfigDir stays authoritative
// either way.
func (m *Materializer) InstallNginx() (string, error) {
	content, err := m.renderNginx()
	if err != nil {
		return "", err
	}

	site := m.strategy.NginxSitePath()
	if _, err := os.Stat(filepath.Dir(site)); err != nil {
		return "", fmt.Errorf("nginx sites directory missing: %w", err)
	}

	if current, err := os.ReadFile(site); err == nil && bytes.Equal(current, content) {
		return site, nil
	}
	if err := os.WriteFile(site, content, 0644); err != nil {
		return "", fmt.Errorf("install nginx site config: %w", err)
	}
	return site, nil
}

// renderEnv fills in missing keys only, preserving any value the operator
// has already set. The file is access-restricted because it may carry the
// provider credential.
func (m *Materializer) renderEnv(path string, result *RenderResult) error {
	existing, err := godotenv.Read(path)
	if err != nil {
		existing = map[string]string{}
	}

	defaults := map[string]string{
		"BACKEND_HOST":           m.cfg.BackendHost,
		"BACKEND_PORT":           fmt.Sprint(m.cfg.BackendPort),
		"FRONTEND_PORT":          fmt.Sprint(m.cfg.FrontendPort),
		"DATABASE_PATH":          m.cfg.DatabasePath,
		"BACKUP_RETENTION_DAYS":  fmt.Sprint(m.cfg.RetentionDays),
		"CPU_ALERT_THRESHOLD":    fmt.Sprint(m.cfg.CPUThreshold),
		"MEMORY_ALERT_THRESHOLD": fmt.Sprint(m.cfg.MemThreshold),
		"DISK_ALERT_THRESHOLD":   fmt.Sprint(m.cfg.DiskThreshold),
		"LLM_MODEL":              m.cfg.LLMModel,
	}

	added := false
	for key, value := range defaults {
		if _, ok := existing[key]; !ok {
			existing[key] = value
			added = true
		}
	}

	if !added {
		result.Unchanged = append(result.Unchanged, path)
		return nil
	}

	content, err := godotenv.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal .env: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}
	result.Written = append(result.Written, path)
	return nil
}

const nginxTemplate = `# Managed by warden. Provider: {{.Provider}}
server {
    listen 80;
    server_name _;

    location / {
        proxy_pass http://127.0.0.1:{{.FrontendPort}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
    }

    location /api/ {
        proxy_pass http://{{.BackendHost}}:{{.BackendPort}}/;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_read_timeout 120s;
    }

    location /health {
        proxy_pass http://{{.BackendHost}}:{{.BackendPort}}/health;
    }
}
`

func (m *Materializer) renderNginx() ([]byte, error) {
	tmpl, err := template.New("nginx").Parse(nginxTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse nginx template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Provider     hostinfo.Provider
		BackendHost  string
		BackendPort  int
		FrontendPort int
	}{m.profile.Provider, m.cfg.BackendHost, m.cfg.BackendPort, m.cfg.FrontendPort})
	if err != nil {
		return nil, fmt.Errorf("render nginx config: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Materializer) writeArtifact(path string, content []byte, mode os.FileMode, overwrite bool, result *RenderResult) error {
	current, err := os.ReadFile(path)
	switch {
	case err == nil && bytes.Equal(current, content):
		result.Unchanged = append(result.Unchanged, path)
		return nil
	case err == nil && !overwrite:
		result.Changed = append(result.Changed, path)
		return nil
	}

	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	result.Written = append(result.Written, path)
	return nil
}
