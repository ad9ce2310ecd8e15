package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/solstice-ai/warden/internal/hostinfo"
)

// Config is the runtime configuration for one command invocation. Every
// value is optional in the environment and has a documented default; only
// agentd's chat forwarding requires a provider credential.
type Config struct {
	ProjectRoot string

	BackendHost  string
	BackendPort  int
	FrontendPort int

	DatabasePath string
	LogDir       string
	DataDir      string
	BackupDir    string
	LockDir      string
	ConfigDir    string

	RetentionDays int

	// Alert thresholds for the resource health checks, in percent used.
	CPUThreshold  float64
	MemThreshold  float64
	DiskThreshold float64

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
}

// Load builds a Config from the host profile and the process environment.
// A .env file at the project root is read first so interactive and
// scheduled invocations see the same settings; real environment variables
// win over .env entries.
func Load(profile hostinfo.Profile) Config {
	root := getEnv("WARDEN_ROOT", profile.ProjectRoot)

	env := map[string]string{}
	if fileEnv, err := godotenv.Read(filepath.Join(root, ".env")); err == nil {
		env = fileEnv
	}

	lookup := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v, ok := env[key]; ok && v != "" {
			return v
		}
		return fallback
	}

	return Config{
		ProjectRoot:   root,
		BackendHost:   lookup("BACKEND_HOST", "127.0.0.1"),
		BackendPort:   atoi(lookup("BACKEND_PORT", "8000"), 8000),
		FrontendPort:  atoi(lookup("FRONTEND_PORT", "3000"), 3000),
		DatabasePath:  lookup("DATABASE_PATH", filepath.Join(root, "data", "agent.db")),
		LogDir:        filepath.Join(root, "logs"),
		DataDir:       filepath.Join(root, "data"),
		BackupDir:     filepath.Join(root, "backups"),
		LockDir:       filepath.Join(root, "locks"),
		ConfigDir:     filepath.Join(root, "config"),
		RetentionDays: atoi(lookup("BACKUP_RETENTION_DAYS", "7"), 7),
		CPUThreshold:  atof(lookup("CPU_ALERT_THRESHOLD", "90"), 90),
		MemThreshold:  atof(lookup("MEMORY_ALERT_THRESHOLD", "90"), 90),
		DiskThreshold: atof(lookup("DISK_ALERT_THRESHOLD", "85"), 85),
		LLMAPIKey:     lookup("LLM_API_KEY", ""),
		LLMBaseURL:    lookup("LLM_BASE_URL", ""),
		LLMModel:      lookup("LLM_MODEL", "gpt-4o-mini"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func atoi(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func atof(s string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}
