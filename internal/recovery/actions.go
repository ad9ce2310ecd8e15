package recovery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/health"
	"github.com/solstice-ai/warden/internal/models"
	"github.com/solstice-ai/warden/internal/orchestrator"
	"github.com/solstice-ai/warden/internal/store"
)

// Deps carries everything the default action table needs. The table itself
// stays a plain value; the closures bind these dependencies once.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	System       orchestrator.SystemServiceClient
	Descriptors  []models.ServiceDescriptor
	Config       config.Config

	// PruneBackups and RenderConfig are injected so the engine does not
	// depend on the backup and materializer packages directly.
	PruneBackups func() error
	RenderConfig func() error
}

// DefaultActions is the static check-to-remediation mapping. Checks absent
// here (cpu_usage, outbound_connectivity, backups_recent) are deliberately
// unmapped: a hot CPU or a dead uplink has no safe automatic fix.
func DefaultActions(d Deps) []Action {
	var backend, frontend models.ServiceDescriptor
	for _, desc := range d.Descriptors {
		if strings.Contains(desc.Name, "frontend") {
			frontend = desc
		} else {
			backend = desc
		}
	}

	restart := func(desc models.ServiceDescriptor) func(context.Context, int) error {
		return func(ctx context.Context, _ int) error {
			res, err := d.Orchestrator.Restart(ctx, desc)
			if err != nil {
				return err
			}
			if res.Outcome != models.OutcomeSuccess {
				return fmt.Errorf("restart %s: %s", desc.Name, res.Detail)
			}
			return nil
		}
	}

	actions := []Action{
		{
			TriggerCheckID: health.CheckBackendProcess,
			Name:           "restart backend service",
			MaxAttempts:    3,
			Backoff:        5 * time.Second,
			Run:            restart(backend),
		},
		{
			TriggerCheckID: health.CheckBackendEndpoint,
			Name:           "restart backend service",
			MaxAttempts:    3,
			Backoff:        5 * time.Second,
			Run:            restart(backend),
		},
		{
			TriggerCheckID: health.CheckFrontendProcess,
			Name:           "restart frontend service",
			MaxAttempts:    3,
			Backoff:        5 * time.Second,
			Run:            restart(frontend),
		},
		{
			TriggerCheckID: health.CheckFrontendEndpoint,
			Name:           "restart frontend service",
			MaxAttempts:    3,
			Backoff:        5 * time.Second,
			Run:            restart(frontend),
		},
		{
			TriggerCheckID: health.CheckProxyActive,
			Name:           "restart reverse proxy",
			MaxAttempts:    2,
			Backoff:        3 * time.Second,
			Run: func(ctx context.Context, _ int) error {
				return d.System.Restart("nginx")
			},
		},
		{
			TriggerCheckID: health.CheckMemoryUsage,
			Name:           "restart backend to reclaim memory",
			MaxAttempts:    1,
			Run:            restart(backend),
		},
		{
			TriggerCheckID: health.CheckEnvPermissions,
			Name:           "tighten .env permissions",
			MaxAttempts:    1,
			Run: func(ctx context.Context, _ int) error {
				return os.Chmod(filepath.Join(d.Config.ProjectRoot, ".env"), 0600)
			},
		},
	}

	if d.RenderConfig != nil {
		actions = append(actions, Action{
			TriggerCheckID: health.CheckEnvFile,
			Name:           "rematerialize configuration",
			MaxAttempts:    1,
			Run: func(ctx context.Context, _ int) error {
				return d.RenderConfig()
			},
		})
	}

	if d.PruneBackups != nil {
		actions = append(actions, Action{
			TriggerCheckID: health.CheckDiskSpace,
			Name:           "prune expired backups",
			MaxAttempts:    1,
			Run: func(ctx context.Context, _ int) error {
				return d.PruneBackups()
			},
		})
	}

	datastoreFix := datastoreAction(d, restart(backend))
	actions = append(actions,
		Action{
			TriggerCheckID: health.CheckDatastoreFile,
			Name:           "recover datastore",
			MaxAttempts:    2,
			Backoff:        2 * time.Second,
			Run:            datastoreFix,
		},
		Action{
			TriggerCheckID: health.CheckDatastoreIntact,
			Name:           "recover datastore",
			MaxAttempts:    2,
			Backoff:        2 * time.Second,
			Run:            datastoreFix,
		},
	)

	return actions
}

// datastoreAction escalates: the first attempt is the cheap fix (restart
// the backend, which recreates a missing file on boot, then verify); only
// the second attempt recreates the datastore, and only after copying the
// current state aside so the destructive step is itself recoverable.
func datastoreAction(d Deps, restartBackend func(context.Context, int) error) func(context.Context, int) error {
	return func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			if err := restartBackend(ctx, attempt); err != nil {
				return err
			}
			return store.IntegrityCheck(d.Config.DatabasePath)
		}

		if _, err := os.Stat(d.Config.DatabasePath); err == nil {
			aside := fmt.Sprintf("%s.corrupt-%s", d.Config.DatabasePath, time.Now().Format("20060102-150405"))
			if err := copyFile(d.Config.DatabasePath, aside); err != nil {
				return fmt.Errorf("copy datastore aside: %w", err)
			}
			if err := os.Remove(d.Config.DatabasePath); err != nil {
				return fmt.Errorf("remove corrupt datastore: %w", err)
			}
		}

		db, err := store.NewDB(d.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("recreate datastore: %w", err)
		}
		db.Close()
		return store.IntegrityCheck(d.Config.DatabasePath)
	}
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
