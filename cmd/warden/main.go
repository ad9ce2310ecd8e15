package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/solstice-ai/warden/internal/backup"
	"github.com/solstice-ai/warden/internal/cli"
	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/health"
	"github.com/solstice-ai/warden/internal/hostinfo"
	"github.com/solstice-ai/warden/internal/locker"
	"github.com/solstice-ai/warden/internal/models"
	"github.com/solstice-ai/warden/internal/orchestrator"
	"github.com/solstice-ai/warden/internal/recovery"
)

var (
	outputJSON bool
	overwrite  bool
	exitCode   int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Operations manager for a self-hosted AI deployment",
	Long: `warden provisions, supervises, scores and repairs a single-host AI agent
deployment: the backend API, the static frontend, the reverse proxy and the
sqlite datastore behind them.`,
	SilenceUsage: true,
}

// env is the shared wiring for every command: detected host profile,
// resolved configuration, and the clients built from them.
type env struct {
	profile hostinfo.Profile
	cfg     config.Config
	mat     *config.Materializer
	descs   []models.ServiceDescriptor
	orch    *orchestrator.Orchestrator
	sys     orchestrator.SystemServiceClient
	locks   *locker.Locker
}

func buildEnv() *env {
	profile := hostinfo.NewDetector().Detect()
	cfg := config.Load(profile)

	// Operational output goes to stderr and, when the layout exists, to the
	// log file as well.
	if f, err := os.OpenFile(filepath.Join(cfg.LogDir, "warden.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	mat := config.NewMaterializer(profile, hostinfo.StrategyFor(profile.Provider), cfg)
	sys := orchestrator.NewSystemdClient()
	orch := orchestrator.New(orchestrator.NewPM2Client(), sys, orchestrator.NewHTTPProber(), cfg.BackendHost)

	return &env{
		profile: profile,
		cfg:     cfg,
		mat:     mat,
		descs:   mat.Descriptors(),
		orch:    orch,
		sys:     sys,
		locks:   locker.New(cfg.LockDir),
	}
}

func (e *env) scorer() *health.Scorer {
	return health.NewScorer(e.cfg, e.descs, orchestrator.NewPM2Client(), e.sys, orchestrator.NewHTTPProber())
}

func (e *env) backups() *backup.Manager {
	return backup.NewManager(e.cfg, e.profile)
}

// withLock serializes a mutating operation. A lock already held by another
// invocation skips the operation instead of queueing behind it.
func withLock(e *env, operation string, fn func() (models.Outcome, error)) error {
	release, err := e.locks.Acquire(operation)
	if err != nil {
		var busy *locker.ErrBusy
		if errors.As(err, &busy) {
			log.Printf("%s skipped: already running", operation)
			exitCode = models.OutcomeSkipped.ExitCode()
			return nil
		}
		return err
	}
	defer release()

	outcome, err := fn()
	if err != nil {
		return err
	}
	exitCode = outcome.ExitCode()
	return nil
}

// runBackupOp reports one backup-directory operation. Mutual exclusion for
// these lives inside the backup manager, which shares a single lock across
// backup, restore and prune; a held lock skips the run like withLock does.
func runBackupOp(operation string, fn func() (models.Outcome, error)) error {
	outcome, err := fn()
	if err != nil {
		var busy *locker.ErrBusy
		if errors.As(err, &busy) {
			log.Printf("%s skipped: already running", operation)
			exitCode = models.OutcomeSkipped.ExitCode()
			return nil
		}
		return err
	}
	exitCode = outcome.ExitCode()
	return nil
}

func componentNames(cs []backup.Component) []string {
	var names []string
	for _, c := range cs {
		names = append(names, string(c))
	}
	return names
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Detect the host and materialize the deployment layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		return withLock(e, "setup", func() (models.Outcome, error) {
			result, err := e.mat.Render(overwrite)
			if err != nil {
				return models.OutcomeFailed, err
			}
			if site, err := e.mat.InstallNginx(); err != nil {
				log.Printf("setup: nginx site config not installed: %v", err)
			} else {
				log.Printf("setup: nginx site config installed at %s", site)
			}
			log.Print(cli.SummaryLine("setup", result.Outcome, result.Changed))
			if outputJSON {
				return result.Outcome, cli.FormatJSON(result)
			}
			if err := cli.FormatProfile(e.profile); err != nil {
				return result.Outcome, err
			}
			fmt.Println()
			return result.Outcome, cli.FormatRenderResult(*result)
		})
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Start or restart all managed services and the reverse proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		return withLock(e, "deploy", func() (models.Outcome, error) {
			result, err := e.orch.Deploy(cmd.Context(), e.descs)
			if err != nil {
				return models.OutcomeFailed, err
			}
			var failed []string
			for _, svc := range result.Services {
				if svc.Outcome != models.OutcomeSuccess {
					failed = append(failed, svc.Service)
				}
			}
			log.Print(cli.SummaryLine("deploy", result.Outcome, failed))
			if outputJSON {
				return result.Outcome, cli.FormatJSON(result)
			}
			return result.Outcome, cli.FormatServiceResults(result.Services)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of all managed services",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		statuses, err := e.orch.Status(e.descs)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(statuses)
		}
		return cli.FormatStatusTable(statuses)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Run the health battery and print the weighted report",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		report := e.scorer().Run(cmd.Context())
		log.Printf("health-check: score %.1f (%s), failing %v", report.Score, report.Status, report.FailingChecks())
		if report.Status.Degraded() {
			exitCode = 1
		}
		if outputJSON {
			return cli.FormatJSON(report)
		}
		return cli.FormatHealthReport(report)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run the health battery and remediate failing checks",
	RunE:  runRecovery,
}

// monitor is the scheduler's read-only entry point. It scores and reports
// but never remediates; pair it with recover in the schedule for that.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Read-only scheduled health pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		report := e.scorer().Run(cmd.Context())
		log.Printf("monitor: score %.1f (%s), failing %v", report.Score, report.Status, report.FailingChecks())
		if report.Status.Degraded() {
			exitCode = 1
		}
		if outputJSON {
			return cli.FormatJSON(report)
		}
		return cli.FormatHealthReport(report)
	},
}

func runRecovery(cmd *cobra.Command, args []string) error {
	e := buildEnv()
	return withLock(e, "recovery", func() (models.Outcome, error) {
		scorer := e.scorer()
		report := scorer.Run(cmd.Context())
		if len(report.FailingChecks()) == 0 {
			log.Printf("recover: score %.1f, nothing to remediate", report.Score)
			if outputJSON {
				return models.OutcomeSuccess, cli.FormatJSON(report)
			}
			return models.OutcomeSuccess, cli.FormatHealthReport(report)
		}

		deps := recovery.Deps{
			Orchestrator: e.orch,
			System:       e.sys,
			Descriptors:  e.descs,
			Config:       e.cfg,
			// A backup in flight is not a remediation failure; the next
			// pass prunes.
			PruneBackups: func() error {
				_, err := e.backups().Prune()
				var busy *locker.ErrBusy
				if errors.As(err, &busy) {
					return nil
				}
				return err
			},
			RenderConfig: func() error { _, err := e.mat.Render(false); return err },
		}
		engine := recovery.NewEngine(scorer, recovery.DefaultActions(deps))
		result := engine.Run(cmd.Context(), report)
		log.Printf("recover: score %.1f -> %.1f (%s)", result.ScoreBefore, result.ScoreAfter, result.Outcome)

		if outputJSON {
			return result.Outcome, cli.FormatJSON(result)
		}
		return result.Outcome, cli.FormatRecoveryResult(result)
	})
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a validated backup set",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		return runBackupOp("backup", func() (models.Outcome, error) {
			set, err := e.backups().Create()
			if err != nil {
				return models.OutcomeFailed, err
			}
			log.Print(cli.SummaryLine("backup", set.Outcome, componentNames(set.FailedComponents())))
			if outputJSON {
				return set.Outcome, cli.FormatJSON(set)
			}
			return set.Outcome, cli.FormatBackupSet(set)
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup sets, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		sets, err := e.backups().List()
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(sets)
		}
		return cli.FormatBackupSets(sets)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [set-id]",
	Short: "Restore components from a backup set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		components, _ := cmd.Flags().GetStringSlice("component")

		e := buildEnv()
		return runBackupOp("restore", func() (models.Outcome, error) {
			var selected []backup.Component
			for _, c := range components {
				selected = append(selected, backup.Component(c))
			}
			result, err := e.backups().Restore(args[0], selected...)
			if err != nil {
				return models.OutcomeFailed, err
			}
			var refused []string
			for _, c := range result.Components {
				if !c.Valid {
					refused = append(refused, string(c.Component))
				}
			}
			log.Print(cli.SummaryLine("restore", result.Outcome, refused))
			if outputJSON {
				return result.Outcome, cli.FormatJSON(result)
			}
			return result.Outcome, cli.FormatRestoreResult(result)
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backup sets past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		return runBackupOp("prune", func() (models.Outcome, error) {
			result, err := e.backups().Prune()
			if err != nil {
				return models.OutcomeFailed, err
			}
			log.Printf("prune: outcome=success removed=%d kept=%d", len(result.Removed), result.Kept)
			if outputJSON {
				return models.OutcomeSuccess, cli.FormatJSON(result)
			}
			fmt.Printf("Removed %d file(s), kept %d\n", len(result.Removed), result.Kept)
			return models.OutcomeSuccess, nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to the running backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		e := buildEnv()
		client := cli.NewClient(fmt.Sprintf("http://%s:%d", e.cfg.BackendHost, e.cfg.BackendPort))
		data, err := client.Chat(args[0], sessionID)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		if response, ok := data["response"].(string); ok {
			fmt.Println(response)
		}
		if id, ok := data["session_id"].(string); ok {
			fmt.Fprintf(os.Stderr, "session: %s\n", id)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "Query a chat session on the running backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := buildEnv()
		client := cli.NewClient(fmt.Sprintf("http://%s:%d", e.cfg.BackendHost, e.cfg.BackendPort))

		history, _ := cmd.Flags().GetBool("history")
		var data map[string]interface{}
		var err error
		if history {
			data, err = client.SessionHistory(args[0])
		} else {
			data, err = client.GetSession(args[0])
		}
		if err != nil {
			return err
		}
		return cli.FormatJSON(data)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	setupCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace drifted configuration artifacts")
	restoreCmd.Flags().StringSlice("component", nil, "Components to restore (default: all restorable)")
	sessionsCmd.Flags().Bool("history", false, "Show the session's conversation turns")
	chatCmd.Flags().String("session", "", "Continue an existing session")

	backupCmd.AddCommand(backupListCmd)

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
}
