package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/solstice-ai/warden/internal/backup"
	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/health"
	"github.com/solstice-ai/warden/internal/hostinfo"
	"github.com/solstice-ai/warden/internal/models"
	"github.com/solstice-ai/warden/internal/orchestrator"
	"github.com/solstice-ai/warden/internal/recovery"
)

// SummaryLine is the one-line outcome a command appends to the audit log
// after its table output: what ran, how it went, what failed.
func SummaryLine(command string, outcome models.Outcome, failures []string) string {
	if len(failures) == 0 {
		return fmt.Sprintf("%s: outcome=%s", command, outcome)
	}
	return fmt.Sprintf("%s: outcome=%s failed=%s", command, outcome, strings.Join(failures, ","))
}

func FormatJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatProfile(p hostinfo.Profile) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Provider:\t%s\n", p.Provider)
	fmt.Fprintf(w, "OS Family:\t%s\n", p.OSFamily)
	fmt.Fprintf(w, "Package Manager:\t%s\n", p.PackageManager)
	fmt.Fprintf(w, "User:\t%s\n", p.CurrentUser)
	fmt.Fprintf(w, "Hostname:\t%s\n", p.Hostname)
	if p.PublicIP != "" {
		fmt.Fprintf(w, "Public IP:\t%s\n", p.PublicIP)
	}
	if p.InstanceID != "" {
		fmt.Fprintf(w, "Instance ID:\t%s\n", p.InstanceID)
	}
	fmt.Fprintf(w, "Project Root:\t%s\n", p.ProjectRoot)
	return w.Flush()
}

func FormatStatusTable(statuses []models.ServiceStatus) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tPID\tUPTIME\tRESTARTS\tMEMORY")

	for _, s := range statuses {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Name,
			s.State,
			pid,
			formatUptime(int64(s.Uptime.Seconds())),
			s.Restarts,
			formatBytes(s.MemoryBytes),
		)
	}

	return w.Flush()
}

func FormatServiceResults(results []orchestrator.ServiceResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tOUTCOME\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Service, r.State, r.Outcome, r.Detail)
	}
	return w.Flush()
}

func FormatHealthReport(r health.Report) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tCATEGORY\tWEIGHT\tRESULT\tVALUE\tTHRESHOLD")

	for _, c := range r.Checks {
		result := "pass"
		if !c.Passed {
			result = "FAIL"
		}
		value := c.Value
		if value == "" {
			value = "-"
		}
		threshold := c.Threshold
		if threshold == "" {
			threshold = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", c.ID, c.Category, c.Weight, result, value, threshold)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nScore: %.1f/100 (%s)\n", r.Score, r.Status)
	fmt.Println("Recommendations:")
	for _, rec := range r.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
	return nil
}

func FormatBackupSets(sets []*backup.Set) error {
	if len(sets) == 0 {
		fmt.Println("No backup sets found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tOUTCOME\tCOMPONENTS\tFAILED")

	for _, s := range sets {
		failed := "-"
		if f := s.FailedComponents(); len(f) > 0 {
			names := ""
			for i, c := range f {
				if i > 0 {
					names += ","
				}
				names += string(c)
			}
			failed = names
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			s.Outcome,
			len(s.Components),
			failed,
		)
	}
	return w.Flush()
}

func FormatBackupSet(s *backup.Set) error {
	fmt.Printf("Backup set %s (%s), created %s\n\n", s.ID, s.Outcome, s.CreatedAt.Format("2006-01-02 15:04:05"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tRESULT\tSIZE\tERROR")
	for _, c := range s.Components {
		result := "valid"
		if !c.Valid {
			result = "FAILED"
		}
		errMsg := "-"
		if c.Error != "" {
			errMsg = c.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Component, result, formatBytes(c.SizeBytes), errMsg)
	}
	return w.Flush()
}

func FormatRestoreResult(r *backup.RestoreResult) error {
	fmt.Printf("Restore from set %s: %s\n\n", r.SetID, r.Outcome)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tRESULT\tDETAIL")
	for _, c := range r.Components {
		result := "restored"
		detail := "-"
		if !c.Valid {
			result = "REFUSED"
			detail = c.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Component, result, detail)
	}
	return w.Flush()
}

func FormatRecoveryResult(r recovery.Result) error {
	fmt.Printf("Score: %.1f -> %.1f (%s)\n", r.ScoreBefore, r.ScoreAfter, r.Outcome)

	if len(r.Actions) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tACTION\tATTEMPTS\tRESULT")
		for _, a := range r.Actions {
			result := "succeeded"
			if !a.Succeeded {
				result = a.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", a.CheckID, a.Action, a.Attempts, result)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	printList := func(label string, ids []string) {
		if len(ids) == 0 {
			return
		}
		fmt.Printf("%s:", label)
		for _, id := range ids {
			fmt.Printf(" %s", id)
		}
		fmt.Println()
	}
	fmt.Println()
	printList("Resolved", r.Resolved)
	printList("Unresolved", r.Unresolved)
	printList("Recovery failed", r.RecoveryFailed)
	printList("Unmapped", r.Unmapped)
	return nil
}

func FormatRenderResult(r config.RenderResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, f := range r.Written {
		fmt.Fprintf(w, "written\t%s\n", f)
	}
	for _, f := range r.Unchanged {
		fmt.Fprintf(w, "unchanged\t%s\n", f)
	}
	for _, f := range r.Changed {
		fmt.Fprintf(w, "drifted\t%s\t(kept; rerun with --overwrite to replace)\n", f)
	}
	return w.Flush()
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	bytes := float64(n)
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	for bytes >= 1024 && i < len(units)-1 {
		bytes /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", bytes, units[i])
}

func formatUptime(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}

	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
