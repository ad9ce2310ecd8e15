package cli

import (
	"testing"

	"github.com/solstice-ai/warden/internal/models"
)

func TestSummaryLine(t *testing.T) {
	cases := []struct {
		name     string
		command  string
		outcome  models.Outcome
		failures []string
		want     string
	}{
		{"success", "deploy", models.OutcomeSuccess, nil, "deploy: outcome=success"},
		{"partial with failures", "backup", models.OutcomePartial, []string{"datastore"}, "backup: outcome=partial failed=datastore"},
		{"multiple failures", "restore", models.OutcomePartial, []string{"datastore", "config"}, "restore: outcome=partial failed=datastore,config"},
		{"failed without detail", "setup", models.OutcomeFailed, nil, "setup: outcome=failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SummaryLine(tc.command, tc.outcome, tc.failures); got != tc.want {
				t.Errorf("SummaryLine() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "-"},
		{512, "512.0 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tc := range cases {
		if got := formatBytes(tc.n); got != tc.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
