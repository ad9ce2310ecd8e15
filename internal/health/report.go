package health

import (
	"math"
	"time"
)

type Category string

const (
	CategoryResource  Category = "resource"
	CategoryProcess   Category = "process"
	CategoryNetwork   Category = "network"
	CategoryDatastore Category = "datastore"
	CategoryConfig    Category = "config"
	CategorySecurity  Category = "security"
)

type Weight int

const (
	WeightInformational Weight = 1
	WeightImportant     Weight = 2
	WeightCritical      Weight = 3
)

// Check is a single pass/fail measurement. Checks are ephemeral, produced
// fresh on every run, and never have side effects.
type Check struct {
	ID        string   `json:"id"`
	Category  Category `json:"category"`
	Weight    Weight   `json:"weight"`
	Passed    bool     `json:"passed"`
	Value     string   `json:"value,omitempty"`
	Threshold string   `json:"threshold,omitempty"`
}

type Status string

const (
	StatusExcellent      Status = "excellent"
	StatusGood           Status = "good"
	StatusNeedsAttention Status = "needs_attention"
	StatusCritical       Status = "critical"
)

// Degraded reports whether the status warrants a nonzero exit from the
// scoring commands. Anything below the good cut counts: the host needs
// attention even when nothing is critical yet.
func (s Status) Degraded() bool {
	return s == StatusNeedsAttention || s == StatusCritical
}

// Report is the aggregated weighted result of one battery run.
type Report struct {
	Timestamp       time.Time `json:"timestamp"`
	Checks          []Check   `json:"checks"`
	Score           float64   `json:"score"`
	Status          Status    `json:"status"`
	Recommendations []string  `json:"recommendations"`
}

// Thresholds are the status cut points. They default to 90/75/50 but are
// carried as configuration, not invariants.
type Thresholds struct {
	Excellent      float64
	Good           float64
	NeedsAttention float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 90, Good: 75, NeedsAttention: 50}
}

// Compute reduces an ordered check list to a report: weighted score as a
// 0-100 percentage rounded to one decimal, a status from the cut points,
// and one recommendation per failing check ("operating optimally" when
// everything passes).
func Compute(checks []Check, at time.Time, cuts Thresholds) Report {
	var total, passed int
	for _, c := range checks {
		total += int(c.Weight)
		if c.Passed {
			passed += int(c.Weight)
		}
	}

	score := 100.0
	if total > 0 {
		score = math.Round(float64(passed)/float64(total)*1000) / 10
	}

	report := Report{
		Timestamp: at,
		Checks:    checks,
		Score:     score,
		Status:    statusFor(score, cuts),
	}

	for _, c := range checks {
		if !c.Passed {
			report.Recommendations = append(report.Recommendations, recommendationFor(c.ID))
		}
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = []string{"operating optimally"}
	}
	return report
}

func statusFor(score float64, cuts Thresholds) Status {
	switch {
	case score >= cuts.Excellent:
		return StatusExcellent
	case score >= cuts.Good:
		return StatusGood
	case score >= cuts.NeedsAttention:
		return StatusNeedsAttention
	default:
		return StatusCritical
	}
}

// FailingChecks returns the ids of checks that did not pass, in battery
// order.
func (r Report) FailingChecks() []string {
	var ids []string
	for _, c := range r.Checks {
		if !c.Passed {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func recommendationFor(checkID string) string {
	if rec, ok := recommendations[checkID]; ok {
		return rec
	}
	return "investigate failing check " + checkID
}

var recommendations = map[string]string{
	CheckCPUUsage:         "cpu usage above threshold; inspect runaway processes with the process manager",
	CheckMemoryUsage:      "memory usage above threshold; consider restarting the backend or raising the limit",
	CheckDiskSpace:        "disk usage above threshold; prune old backups and rotate logs",
	CheckBackendProcess:   "backend process is not running; run deploy or recover",
	CheckFrontendProcess:  "frontend process is not running; run deploy or recover",
	CheckProxyActive:      "reverse proxy is not active; restart it via the service manager",
	CheckBackendEndpoint:  "backend health endpoint unreachable; restart the backend service",
	CheckFrontendEndpoint: "frontend endpoint unreachable; restart the frontend service",
	CheckConnectivity:     "no outbound connectivity; chat forwarding will fail until the network recovers",
	CheckDatastoreFile:    "datastore file missing; restore from the latest backup",
	CheckDatastoreIntact:  "datastore failed integrity check; restore from the latest backup",
	CheckEnvFile:          "configuration file .env is missing; run setup",
	CheckEnvPermissions:   "configuration file .env is world-readable; tighten its permissions",
	CheckBackupsRecent:    "no recent backup set; run backup",
}
