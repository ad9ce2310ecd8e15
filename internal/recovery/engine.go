package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/solstice-ai/warden/internal/health"
	"github.com/solstice-ai/warden/internal/models"
)

// Action is one remediation mapped to a failing check. The table is static;
// nothing mutates it at runtime. The attempt number is passed through so an
// action can escalate from a cheap fix to a destructive one only after the
// cheap fix has been tried and failed.
type Action struct {
	TriggerCheckID string
	Name           string
	MaxAttempts    int
	Backoff        time.Duration
	Run            func(ctx context.Context, attempt int) error
}

// Scorer is the read-only health battery the engine calls before it already
// has a report and once after remediation to measure convergence.
type Scorer interface {
	Run(ctx context.Context) health.Report
}

type ActionResult struct {
	CheckID   string `json:"check_id"`
	Action    string `json:"action"`
	Attempts  int    `json:"attempts"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// Result reports convergence explicitly instead of declaring blanket
// success.
type Result struct {
	ScoreBefore    float64        `json:"score_before"`
	ScoreAfter     float64        `json:"score_after"`
	Resolved       []string       `json:"resolved_checks"`
	Unresolved     []string       `json:"unresolved_checks"`
	RecoveryFailed []string       `json:"recovery_failed"`
	Unmapped       []string       `json:"unmapped_checks"`
	Actions        []ActionResult `json:"actions"`
	Outcome        models.Outcome `json:"outcome"`
}

type Engine struct {
	scorer  Scorer
	actions map[string]Action

	// sleep is swapped for a no-op in tests.
	sleep func(time.Duration)
}

func NewEngine(scorer Scorer, actions []Action) *Engine {
	table := make(map[string]Action, len(actions))
	for _, a := range actions {
		table[a.TriggerCheckID] = a
	}
	return &Engine{scorer: scorer, actions: table, sleep: time.Sleep}
}

// SetSleep overrides the inter-attempt delay; used by tests.
func (e *Engine) SetSleep(f func(time.Duration)) { e.sleep = f }

// Run executes the mapped remediation for every failing check in the
// report, then re-scores once. Failing checks with no mapped action are
// surfaced as unmapped and never acted on.
func (e *Engine) Run(ctx context.Context, report health.Report) Result {
	result := Result{ScoreBefore: report.Score}

	failingBefore := report.FailingChecks()
	for _, checkID := range failingBefore {
		action, ok := e.actions[checkID]
		if !ok {
			result.Unmapped = append(result.Unmapped, checkID)
			continue
		}
		result.Actions = append(result.Actions, e.execute(ctx, checkID, action))
	}

	for _, ar := range result.Actions {
		if !ar.Succeeded {
			result.RecoveryFailed = append(result.RecoveryFailed, ar.CheckID)
		}
	}

	after := e.scorer.Run(ctx)
	result.ScoreAfter = after.Score

	failingAfter := make(map[string]bool)
	for _, id := range after.FailingChecks() {
		failingAfter[id] = true
	}
	for _, id := range failingBefore {
		if failingAfter[id] {
			result.Unresolved = append(result.Unresolved, id)
		} else {
			result.Resolved = append(result.Resolved, id)
		}
	}

	switch {
	case len(result.Unresolved) == 0 && len(result.RecoveryFailed) == 0 && len(result.Unmapped) == 0:
		result.Outcome = models.OutcomeSuccess
	case len(result.Resolved) > 0 || len(failingBefore) == 0:
		result.Outcome = models.OutcomePartial
	default:
		result.Outcome = models.OutcomeFailed
	}
	return result
}

func (e *Engine) execute(ctx context.Context, checkID string, action Action) ActionResult {
	ar := ActionResult{CheckID: checkID, Action: action.Name}

	attempts := action.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ar.Attempts = attempt
		if err := action.Run(ctx, attempt); err != nil {
			lastErr = err
			if attempt < attempts {
				e.sleep(action.Backoff)
			}
			continue
		}
		ar.Succeeded = true
		return ar
	}

	ar.Error = fmt.Sprintf("exhausted %d attempt(s): %v", attempts, lastErr)
	return ar
}
