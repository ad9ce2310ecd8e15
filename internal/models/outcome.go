package models

import (
	"encoding/json"
	"fmt"
)

// Outcome is the typed result of an operation. Expected partial failures
// are values, not errors: callers branch on the outcome instead of
// recovering from panics or sentinel errors.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartial
	OutcomeFailed
	// OutcomeSkipped means another invocation of the same operation held
	// the lock and this run did nothing.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ExitCode maps an outcome to the CLI exit convention: 0 full success,
// 1 partial or degraded. Invocation errors use codes above 1 and are
// handled before an outcome exists.
func (o Outcome) ExitCode() int {
	if o == OutcomeSuccess || o == OutcomeSkipped {
		return 0
	}
	return 1
}

// Outcomes serialize as their names so manifests and JSON output stay
// readable.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "success":
		*o = OutcomeSuccess
	case "partial":
		*o = OutcomePartial
	case "failed":
		*o = OutcomeFailed
	case "skipped":
		*o = OutcomeSkipped
	default:
		return fmt.Errorf("unknown outcome %q", s)
	}
	return nil
}

// Combine degrades toward the worse of two outcomes.
func (o Outcome) Combine(other Outcome) Outcome {
	if other == OutcomeSkipped {
		return o
	}
	if o == OutcomeSkipped {
		return other
	}
	if other > o {
		return other
	}
	return o
}
