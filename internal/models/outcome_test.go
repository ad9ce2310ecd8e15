package models

import (
	"encoding/json"
	"testing"
)

func TestOutcomeCombineDegrades(t *testing.T) {
	cases := []struct {
		a, b, want Outcome
	}{
		{OutcomeSuccess, OutcomeSuccess, OutcomeSuccess},
		{OutcomeSuccess, OutcomePartial, OutcomePartial},
		{OutcomePartial, OutcomeFailed, OutcomeFailed},
		{OutcomeFailed, OutcomeSuccess, OutcomeFailed},
		{OutcomeSkipped, OutcomePartial, OutcomePartial},
		{OutcomePartial, OutcomeSkipped, OutcomePartial},
	}
	for _, tc := range cases {
		if got := tc.a.Combine(tc.b); got != tc.want {
			t.Errorf("%s.Combine(%s) = %s, want %s", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestOutcomeExitCodes(t *testing.T) {
	if OutcomeSuccess.ExitCode() != 0 || OutcomeSkipped.ExitCode() != 0 {
		t.Error("success and skipped must exit 0")
	}
	if OutcomePartial.ExitCode() != 1 || OutcomeFailed.ExitCode() != 1 {
		t.Error("partial and failed must exit 1")
	}
}

func TestOutcomeJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(OutcomePartial)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"partial"` {
		t.Errorf("marshaled = %s", data)
	}

	var o Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if o != OutcomePartial {
		t.Errorf("round trip = %s", o)
	}

	if err := json.Unmarshal([]byte(`"bogus"`), &o); err == nil {
		t.Error("unknown outcome must not parse")
	}
}
