package otest

import (
	"fmt"
	"strings"
	"time"
)

// #region outcome

// Outcome is the result of one operator micro-test. UNCERTAIN is a first-class
// value: downstream classification counts it as FAIL.
type Outcome string

const (
	OutcomePass      Outcome = "PASS"
	OutcomeFail      Outcome = "FAIL"
	OutcomeUncertain Outcome = "UNCERTAIN"
)

// IsValid reports whether o is a canonical outcome token.
func (o Outcome) IsValid() bool {
	return o == OutcomePass || o == OutcomeFail || o == OutcomeUncertain
}

// CountsAsFail reports whether o contributes to the fail count. Anything that
// is not a clean PASS does.
func (o Outcome) CountsAsFail() bool { return o != OutcomePass }

// ParseOutcome normalizes an operator-reported outcome. It never errors: a
// token it cannot recognize becomes UNCERTAIN, which classifies as FAIL.
func ParseOutcome(s string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PASS", "P":
		return OutcomePass
	case "FAIL", "F":
		return OutcomeFail
	case "UNCERTAIN", "U":
		return OutcomeUncertain
	}
	return OutcomeUncertain
}

// #endregion outcome

// #region result

// Result is one recorded O-test observation.
type Result struct {
	TestID    string    `json:"test_id"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// NewResult builds a Result from a raw operator token, applying the fail-safe
// outcome normalization.
func NewResult(testID, rawOutcome string, ts time.Time) Result {
	return Result{TestID: testID, Outcome: ParseOutcome(rawOutcome), Timestamp: ts}
}

// Validate applies the strict rules used for stored artifacts. Intake is
// fail-safe; storage is not.
func (r Result) Validate() error {
	if r.TestID == "" {
		return fmt.Errorf("otest result: empty test_id")
	}
	if !r.Outcome.IsValid() {
		return fmt.Errorf("otest result %s: out-of-enum outcome %q", r.TestID, r.Outcome)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("otest result %s: zero timestamp", r.TestID)
	}
	return nil
}

// #endregion result

// #region summary

// Summary aggregates one batch of results for ledger events and logs.
type Summary struct {
	Pass      int `json:"pass"`
	Fail      int `json:"fail"`
	Uncertain int `json:"uncertain"`
}

// Summarize counts outcomes across a batch.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Outcome {
		case OutcomePass:
			s.Pass++
		case OutcomeFail:
			s.Fail++
		default:
			s.Uncertain++
		}
	}
	return s
}

// FailCount is the number of results that classify as FAIL, UNCERTAIN
// included.
func (s Summary) FailCount() int { return s.Fail + s.Uncertain }

// Total is the number of results summarized.
func (s Summary) Total() int { return s.Pass + s.Fail + s.Uncertain }

func (s Summary) String() string {
	return fmt.Sprintf("P%d/F%d/U%d", s.Pass, s.Fail, s.Uncertain)
}

// #endregion summary

// #region procedure

// Procedure describes one catalog O-test: a micro-test the operator runs
// against themselves. MaxSeconds is an upper bound on how long the procedure
// may take; procedures are meant to stay under a minute.
type Procedure struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Prompt     string `yaml:"prompt" json:"prompt"`
	MaxSeconds int    `yaml:"max_seconds" json:"max_seconds"`
}

// Validate checks the stored form of a procedure.
func (p Procedure) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("otest procedure: empty id")
	}
	if p.MaxSeconds <= 0 || p.MaxSeconds > 60 {
		return fmt.Errorf("otest procedure %s: max_seconds %d outside (0, 60]", p.ID, p.MaxSeconds)
	}
	return nil
}

// #endregion procedure

// #region latest

// Latest returns the most recent timestamp in a batch, or the zero time for
// an empty batch. Snapshot identity derives from observation time, not wall
// clock, so replays reproduce bytes.
func Latest(results []Result) time.Time {
	var max time.Time
	for _, r := range results {
		if r.Timestamp.After(max) {
			max = r.Timestamp
		}
	}
	return max
}

// #endregion latest
