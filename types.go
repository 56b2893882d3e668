package caseforge

import (
	"encoding/json"
	"time"
)

// Verdict is a reviewer's ruling on a presented draft.
type Verdict string

const (
	VerdictConfirm Verdict = "confirm"
	VerdictRedo    Verdict = "redo"
	VerdictAbort   Verdict = "abort"
)

// StepInfo identifies the step a draft belongs to.
type StepInfo struct {
	// Index is the step position in the pipeline, 0 through 5.
	Index int
	// Name is the step's stable name (epic, features, stories,
	// test_plan, test_cases, automated_tests).
	Name string
	// Attempt counts the drafts presented for this step, starting at 1.
	Attempt int
}

// Decision is a gate's ruling on one draft.
type Decision struct {
	Verdict Verdict
	// Feedback accompanies VerdictRedo and is handed to the next
	// generation attempt.
	Feedback string
	// Artifact optionally replaces the draft on VerdictConfirm, e.g.
	// after the reviewer edited it. Nil confirms the draft as presented.
	// It must decode as the step's artifact shape.
	Artifact json.RawMessage
}

// StepSummary is the public view of one step's state.
type StepSummary struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pending | drafted | confirmed
	Version int    `json:"version"`
	Redos   int    `json:"redos"`
}

// RunSummary is the public view of one run's state.
type RunSummary struct {
	TraceID   string        `json:"trace_id"`
	Title     string        `json:"title,omitempty"`
	Confirmed int           `json:"confirmed"`
	Steps     []StepSummary `json:"steps"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Done reports whether every step of the run is confirmed.
func (s RunSummary) Done() bool {
	return s.Confirmed == len(s.Steps) && len(s.Steps) > 0
}
