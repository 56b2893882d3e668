// Package model defines the core domain types for caseforge.
//
// A Run is one end-to-end pipeline execution identified by a trace ID.
// Each run owns exactly NumSteps step records, one per pipeline step.
// Types use strong typing (enums, typed payloads) and avoid interface{}
// wherever possible.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// NumSteps is the number of pipeline steps (epic through automated_tests).
const NumSteps = 6

// StepStatus represents the lifecycle state of a step record.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepDrafted   StepStatus = "drafted"
	StepConfirmed StepStatus = "confirmed"
)

// Meta is free-form run metadata captured at creation.
type Meta struct {
	Title       string   `json:"title,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// RedoEntry records one human redo decision with its feedback text.
// Feedback is advisory free text; it is durably recorded and forwarded
// to the next generation attempt, nothing more.
type RedoEntry struct {
	At       time.Time `json:"at"`
	Feedback string    `json:"feedback"`
}

// StepRecord tracks one step of one run.
//
// Version counts confirmed versions: 0 means never confirmed, N means
// versions 1..N exist in the artifact store. Confirmed versions are
// immutable; a redo after confirmation produces a new draft and, on the
// next confirm, version N+1.
type StepRecord struct {
	Step        int             `json:"step"`
	Status      StepStatus      `json:"status"`
	Version     int             `json:"version"`
	Draft       json.RawMessage `json:"draft,omitempty"`
	RedoHistory []RedoEntry     `json:"redo_history,omitempty"`
}

// LastFeedback returns the most recent redo feedback, or "" if none.
func (r *StepRecord) LastFeedback() string {
	if len(r.RedoHistory) == 0 {
		return ""
	}
	return r.RedoHistory[len(r.RedoHistory)-1].Feedback
}

// Run is one end-to-end pipeline execution.
type Run struct {
	TraceID   string       `json:"trace_id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Meta      Meta         `json:"meta"`
	Steps     []StepRecord `json:"steps"`
}

// NewRun creates a fresh run with all steps pending.
func NewRun(traceID string, meta Meta) *Run {
	now := time.Now().UTC()
	steps := make([]StepRecord, NumSteps)
	for i := range steps {
		steps[i] = StepRecord{Step: i, Status: StepPending}
	}
	return &Run{
		TraceID:   traceID,
		CreatedAt: now,
		UpdatedAt: now,
		Meta:      meta,
		Steps:     steps,
	}
}

// Record returns the step record for the given step index.
func (r *Run) Record(step int) (*StepRecord, error) {
	if step < 0 || step >= len(r.Steps) {
		return nil, fmt.Errorf("model: step %d out of range", step)
	}
	return &r.Steps[step], nil
}

// Confirmed reports whether the given step has at least one confirmed version.
func (r *Run) Confirmed(step int) bool {
	return step >= 0 && step < len(r.Steps) && r.Steps[step].Status == StepConfirmed
}

// AllConfirmed reports whether every step of the run is confirmed.
func (r *Run) AllConfirmed() bool {
	for i := range r.Steps {
		if r.Steps[i].Status != StepConfirmed {
			return false
		}
	}
	return true
}
