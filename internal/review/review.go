// Package review implements the human checkpoint between drafting and
// confirming a step. Every drafted artifact passes through a Gate; the
// pipeline never advances past a step without an explicit confirm.
package review

import (
	"context"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
)

// Verdict is the reviewer's ruling on a drafted artifact.
type Verdict int

const (
	// Confirm accepts the draft (possibly after in-console edits) and
	// durably promotes it.
	Confirm Verdict = iota
	// Redo rejects the draft and requests regeneration with feedback.
	Redo
	// Abort stops the run. The run stays resumable at the same step.
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Confirm:
		return "confirm"
	case Redo:
		return "redo"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one gate presentation.
type Decision struct {
	Verdict Verdict
	// Feedback accompanies a Redo verdict. It is recorded in the run's
	// redo history and handed to the next generation attempt.
	Feedback string
	// Artifact is the reviewed payload on Confirm. It may differ from
	// the presented draft when the reviewer edited it at the gate.
	Artifact model.Artifact
}

// Gate presents a drafted artifact to a reviewer and blocks until a
// decision is made or ctx is cancelled.
type Gate interface {
	Present(ctx context.Context, def pipeline.Definition, draft model.Artifact, attempt int) (Decision, error)
}
