package pipeline

import (
	"errors"
	"fmt"

	"github.com/caseforge/caseforge/internal/model"
)

// ErrDependencyUnmet is returned when the next unconfirmed step has an
// unconfirmed dependency. Under normal sequencing this is unreachable; it
// guards against corrupted or hand-edited run state on resume and is fatal
// to the run, never retried.
var ErrDependencyUnmet = errors.New("pipeline: dependency unmet")

// Router decides the next eligible step for a run snapshot.
// It is stateless; all methods are safe for concurrent use.
type Router struct{}

// Next returns the lowest-indexed step whose status is not confirmed.
// done is true when every step is confirmed.
func (Router) Next(run *model.Run) (step Step, done bool, err error) {
	for i := range run.Steps {
		if run.Steps[i].Status == model.StepConfirmed {
			continue
		}
		s := Step(i)
		if missing := unmetDeps(run, s); len(missing) > 0 {
			return 0, false, fmt.Errorf("pipeline: step %s requires confirmed %v: %w", s, missing, ErrDependencyUnmet)
		}
		return s, false, nil
	}
	return 0, true, nil
}

// CanStartFrom checks whether a run may be (re)started at target: every
// step before it must already be confirmed.
func (Router) CanStartFrom(run *model.Run, target Step) error {
	if !target.Valid() {
		return fmt.Errorf("pipeline: step %d out of range", int(target))
	}
	var missing []Step
	for i := 0; i < int(target); i++ {
		if run.Steps[i].Status != model.StepConfirmed {
			missing = append(missing, Step(i))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: cannot start from %s, unconfirmed prerequisites %v: %w", target, missing, ErrDependencyUnmet)
	}
	return nil
}

// Rollback returns the run to target: target and everything after it go
// back to pending and lose their drafts. Version counters are kept so a
// later confirm creates the next version; previously confirmed artifacts
// stay retrievable in the store.
func (r Router) Rollback(run *model.Run, target Step) error {
	if err := r.CanStartFrom(run, target); err != nil {
		return err
	}
	for i := int(target); i < len(run.Steps); i++ {
		run.Steps[i].Status = model.StepPending
		run.Steps[i].Draft = nil
	}
	return nil
}

func unmetDeps(run *model.Run, s Step) []Step {
	def := table[s]
	var missing []Step
	for _, dep := range def.DependsOn {
		if !run.Confirmed(int(dep)) {
			missing = append(missing, dep)
		}
	}
	return missing
}
