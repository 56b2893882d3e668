// Package orchestrator drives a run through the pipeline: draft a step,
// present it at the review gate, act on the verdict, repeat until every
// step is confirmed or the reviewer aborts.
//
// The orchestrator itself is stateless between calls. All progress lives
// in the store, so a process crash or an abort at any point leaves a run
// that Resume picks up at exactly the step it stopped on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseforge/caseforge/internal/generate"
	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
	"github.com/caseforge/caseforge/internal/review"
	"github.com/caseforge/caseforge/internal/store"
)

// ErrAborted is returned when the reviewer stops the run at the gate.
// The run remains resumable.
var ErrAborted = errors.New("orchestrator: run aborted by reviewer")

// Drafter produces one step's draft from confirmed upstream context.
// *generate.Generator is the production implementation.
type Drafter interface {
	Draft(ctx context.Context, meta model.Meta, step pipeline.Step, up generate.Upstream, feedback string) (model.Artifact, error)
}

// Options configure one Run invocation.
type Options struct {
	// Meta is applied when the trace does not exist yet.
	Meta model.Meta
	// SeedEpic, when set, is confirmed directly as the epic artifact
	// instead of generating one. It only applies while the epic step is
	// unconfirmed.
	SeedEpic *model.Epic
	// StartFrom rolls the run back so execution restarts at this step.
	// Earlier confirmed steps are kept.
	StartFrom *pipeline.Step
}

// Orchestrator executes runs against a store, a drafter and a review gate.
type Orchestrator struct {
	store  *store.Store
	gen    Drafter
	gate   review.Gate
	router pipeline.Router
	logger *slog.Logger
}

// New wires an orchestrator. All dependencies are required.
func New(st *store.Store, gen Drafter, gate review.Gate, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: st, gen: gen, gate: gate, logger: logger}
}

// Run executes the pipeline for traceID until completion, abort, or
// error. Calling it on an existing trace resumes where that trace
// stopped: confirmed steps are never redone and an existing draft is
// re-presented without regeneration.
func (o *Orchestrator) Run(ctx context.Context, traceID string, opts Options) (*model.Run, error) {
	run, err := o.store.LoadOrCreate(ctx, traceID, opts.Meta)
	if err != nil {
		return nil, err
	}

	if opts.StartFrom != nil {
		if err := o.rewind(ctx, run, *opts.StartFrom); err != nil {
			return run, err
		}
	}
	if opts.SeedEpic != nil && !run.Confirmed(int(pipeline.StepEpic)) {
		if err := o.store.Confirm(ctx, run, pipeline.StepEpic, opts.SeedEpic); err != nil {
			return run, fmt.Errorf("orchestrator: seed epic: %w", err)
		}
		o.logger.Info("orchestrator: epic seeded from input", "trace_id", traceID)
	}

	for {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		step, done, err := o.router.Next(run)
		if err != nil {
			return run, err
		}
		if done {
			o.logger.Info("orchestrator: run complete", "trace_id", traceID)
			return run, nil
		}
		if err := o.executeStep(ctx, run, step); err != nil {
			return run, err
		}
	}
}

// executeStep takes one step from pending (or drafted) through the gate
// to exactly one of confirmed, redo-pending, or aborted.
func (o *Orchestrator) executeStep(ctx context.Context, run *model.Run, step pipeline.Step) error {
	def, err := pipeline.Lookup(step)
	if err != nil {
		return err
	}
	rec, err := run.Record(int(step))
	if err != nil {
		return err
	}

	draft, err := o.obtainDraft(ctx, run, def, rec)
	if err != nil {
		return err
	}

	decision, err := o.gate.Present(ctx, def, draft, len(rec.RedoHistory)+1)
	if err != nil {
		return fmt.Errorf("orchestrator: review %s: %w", def.Name, err)
	}

	switch decision.Verdict {
	case review.Confirm:
		if err := o.store.Confirm(ctx, run, step, decision.Artifact); err != nil {
			return fmt.Errorf("orchestrator: confirm %s: %w", def.Name, err)
		}
		return nil

	case review.Redo:
		rec.RedoHistory = append(rec.RedoHistory, model.RedoEntry{
			At:       time.Now().UTC(),
			Feedback: decision.Feedback,
		})
		rec.Status = model.StepPending
		rec.Draft = nil
		if err := o.store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("orchestrator: record redo %s: %w", def.Name, err)
		}
		o.logger.Info("orchestrator: redo requested",
			"trace_id", run.TraceID, "step", def.Name, "redo_count", len(rec.RedoHistory))
		return nil

	case review.Abort:
		if err := o.store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("orchestrator: save on abort: %w", err)
		}
		o.logger.Info("orchestrator: run aborted",
			"trace_id", run.TraceID, "step", def.Name)
		return ErrAborted

	default:
		return fmt.Errorf("orchestrator: unknown verdict %v for %s", decision.Verdict, def.Name)
	}
}

// obtainDraft returns the step's draft, reusing a persisted one when the
// previous session stopped between drafting and deciding. Fresh drafts
// are persisted before the gate so they survive a crash during review.
func (o *Orchestrator) obtainDraft(ctx context.Context, run *model.Run, def pipeline.Definition, rec *model.StepRecord) (model.Artifact, error) {
	if rec.Status == model.StepDrafted && len(rec.Draft) > 0 {
		a, err := model.DecodeArtifact(rec.Step, rec.Draft)
		if err == nil {
			o.logger.Info("orchestrator: reusing persisted draft",
				"trace_id", run.TraceID, "step", def.Name)
			return a, nil
		}
		o.logger.Warn("orchestrator: persisted draft unreadable, regenerating",
			"trace_id", run.TraceID, "step", def.Name, "error", err)
	}

	up, err := o.loadUpstream(ctx, run.TraceID, def)
	if err != nil {
		return nil, err
	}
	draft, err := o.gen.Draft(ctx, run.Meta, def.Step, up, rec.LastFeedback())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: draft %s: %w", def.Name, err)
	}

	raw, err := model.EncodeArtifact(draft)
	if err != nil {
		return nil, err
	}
	rec.Status = model.StepDrafted
	rec.Draft = raw
	if err := o.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: persist draft %s: %w", def.Name, err)
	}
	return draft, nil
}

// loadUpstream fetches the latest confirmed artifact of each dependency.
func (o *Orchestrator) loadUpstream(ctx context.Context, traceID string, def pipeline.Definition) (generate.Upstream, error) {
	up := make(generate.Upstream, len(def.DependsOn))
	for _, dep := range def.DependsOn {
		a, _, err := o.store.Get(ctx, traceID, dep, 0)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load %s for %s: %w", dep, def.Name, err)
		}
		up[dep] = a
	}
	return up, nil
}

// rewind rolls the run back so target becomes the next step, then
// persists the rolled-back state. Confirmed versions of the rolled-back
// steps stay retrievable in the artifact log.
func (o *Orchestrator) rewind(ctx context.Context, run *model.Run, target pipeline.Step) error {
	if err := o.router.Rollback(run, target); err != nil {
		return err
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("orchestrator: persist rollback: %w", err)
	}
	o.logger.Info("orchestrator: rolled back",
		"trace_id", run.TraceID, "restart_at", target.String())
	return nil
}
