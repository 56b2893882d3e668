package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
)

// Draft produces an unconfirmed artifact for step from the run metadata,
// the confirmed upstream snapshot, and optional redo feedback. Batchable
// steps fan out per partition; all others are a single collaborator call.
func (g *Generator) Draft(ctx context.Context, meta model.Meta, step pipeline.Step, up Upstream, feedback string) (model.Artifact, error) {
	def, err := pipeline.Lookup(step)
	if err != nil {
		return nil, err
	}

	switch {
	case def.Step == pipeline.StepTestCases:
		return g.draftTestCases(ctx, up, feedback)
	case def.Step == pipeline.StepAutomatedTests:
		return g.draftAutomatedTests(ctx, up, feedback)
	default:
		return g.draftRecord(ctx, meta, step, up, feedback)
	}
}

// draftRecord is the single-shot path for non-batchable structured steps.
func (g *Generator) draftRecord(ctx context.Context, meta model.Meta, step pipeline.Step, up Upstream, feedback string) (model.Artifact, error) {
	system, err := systemPrompt(step)
	if err != nil {
		return nil, err
	}
	user, err := userPrompt(step, baseData(meta, up, feedback))
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		content, err := g.complete(ctx, system, user, true)
		if err != nil {
			return nil, fmt.Errorf("generate: %s: %w", step, err)
		}
		a, err := decodeRecord(int(step), content)
		if err == nil {
			g.logger.Debug("generate: drafted", "step", step.String(), "attempt", attempt)
			return a, nil
		}
		if !errors.Is(err, model.ErrSchema) {
			return nil, err
		}
		lastErr = err
		g.logger.Warn("generate: draft failed validation, retrying",
			"step", step.String(), "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("generate: %s: %d attempts exhausted: %w", step, g.cfg.MaxAttempts, lastErr)
}

// decodeRecord extracts the first JSON value from raw model output and
// decodes it into the step's typed artifact. Malformed or truncated JSON
// counts as a schema violation so callers retry it like any other
// structural failure.
func decodeRecord(step int, content string) (model.Artifact, error) {
	raw := extractFirstJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("generate: step %d: no JSON in response: %w", step, model.ErrSchema)
	}
	a, err := model.NewArtifact(step)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), a); err != nil {
		return nil, fmt.Errorf("generate: step %d: malformed JSON: %v: %w", step, err, model.ErrSchema)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
