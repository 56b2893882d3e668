package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseforge/caseforge/internal/generate"
	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
	"github.com/caseforge/caseforge/internal/review"
	"github.com/caseforge/caseforge/internal/store"
)

// scriptDrafter returns canned artifacts per step and counts calls.
type scriptDrafter struct {
	calls    map[pipeline.Step]int
	feedback map[pipeline.Step][]string
}

func newScriptDrafter() *scriptDrafter {
	return &scriptDrafter{
		calls:    make(map[pipeline.Step]int),
		feedback: make(map[pipeline.Step][]string),
	}
}

func (d *scriptDrafter) Draft(_ context.Context, _ model.Meta, step pipeline.Step, _ generate.Upstream, feedback string) (model.Artifact, error) {
	d.calls[step]++
	d.feedback[step] = append(d.feedback[step], feedback)
	return draftFor(step, d.calls[step]), nil
}

func draftFor(step pipeline.Step, attempt int) model.Artifact {
	switch step {
	case pipeline.StepEpic:
		return &model.Epic{Title: "Checkout", Goal: "Customers can pay"}
	case pipeline.StepFeatures:
		return &model.FeatureList{Features: []model.Feature{
			{ID: fmt.Sprintf("F-%d", attempt), Name: "Cart"},
		}}
	case pipeline.StepStories:
		return &model.StoryList{Stories: []model.Story{
			{ID: "S-1", FeatureID: "F-1", Title: "Add item"},
		}}
	case pipeline.StepTestPlan:
		return &model.TestPlan{Scope: "checkout", TestTypes: []string{"functional"}}
	case pipeline.StepTestCases:
		return &model.TestCaseList{TestCases: []model.TestCase{
			{ID: "TC-S-1-1", StoryID: "S-1", Title: "add", Priority: "P2",
				Steps: []string{"s"}, Expected: []string{"e"}},
		}}
	default:
		return &model.TestScript{Source: "describe('S-1', () => {});"}
	}
}

// scriptGate replays a fixed decision sequence.
type scriptGate struct {
	decisions []review.Decision
	presented []pipeline.Step
	attempts  []int
}

func (g *scriptGate) Present(_ context.Context, def pipeline.Definition, draft model.Artifact, attempt int) (review.Decision, error) {
	g.presented = append(g.presented, def.Step)
	g.attempts = append(g.attempts, attempt)
	if len(g.decisions) == 0 {
		return review.Decision{}, errors.New("scriptGate: out of decisions")
	}
	d := g.decisions[0]
	g.decisions = g.decisions[1:]
	if d.Verdict == review.Confirm && d.Artifact == nil {
		d.Artifact = draft
	}
	return d, nil
}

func confirmN(n int) []review.Decision {
	ds := make([]review.Decision, n)
	for i := range ds {
		ds[i] = review.Decision{Verdict: review.Confirm}
	}
	return ds
}

func newTestOrchestrator(t *testing.T, gate review.Gate) (*Orchestrator, *store.Store, *scriptDrafter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gen := newScriptDrafter()
	return New(st, gen, gate, logger), st, gen
}

func TestRunConfirmsAllStepsInOrder(t *testing.T) {
	gate := &scriptGate{decisions: confirmN(model.NumSteps)}
	o, _, gen := newTestOrchestrator(t, gate)

	run, err := o.Run(context.Background(), "trace-1", Options{Meta: model.Meta{Title: "Checkout"}})
	require.NoError(t, err)
	assert.True(t, run.AllConfirmed())
	assert.Equal(t, []pipeline.Step{
		pipeline.StepEpic, pipeline.StepFeatures, pipeline.StepStories,
		pipeline.StepTestPlan, pipeline.StepTestCases, pipeline.StepAutomatedTests,
	}, gate.presented)
	for step, n := range gen.calls {
		assert.Equal(t, 1, n, "step %s drafted more than once", step)
	}
}

func TestRunAbortIsResumable(t *testing.T) {
	gate := &scriptGate{decisions: append(confirmN(2), review.Decision{Verdict: review.Abort})}
	o, st, gen := newTestOrchestrator(t, gate)

	_, err := o.Run(context.Background(), "trace-1", Options{})
	require.ErrorIs(t, err, ErrAborted)

	// The aborted step's draft was persisted before the gate.
	saved, err := st.LoadRun(context.Background(), "trace-1")
	require.NoError(t, err)
	assert.True(t, saved.Confirmed(int(pipeline.StepFeatures)))
	rec, err := saved.Record(int(pipeline.StepStories))
	require.NoError(t, err)
	assert.Equal(t, model.StepDrafted, rec.Status)

	// Resume confirms the remaining steps without regenerating any
	// already drafted or confirmed step.
	gate.decisions = confirmN(4)
	run, err := o.Run(context.Background(), "trace-1", Options{})
	require.NoError(t, err)
	assert.True(t, run.AllConfirmed())
	assert.Equal(t, 1, gen.calls[pipeline.StepStories], "persisted draft must be reused")
	assert.Equal(t, 1, gen.calls[pipeline.StepEpic])
}

func TestRunRedoRecordsFeedbackAndBumpsVersion(t *testing.T) {
	gate := &scriptGate{decisions: []review.Decision{
		{Verdict: review.Confirm}, // epic
		{Verdict: review.Redo, Feedback: "split the cart feature"},
		{Verdict: review.Confirm}, // features, second draft
		{Verdict: review.Confirm}, // stories
		{Verdict: review.Confirm}, // test plan
		{Verdict: review.Confirm}, // test cases
		{Verdict: review.Confirm}, // automated tests
	}}
	o, st, gen := newTestOrchestrator(t, gate)

	run, err := o.Run(context.Background(), "trace-1", Options{})
	require.NoError(t, err)
	assert.True(t, run.AllConfirmed())

	assert.Equal(t, 2, gen.calls[pipeline.StepFeatures])
	assert.Equal(t, []string{"", "split the cart feature"}, gen.feedback[pipeline.StepFeatures],
		"redo feedback must reach the next generation")

	rec, err := run.Record(int(pipeline.StepFeatures))
	require.NoError(t, err)
	require.Len(t, rec.RedoHistory, 1)
	assert.Equal(t, "split the cart feature", rec.RedoHistory[0].Feedback)

	// Attempt numbers shown at the gate follow the redo count.
	assert.Equal(t, []int{1, 1, 2, 1, 1, 1, 1}, gate.attempts)

	// The second draft is what got confirmed.
	a, version, err := st.Get(context.Background(), "trace-1", pipeline.StepFeatures, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, "F-2", a.(*model.FeatureList).Features[0].ID)
}

func TestRunSeedEpicSkipsGenerationAndGate(t *testing.T) {
	gate := &scriptGate{decisions: append(confirmN(2), review.Decision{Verdict: review.Abort})}
	o, st, gen := newTestOrchestrator(t, gate)

	seed := &model.Epic{Title: "Imported", Goal: "From backlog"}
	_, err := o.Run(context.Background(), "trace-1", Options{SeedEpic: seed})
	require.ErrorIs(t, err, ErrAborted)

	assert.Zero(t, gen.calls[pipeline.StepEpic])
	assert.Equal(t, pipeline.StepFeatures, gate.presented[0])

	a, _, err := st.Get(context.Background(), "trace-1", pipeline.StepEpic, 0)
	require.NoError(t, err)
	assert.Equal(t, "Imported", a.(*model.Epic).Title)
}

func TestRunStartFromRollsBack(t *testing.T) {
	gate := &scriptGate{decisions: confirmN(model.NumSteps)}
	o, st, gen := newTestOrchestrator(t, gate)

	_, err := o.Run(context.Background(), "trace-1", Options{})
	require.NoError(t, err)

	// Restart at stories. Epic and features stay confirmed, stories
	// through automated tests run again.
	start := pipeline.StepStories
	gate.decisions = confirmN(4)
	run, err := o.Run(context.Background(), "trace-1", Options{StartFrom: &start})
	require.NoError(t, err)
	assert.True(t, run.AllConfirmed())
	assert.Equal(t, 1, gen.calls[pipeline.StepEpic])
	assert.Equal(t, 2, gen.calls[pipeline.StepStories])

	// Re-confirming creates version 2; version 1 stays retrievable.
	_, version, err := st.Get(context.Background(), "trace-1", pipeline.StepStories, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	_, _, err = st.Get(context.Background(), "trace-1", pipeline.StepStories, 1)
	require.NoError(t, err)
}

func TestRunStartFromRejectsUnreachedStep(t *testing.T) {
	gate := &scriptGate{decisions: append(confirmN(1), review.Decision{Verdict: review.Abort})}
	o, _, _ := newTestOrchestrator(t, gate)

	_, err := o.Run(context.Background(), "trace-1", Options{})
	require.ErrorIs(t, err, ErrAborted)

	start := pipeline.StepTestCases
	_, err = o.Run(context.Background(), "trace-1", Options{StartFrom: &start})
	require.ErrorIs(t, err, pipeline.ErrDependencyUnmet)
}

func TestRunCompletedTraceIsIdempotent(t *testing.T) {
	gate := &scriptGate{decisions: confirmN(model.NumSteps)}
	o, _, gen := newTestOrchestrator(t, gate)

	_, err := o.Run(context.Background(), "trace-1", Options{})
	require.NoError(t, err)

	// No decisions left in the gate: a second Run must not need any.
	run, err := o.Run(context.Background(), "trace-1", Options{})
	require.NoError(t, err)
	assert.True(t, run.AllConfirmed())
	for step, n := range gen.calls {
		assert.Equal(t, 1, n, "step %s regenerated on completed run", step)
	}
}

func TestRunDraftErrorSurfaces(t *testing.T) {
	gate := &scriptGate{decisions: confirmN(model.NumSteps)}
	o, _, _ := newTestOrchestrator(t, gate)
	o.gen = &failingDrafter{}

	_, err := o.Run(context.Background(), "trace-1", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, generate.ErrUnavailable)

	// The run survives the failure and stays pending at the epic.
	run, err := o.store.LoadRun(context.Background(), "trace-1")
	require.NoError(t, err)
	assert.False(t, run.Confirmed(int(pipeline.StepEpic)))
}

type failingDrafter struct{}

func (failingDrafter) Draft(context.Context, model.Meta, pipeline.Step, generate.Upstream, string) (model.Artifact, error) {
	return nil, generate.ErrUnavailable
}
