package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseforge/caseforge/internal/model"
)

func confirmUpTo(run *model.Run, step Step) {
	for i := 0; i <= int(step); i++ {
		run.Steps[i].Status = model.StepConfirmed
		run.Steps[i].Version = 1
	}
}

func TestRouter_Next_FreshRun(t *testing.T) {
	run := model.NewRun("t1", model.Meta{})

	step, done, err := Router{}.Next(run)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StepEpic, step)
}

func TestRouter_Next_ResumesAtDraftedStep(t *testing.T) {
	run := model.NewRun("t1", model.Meta{})
	confirmUpTo(run, StepStories)
	run.Steps[StepTestPlan].Status = model.StepDrafted

	step, done, err := Router{}.Next(run)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StepTestPlan, step, "drafted step is offered again, not skipped")
}

func TestRouter_Next_AllConfirmed(t *testing.T) {
	run := model.NewRun("t1", model.Meta{})
	confirmUpTo(run, StepAutomatedTests)

	_, done, err := Router{}.Next(run)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRouter_Next_DependencyUnmet(t *testing.T) {
	run := model.NewRun("t1", model.Meta{})
	// Hand-edited state: stories confirmed without features.
	run.Steps[StepEpic].Status = model.StepConfirmed
	run.Steps[StepStories].Status = model.StepConfirmed
	run.Steps[StepTestPlan].Status = model.StepConfirmed

	_, _, err := Router{}.Next(run)
	assert.ErrorIs(t, err, ErrDependencyUnmet)
}

func TestRouter_CanStartFrom(t *testing.T) {
	run := model.NewRun("t1", model.Meta{})
	confirmUpTo(run, StepFeatures)

	assert.NoError(t, Router{}.CanStartFrom(run, StepStories))
	assert.ErrorIs(t, Router{}.CanStartFrom(run, StepTestCases), ErrDependencyUnmet)
}

func TestRouter_Rollback(t *testing.T) {
	run := model.NewRun("t1", model.Meta{})
	confirmUpTo(run, StepTestCases)
	run.Steps[StepTestCases].Version = 2

	require.NoError(t, Router{}.Rollback(run, StepTestCases))

	assert.Equal(t, model.StepPending, run.Steps[StepTestCases].Status)
	assert.Equal(t, 2, run.Steps[StepTestCases].Version, "version counter survives rollback")
	assert.Equal(t, model.StepConfirmed, run.Steps[StepTestPlan].Status)

	step, done, err := Router{}.Next(run)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StepTestCases, step)
}

func TestParseStep(t *testing.T) {
	s, err := ParseStep("automated_tests")
	require.NoError(t, err)
	assert.Equal(t, StepAutomatedTests, s)

	_, err = ParseStep("nope")
	assert.Error(t, err)
}

func TestDefinitions_Table(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, model.NumSteps)

	for i, def := range defs {
		assert.Equal(t, Step(i), def.Step)
		for _, dep := range def.DependsOn {
			assert.Less(t, int(dep), i, "dependencies always point backwards")
		}
	}

	tc := defs[StepTestCases]
	assert.True(t, tc.Batchable)
	assert.Equal(t, "story_id", tc.PartitionKey)
	assert.Equal(t, model.KindCode, defs[StepAutomatedTests].Kind)
}
