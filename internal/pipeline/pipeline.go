// Package pipeline holds the static step definition table and the step
// router. The router is pure: it computes the next eligible step from a
// run snapshot and performs no I/O.
package pipeline

import (
	"fmt"

	"github.com/caseforge/caseforge/internal/model"
)

// Step indexes one pipeline stage. Steps execute strictly in index order.
type Step int

const (
	StepEpic Step = iota
	StepFeatures
	StepStories
	StepTestPlan
	StepTestCases
	StepAutomatedTests
)

var stepNames = [model.NumSteps]string{
	"epic",
	"features",
	"stories",
	"test_plan",
	"test_cases",
	"automated_tests",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Valid reports whether s indexes a defined step.
func (s Step) Valid() bool {
	return s >= 0 && int(s) < len(stepNames)
}

// ParseStep resolves a step name to its index.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("pipeline: unknown step %q", name)
}

// Definition is the static metadata for one step: which confirmed upstream
// artifacts generation needs, the output schema kind, and whether the step
// is generated in partitions.
type Definition struct {
	Step         Step
	Name         string
	DependsOn    []Step
	Kind         model.ArtifactKind
	Batchable    bool
	PartitionKey string
}

// table is compiled in and never mutated at runtime.
var table = [model.NumSteps]Definition{
	{
		Step: StepEpic,
		Name: "epic",
		Kind: model.KindRecord,
	},
	{
		Step:      StepFeatures,
		Name:      "features",
		DependsOn: []Step{StepEpic},
		Kind:      model.KindRecord,
	},
	{
		Step:      StepStories,
		Name:      "stories",
		DependsOn: []Step{StepEpic, StepFeatures},
		Kind:      model.KindRecord,
	},
	{
		Step:      StepTestPlan,
		Name:      "test_plan",
		DependsOn: []Step{StepEpic, StepFeatures, StepStories},
		Kind:      model.KindRecord,
	},
	{
		Step:         StepTestCases,
		Name:         "test_cases",
		DependsOn:    []Step{StepFeatures, StepStories, StepTestPlan},
		Kind:         model.KindRecord,
		Batchable:    true,
		PartitionKey: "story_id",
	},
	{
		Step:         StepAutomatedTests,
		Name:         "automated_tests",
		DependsOn:    []Step{StepStories, StepTestPlan, StepTestCases},
		Kind:         model.KindCode,
		Batchable:    true,
		PartitionKey: "story_id",
	},
}

// Lookup returns the definition for the given step.
func Lookup(s Step) (Definition, error) {
	if !s.Valid() {
		return Definition{}, fmt.Errorf("pipeline: step %d out of range", int(s))
	}
	return table[s], nil
}

// Definitions returns the full step table in index order.
func Definitions() []Definition {
	defs := make([]Definition, len(table))
	copy(defs, table[:])
	return defs
}
