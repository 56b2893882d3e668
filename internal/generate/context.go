package generate

import (
	"encoding/json"
	"strings"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
)

// Prompt context stays small on purpose: each step sees the Epic plus its
// direct prerequisites, serialized and clipped. Clipping bounds are
// character based.
const (
	maxEpicChars      = 1800
	maxFeaturesChars  = 2500
	maxStoriesChars   = 2800
	maxTestPlanChars  = 2500
	maxTestCasesChars = 3500

	// Per-partition context is clipped tighter.
	maxSingleStoryChars   = 1400
	maxSingleFeatureChars = 1200
	maxSingleCasesChars   = 4500
)

// Upstream is an immutable snapshot of the confirmed artifacts a step's
// generation reads. Partitions share it without locking.
type Upstream map[pipeline.Step]model.Artifact

// Epic returns the confirmed epic, or nil.
func (u Upstream) Epic() *model.Epic {
	if a, ok := u[pipeline.StepEpic].(*model.Epic); ok {
		return a
	}
	return nil
}

// Features returns the confirmed feature list, or nil.
func (u Upstream) Features() *model.FeatureList {
	if a, ok := u[pipeline.StepFeatures].(*model.FeatureList); ok {
		return a
	}
	return nil
}

// Stories returns the confirmed story list, or nil.
func (u Upstream) Stories() *model.StoryList {
	if a, ok := u[pipeline.StepStories].(*model.StoryList); ok {
		return a
	}
	return nil
}

// TestPlan returns the confirmed test plan, or nil.
func (u Upstream) TestPlan() *model.TestPlan {
	if a, ok := u[pipeline.StepTestPlan].(*model.TestPlan); ok {
		return a
	}
	return nil
}

// TestCases returns the confirmed test case list, or nil.
func (u Upstream) TestCases() *model.TestCaseList {
	if a, ok := u[pipeline.StepTestCases].(*model.TestCaseList); ok {
		return a
	}
	return nil
}

// baseData builds the shared prompt context from run metadata, upstream
// artifacts, and redo feedback.
func baseData(meta model.Meta, up Upstream, feedback string) promptData {
	return promptData{
		Title:        meta.Title,
		Domain:       meta.Domain,
		Constraints:  strings.Join(meta.Constraints, "; "),
		Feedback:     feedback,
		EpicJSON:     clipJSON(up.Epic(), maxEpicChars),
		FeaturesJSON: clipJSON(up.Features(), maxFeaturesChars),
		StoriesJSON:  clipJSON(up.Stories(), maxStoriesChars),
		TestPlanJSON: clipJSON(up.TestPlan(), maxTestPlanChars),
	}
}

// clipJSON serializes v and truncates the result to at most max
// characters. nil renders as "".
func clipJSON(v any, max int) string {
	if v == nil {
		return ""
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(raw))
	if s == "null" { // typed nil pointer
		return ""
	}
	if len(s) <= max {
		return s
	}
	return strings.TrimRight(s[:max-3], " \n\t") + "..."
}
