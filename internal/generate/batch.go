package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
)

// partition is the atomic unit of batched generation: one story plus the
// shared context it needs. Partitions read disjoint slices of upstream
// input and never share mutable state, so they are safe to generate
// concurrently.
type partition struct {
	Story   model.Story
	Feature *model.Feature
	Cases   []model.TestCase // populated for the automated-tests step
}

// partitionByStory computes the deterministic partition set for the
// batchable steps: one partition per story, in story-list order, so
// identical input always yields identical partitioning.
func partitionByStory(stories *model.StoryList, features *model.FeatureList) []partition {
	featureByID := make(map[string]model.Feature)
	if features != nil {
		for _, f := range features.Features {
			featureByID[f.ID] = f
		}
	}

	parts := make([]partition, 0, len(stories.Stories))
	for _, s := range stories.Stories {
		p := partition{Story: s}
		if f, ok := featureByID[s.FeatureID]; ok {
			fc := f
			p.Feature = &fc
		}
		parts = append(parts, p)
	}
	return parts
}

// attachCases distributes confirmed test cases onto their owning story's
// partition, preserving case order within each partition. Cases whose
// story_id matches no story are rejected rather than silently dropped.
func attachCases(parts []partition, cases *model.TestCaseList) error {
	idx := make(map[string]int, len(parts))
	for i, p := range parts {
		idx[p.Story.ID] = i
	}
	var orphaned []string
	for _, c := range cases.TestCases {
		i, ok := idx[c.StoryID]
		if !ok {
			orphaned = append(orphaned, c.ID)
			continue
		}
		parts[i].Cases = append(parts[i].Cases, c)
	}
	if len(orphaned) > 0 {
		sort.Strings(orphaned)
		return fmt.Errorf("generate: test cases %v reference unknown stories: %w", orphaned, model.ErrSchema)
	}
	return nil
}

// draftTestCases generates test cases per story concurrently and merges
// them into the step's single draft. Any partition exhausting its retry
// budget aborts the whole batch; no partial draft is ever returned.
func (g *Generator) draftTestCases(ctx context.Context, up Upstream, feedback string) (model.Artifact, error) {
	stories := up.Stories()
	if stories == nil || len(stories.Stories) == 0 {
		return nil, fmt.Errorf("generate: test_cases: no confirmed stories: %w", model.ErrSchema)
	}
	parts := partitionByStory(stories, up.Features())
	base := baseData(model.Meta{}, up, feedback)

	results := make([]*model.TestCaseList, len(parts))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, p := range parts {
		eg.Go(func() error {
			list, err := g.casesForStory(gctx, base, p)
			if err != nil {
				return fmt.Errorf("generate: partition %s: %w", p.Story.ID, err)
			}
			results[i] = list
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged, err := mergeTestCases(results)
	if err != nil {
		return nil, err
	}
	g.logger.Info("generate: merged test case batch",
		"partitions", len(parts), "cases", len(merged.TestCases))
	return merged, nil
}

// casesForStory generates and normalizes the test cases of one partition,
// retrying schema violations with the same input up to the bound.
func (g *Generator) casesForStory(ctx context.Context, base promptData, p partition) (*model.TestCaseList, error) {
	system, err := systemPrompt(pipeline.StepTestCases)
	if err != nil {
		return nil, err
	}
	data := base
	data.StoryID = p.Story.ID
	data.StoryJSON = clipJSON(&p.Story, maxSingleStoryChars)
	data.FeatureJSON = clipJSON(p.Feature, maxSingleFeatureChars)
	data.MaxCases = g.cfg.MaxCasesPerStory
	user, err := userPrompt(pipeline.StepTestCases, data)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		content, err := g.complete(ctx, system, user, true)
		if err != nil {
			return nil, err
		}
		list, err := g.decodeStoryCases(content, p.Story.ID)
		if err == nil {
			return list, nil
		}
		if !errors.Is(err, model.ErrSchema) {
			return nil, err
		}
		lastErr = err
		g.logger.Warn("generate: partition draft failed validation, retrying",
			"story_id", p.Story.ID, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("%d attempts exhausted: %w", g.cfg.MaxAttempts, lastErr)
}

// decodeStoryCases decodes one partition result and normalizes it:
// story_id is forced to the partition's story, missing ids and priorities
// are filled, and the per-story cap is applied.
func (g *Generator) decodeStoryCases(content, storyID string) (*model.TestCaseList, error) {
	raw := extractFirstJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("generate: no JSON in partition response: %w", model.ErrSchema)
	}
	var list model.TestCaseList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("generate: malformed partition JSON: %v: %w", err, model.ErrSchema)
	}
	if len(list.TestCases) > g.cfg.MaxCasesPerStory {
		list.TestCases = list.TestCases[:g.cfg.MaxCasesPerStory]
	}
	for i := range list.TestCases {
		c := &list.TestCases[i]
		c.StoryID = storyID
		if c.ID == "" {
			c.ID = fmt.Sprintf("TC-%s-%d", storyID, i+1)
		}
		if c.Priority == "" {
			c.Priority = "P2"
		}
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return &list, nil
}

// draftAutomatedTests generates test code per story concurrently and
// merges the sections into one script draft.
func (g *Generator) draftAutomatedTests(ctx context.Context, up Upstream, feedback string) (model.Artifact, error) {
	stories := up.Stories()
	cases := up.TestCases()
	if stories == nil || cases == nil || len(cases.TestCases) == 0 {
		return nil, fmt.Errorf("generate: automated_tests: no confirmed test cases: %w", model.ErrSchema)
	}

	parts := partitionByStory(stories, up.Features())
	if err := attachCases(parts, cases); err != nil {
		return nil, err
	}
	// Stories without cases have nothing to implement.
	covered := parts[:0]
	for _, p := range parts {
		if len(p.Cases) > 0 {
			covered = append(covered, p)
		}
	}
	parts = covered

	base := baseData(model.Meta{}, up, feedback)
	sections := make([]scriptSection, len(parts))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, p := range parts {
		eg.Go(func() error {
			code, err := g.testsForStory(gctx, base, p)
			if err != nil {
				return fmt.Errorf("generate: partition %s: %w", p.Story.ID, err)
			}
			sections[i] = scriptSection{Story: p.Story, Cases: p.Cases, Code: code}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	script := mergeScript(sections)
	if err := script.Validate(); err != nil {
		return nil, err
	}
	g.logger.Info("generate: merged automated test batch", "partitions", len(parts))
	return script, nil
}

// testsForStory generates the test code of one partition.
func (g *Generator) testsForStory(ctx context.Context, base promptData, p partition) (string, error) {
	system, err := systemPrompt(pipeline.StepAutomatedTests)
	if err != nil {
		return "", err
	}
	data := base
	data.StoryID = p.Story.ID
	data.StoryJSON = clipJSON(&p.Story, maxSingleStoryChars)
	data.FeatureJSON = clipJSON(p.Feature, maxSingleFeatureChars)
	data.TestCasesJSON = clipJSON(&model.TestCaseList{TestCases: p.Cases}, maxSingleCasesChars)
	user, err := userPrompt(pipeline.StepAutomatedTests, data)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		content, err := g.complete(ctx, system, user, false)
		if err != nil {
			return "", err
		}
		code := stripCodeFence(content)
		if code != "" {
			return code, nil
		}
		lastErr = fmt.Errorf("generate: empty partition code: %w", model.ErrSchema)
		g.logger.Warn("generate: partition returned empty code, retrying",
			"story_id", p.Story.ID, "attempt", attempt)
	}
	return "", fmt.Errorf("%d attempts exhausted: %w", g.cfg.MaxAttempts, lastErr)
}
