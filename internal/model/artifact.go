package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ArtifactKind distinguishes structured records from opaque generated code.
type ArtifactKind string

const (
	KindRecord ArtifactKind = "record"
	KindCode   ArtifactKind = "code"
)

// ErrSchema marks a structural validation failure of a draft or partition
// result. Callers retry schema failures with the same input up to a bound,
// then surface them.
var ErrSchema = errors.New("model: schema violation")

// Artifact is the payload of one pipeline step: a structured record for
// steps 0-4 or opaque generated code for the automated-tests step.
// Confirmed artifacts are immutable; downstream steps reference them,
// never mutate them.
type Artifact interface {
	// Kind reports whether the payload is a structured record or code.
	Kind() ArtifactKind
	// Validate checks the payload against the step's declared schema.
	// Violations wrap ErrSchema.
	Validate() error
}

// Epic is the top-level requirement input to the pipeline (step 0).
type Epic struct {
	Title string `json:"title"`
	Goal  string `json:"goal"`
	Scope string `json:"scope,omitempty"`
}

func (e *Epic) Kind() ArtifactKind { return KindRecord }

func (e *Epic) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("model: epic: missing title: %w", ErrSchema)
	}
	if strings.TrimSpace(e.Goal) == "" {
		return fmt.Errorf("model: epic: missing goal: %w", ErrSchema)
	}
	return nil
}

// Feature is one feature derived from the epic.
type Feature struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FeatureList is the step-1 artifact.
type FeatureList struct {
	Features []Feature `json:"features"`
}

func (l *FeatureList) Kind() ArtifactKind { return KindRecord }

func (l *FeatureList) Validate() error {
	if len(l.Features) == 0 {
		return fmt.Errorf("model: features: empty list: %w", ErrSchema)
	}
	seen := make(map[string]bool, len(l.Features))
	for i, f := range l.Features {
		if f.ID == "" {
			return fmt.Errorf("model: features[%d]: missing id: %w", i, ErrSchema)
		}
		if f.Name == "" {
			return fmt.Errorf("model: features[%d] (%s): missing name: %w", i, f.ID, ErrSchema)
		}
		if seen[f.ID] {
			return fmt.Errorf("model: features: duplicate id %q: %w", f.ID, ErrSchema)
		}
		seen[f.ID] = true
	}
	return nil
}

// Story is one user story under a feature.
type Story struct {
	ID                 string   `json:"id"`
	FeatureID          string   `json:"feature_id"`
	Title              string   `json:"title"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// StoryList is the step-2 artifact. Story IDs are the partition key for
// the batchable downstream steps.
type StoryList struct {
	Stories []Story `json:"stories"`
}

func (l *StoryList) Kind() ArtifactKind { return KindRecord }

func (l *StoryList) Validate() error {
	if len(l.Stories) == 0 {
		return fmt.Errorf("model: stories: empty list: %w", ErrSchema)
	}
	seen := make(map[string]bool, len(l.Stories))
	for i, s := range l.Stories {
		if s.ID == "" {
			return fmt.Errorf("model: stories[%d]: missing id: %w", i, ErrSchema)
		}
		if s.Title == "" {
			return fmt.Errorf("model: stories[%d] (%s): missing title: %w", i, s.ID, ErrSchema)
		}
		if seen[s.ID] {
			return fmt.Errorf("model: stories: duplicate id %q: %w", s.ID, ErrSchema)
		}
		seen[s.ID] = true
	}
	return nil
}

// TestPlan is the step-3 artifact.
type TestPlan struct {
	Scope         string   `json:"scope"`
	InScope       []string `json:"in_scope,omitempty"`
	OutOfScope    []string `json:"out_of_scope,omitempty"`
	TestTypes     []string `json:"test_types,omitempty"`
	Environments  []string `json:"environments,omitempty"`
	EntryCriteria []string `json:"entry_criteria,omitempty"`
	ExitCriteria  []string `json:"exit_criteria,omitempty"`
	Risks         []string `json:"risks,omitempty"`
}

func (p *TestPlan) Kind() ArtifactKind { return KindRecord }

func (p *TestPlan) Validate() error {
	if strings.TrimSpace(p.Scope) == "" {
		return fmt.Errorf("model: test plan: missing scope: %w", ErrSchema)
	}
	if len(p.TestTypes) == 0 {
		return fmt.Errorf("model: test plan: missing test types: %w", ErrSchema)
	}
	return nil
}

// TestCase is one manual test case derived from a single story.
type TestCase struct {
	ID            string            `json:"id"`
	StoryID       string            `json:"story_id"`
	Title         string            `json:"title"`
	Priority      string            `json:"priority"`
	Preconditions []string          `json:"preconditions,omitempty"`
	Steps         []string          `json:"steps"`
	Expected      []string          `json:"expected"`
	TestData      map[string]string `json:"test_data,omitempty"`
}

// TestCaseList is the step-4 artifact. For batched generation each
// partition produces a TestCaseList scoped to one story; the merged list
// must keep case IDs globally unique.
type TestCaseList struct {
	TestCases []TestCase `json:"test_cases"`
}

func (l *TestCaseList) Kind() ArtifactKind { return KindRecord }

func (l *TestCaseList) Validate() error {
	if len(l.TestCases) == 0 {
		return fmt.Errorf("model: test cases: empty list: %w", ErrSchema)
	}
	seen := make(map[string]bool, len(l.TestCases))
	for i, c := range l.TestCases {
		if c.ID == "" {
			return fmt.Errorf("model: test cases[%d]: missing id: %w", i, ErrSchema)
		}
		if c.StoryID == "" {
			return fmt.Errorf("model: test cases[%d] (%s): missing story_id: %w", i, c.ID, ErrSchema)
		}
		if len(c.Steps) == 0 {
			return fmt.Errorf("model: test cases[%d] (%s): missing steps: %w", i, c.ID, ErrSchema)
		}
		if len(c.Expected) == 0 {
			return fmt.Errorf("model: test cases[%d] (%s): missing expected results: %w", i, c.ID, ErrSchema)
		}
		if seen[c.ID] {
			return fmt.Errorf("model: test cases: duplicate id %q: %w", c.ID, ErrSchema)
		}
		seen[c.ID] = true
	}
	return nil
}

// TestScript is the step-5 artifact: generated automated test code,
// treated as opaque text by the core.
type TestScript struct {
	Source string `json:"source"`
}

func (t *TestScript) Kind() ArtifactKind { return KindCode }

func (t *TestScript) Validate() error {
	if strings.TrimSpace(t.Source) == "" {
		return fmt.Errorf("model: test script: empty source: %w", ErrSchema)
	}
	return nil
}

// NewArtifact returns an empty artifact of the concrete type declared for
// the given step index. The store and orchestrator use it to decode
// persisted payloads back into typed values.
func NewArtifact(step int) (Artifact, error) {
	switch step {
	case 0:
		return &Epic{}, nil
	case 1:
		return &FeatureList{}, nil
	case 2:
		return &StoryList{}, nil
	case 3:
		return &TestPlan{}, nil
	case 4:
		return &TestCaseList{}, nil
	case 5:
		return &TestScript{}, nil
	default:
		return nil, fmt.Errorf("model: no artifact type for step %d", step)
	}
}

// EncodeArtifact serializes an artifact for persistence. The encoding is
// deterministic JSON so that put/get round-trips are byte-identical.
func EncodeArtifact(a Artifact) (json.RawMessage, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("model: encode artifact: %w", err)
	}
	return raw, nil
}

// DecodeArtifact deserializes a stored payload into the typed artifact
// declared for the step.
func DecodeArtifact(step int, raw json.RawMessage) (Artifact, error) {
	a, err := NewArtifact(step)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("model: decode artifact for step %d: %w", step, err)
	}
	return a, nil
}
