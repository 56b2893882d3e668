// Package evaluate checks a generated test script against the confirmed
// test cases it claims to implement. The check is textual: a case counts
// as implemented when its id appears in the script source. It catches
// dropped and duplicated cases, not wrong test logic.
package evaluate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
	"github.com/caseforge/caseforge/internal/store"
)

// CaseResult is the finding for one test case id.
type CaseResult struct {
	ID          string `json:"id"`
	StoryID     string `json:"story_id"`
	Occurrences int    `json:"occurrences"`
}

// Report summarizes script coverage of the confirmed test cases.
type Report struct {
	Total      int          `json:"total"`
	Missing    []CaseResult `json:"missing,omitempty"`
	Duplicated []CaseResult `json:"duplicated,omitempty"`
}

// Clean reports whether every case is implemented exactly once.
func (r *Report) Clean() bool {
	return len(r.Missing) == 0 && len(r.Duplicated) == 0
}

func (r *Report) String() string {
	if r.Clean() {
		return fmt.Sprintf("all %d test cases implemented", r.Total)
	}
	return fmt.Sprintf("%d test cases: %d missing, %d duplicated",
		r.Total, len(r.Missing), len(r.Duplicated))
}

// Coverage evaluates script against cases. Each case id must occur in
// the source exactly once; the merge layer's section headers are ignored
// when counting.
func Coverage(cases *model.TestCaseList, script *model.TestScript) *Report {
	source := stripComments(script.Source)
	report := &Report{Total: len(cases.TestCases)}
	for _, c := range cases.TestCases {
		res := CaseResult{
			ID:          c.ID,
			StoryID:     c.StoryID,
			Occurrences: countID(source, c.ID),
		}
		switch {
		case res.Occurrences == 0:
			report.Missing = append(report.Missing, res)
		case res.Occurrences > 1:
			report.Duplicated = append(report.Duplicated, res)
		}
	}
	return report
}

// countID counts whole-id occurrences. A trailing digit would make the
// match a prefix of a longer id (TC-S-1-1 inside TC-S-1-10), so those are
// excluded.
func countID(source, id string) int {
	re := regexp.MustCompile(regexp.QuoteMeta(id) + `(?:[^0-9]|$)`)
	return len(re.FindAllString(source, -1))
}

// stripComments drops line comments so ids in section headers do not
// count as implementations.
func stripComments(source string) string {
	lines := strings.Split(source, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "//") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// Check loads the latest confirmed test cases and script of traceID from
// st and evaluates them.
func Check(ctx context.Context, st *store.Store, traceID string) (*Report, error) {
	a, _, err := st.Get(ctx, traceID, pipeline.StepTestCases, 0)
	if err != nil {
		return nil, fmt.Errorf("evaluate: load test cases: %w", err)
	}
	cases, ok := a.(*model.TestCaseList)
	if !ok {
		return nil, fmt.Errorf("evaluate: unexpected test case payload %T", a)
	}

	b, _, err := st.Get(ctx, traceID, pipeline.StepAutomatedTests, 0)
	if err != nil {
		return nil, fmt.Errorf("evaluate: load test script: %w", err)
	}
	script, ok := b.(*model.TestScript)
	if !ok {
		return nil, fmt.Errorf("evaluate: unexpected script payload %T", b)
	}
	return Coverage(cases, script), nil
}
