package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caseforge/caseforge/internal/model"
)

// MergeConflictError reports test case ids produced by more than one
// partition. It is fatal: the merge never picks a winner, the whole batch
// is regenerated instead.
type MergeConflictError struct {
	IDs []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("generate: merge conflict, duplicate test case ids: %s", strings.Join(e.IDs, ", "))
}

// mergeTestCases concatenates partition results in partition order and
// re-checks id uniqueness across the whole set. Within-partition
// uniqueness was already validated per partition; this catches collisions
// between partitions.
func mergeTestCases(results []*model.TestCaseList) (*model.TestCaseList, error) {
	merged := &model.TestCaseList{}
	seen := make(map[string]bool)
	var dup []string
	for _, list := range results {
		for _, c := range list.TestCases {
			if seen[c.ID] {
				dup = append(dup, c.ID)
				continue
			}
			seen[c.ID] = true
			merged.TestCases = append(merged.TestCases, c)
		}
	}
	if len(dup) > 0 {
		sort.Strings(dup)
		return nil, &MergeConflictError{IDs: dup}
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// scriptSection is one partition's contribution to the merged test script.
type scriptSection struct {
	Story model.Story
	Cases []model.TestCase
	Code  string
}

// mergeScript assembles the per-story code sections into a single source
// file. Each section keeps a header naming its story and the case ids it
// implements so failures trace back to their partition.
func mergeScript(sections []scriptSection) *model.TestScript {
	var b strings.Builder
	b.WriteString("// Generated automated test suite.\n")
	b.WriteString("// One section per story; do not reorder sections by hand.\n")
	for _, s := range sections {
		ids := make([]string, len(s.Cases))
		for i, c := range s.Cases {
			ids[i] = c.ID
		}
		fmt.Fprintf(&b, "\n// --- story %s: %s\n", s.Story.ID, s.Story.Title)
		fmt.Fprintf(&b, "// cases: %s\n", strings.Join(ids, ", "))
		b.WriteString(strings.TrimRight(s.Code, "\n"))
		b.WriteString("\n")
	}
	return &model.TestScript{Source: b.String()}
}
