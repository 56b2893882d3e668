package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseforge/caseforge/internal/model"
)

func cases(ids ...string) *model.TestCaseList {
	l := &model.TestCaseList{}
	for _, id := range ids {
		l.TestCases = append(l.TestCases, model.TestCase{
			ID: id, StoryID: "S-1", Title: "t",
			Steps: []string{"s"}, Expected: []string{"e"},
		})
	}
	return l
}

func TestCoverageClean(t *testing.T) {
	script := &model.TestScript{Source: `
describe('S-1', () => {
  test('TC-S-1-1 adds an item', () => {});
  test('TC-S-1-2 rejects empty cart', () => {});
});`}
	r := Coverage(cases("TC-S-1-1", "TC-S-1-2"), script)
	assert.True(t, r.Clean())
	assert.Equal(t, 2, r.Total)
	assert.Contains(t, r.String(), "all 2 test cases implemented")
}

func TestCoverageReportsMissing(t *testing.T) {
	script := &model.TestScript{Source: `test('TC-S-1-1', () => {});`}
	r := Coverage(cases("TC-S-1-1", "TC-S-1-2"), script)
	assert.False(t, r.Clean())
	require.Len(t, r.Missing, 1)
	assert.Equal(t, "TC-S-1-2", r.Missing[0].ID)
}

func TestCoverageReportsDuplicates(t *testing.T) {
	script := &model.TestScript{Source: `
test('TC-S-1-1', () => {});
test('TC-S-1-1 again', () => {});`}
	r := Coverage(cases("TC-S-1-1"), script)
	require.Len(t, r.Duplicated, 1)
	assert.Equal(t, 2, r.Duplicated[0].Occurrences)
}

func TestCoverageIgnoresSectionHeaders(t *testing.T) {
	script := &model.TestScript{Source: `
// cases: TC-S-1-1
test('TC-S-1-1', () => {});`}
	r := Coverage(cases("TC-S-1-1"), script)
	assert.True(t, r.Clean(), "comment mentions must not count as duplicates")
}

func TestCoverageIDPrefixDoesNotMatchLongerID(t *testing.T) {
	script := &model.TestScript{Source: `test('TC-S-1-10', () => {});`}
	r := Coverage(cases("TC-S-1-1", "TC-S-1-10"), script)
	require.Len(t, r.Missing, 1)
	assert.Equal(t, "TC-S-1-1", r.Missing[0].ID)
}
