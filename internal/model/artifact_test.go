package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCases() *TestCaseList {
	return &TestCaseList{TestCases: []TestCase{
		{
			ID:       "TC-US-1-1",
			StoryID:  "US-1",
			Title:    "login with valid credentials",
			Priority: "P1",
			Steps:    []string{"open login page", "enter credentials", "submit"},
			Expected: []string{"dashboard is shown"},
		},
		{
			ID:       "TC-US-1-2",
			StoryID:  "US-1",
			Title:    "login with wrong password",
			Priority: "P2",
			Steps:    []string{"open login page", "enter wrong password", "submit"},
			Expected: []string{"error message is shown"},
		},
	}}
}

func TestFeatureList_Validate(t *testing.T) {
	tests := []struct {
		name    string
		list    FeatureList
		wantErr bool
	}{
		{
			name: "valid",
			list: FeatureList{Features: []Feature{
				{ID: "F-1", Name: "Login"},
				{ID: "F-2", Name: "Logout"},
			}},
		},
		{name: "empty", list: FeatureList{}, wantErr: true},
		{
			name: "duplicate id",
			list: FeatureList{Features: []Feature{
				{ID: "F-1", Name: "Login"},
				{ID: "F-1", Name: "Logout"},
			}},
			wantErr: true,
		},
		{
			name:    "missing id",
			list:    FeatureList{Features: []Feature{{Name: "Login"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.list.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSchema)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTestCaseList_Validate(t *testing.T) {
	require.NoError(t, validCases().Validate())

	dup := validCases()
	dup.TestCases[1].ID = dup.TestCases[0].ID
	err := dup.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)

	noSteps := validCases()
	noSteps.TestCases[0].Steps = nil
	assert.ErrorIs(t, noSteps.Validate(), ErrSchema)
}

func TestEncodeDecodeArtifact_RoundTrip(t *testing.T) {
	orig := validCases()

	raw, err := EncodeArtifact(orig)
	require.NoError(t, err)

	got, err := DecodeArtifact(4, raw)
	require.NoError(t, err)
	assert.Equal(t, orig, got)

	// Re-encoding yields byte-identical content.
	raw2, err := EncodeArtifact(got)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}

func TestDecodeArtifact_TypedPerStep(t *testing.T) {
	a, err := DecodeArtifact(5, []byte(`{"source":"test('x', ...)"}`))
	require.NoError(t, err)
	script, ok := a.(*TestScript)
	require.True(t, ok)
	assert.Equal(t, "test('x', ...)", script.Source)
	assert.Equal(t, KindCode, script.Kind())

	_, err = DecodeArtifact(9, []byte(`{}`))
	assert.Error(t, err)
}

func TestNewRun_AllPending(t *testing.T) {
	run := NewRun("trace-1", Meta{Title: "Checkout"})
	require.Len(t, run.Steps, NumSteps)
	for i, rec := range run.Steps {
		assert.Equal(t, i, rec.Step)
		assert.Equal(t, StepPending, rec.Status)
		assert.Zero(t, rec.Version)
	}
	assert.False(t, run.AllConfirmed())
}

func TestStepRecord_LastFeedback(t *testing.T) {
	rec := StepRecord{}
	assert.Empty(t, rec.LastFeedback())

	rec.RedoHistory = append(rec.RedoHistory, RedoEntry{Feedback: "first"})
	rec.RedoHistory = append(rec.RedoHistory, RedoEntry{Feedback: "missing edge case for logout"})
	assert.Equal(t, "missing edge case for logout", rec.LastFeedback())
}
