package export

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
	"github.com/caseforge/caseforge/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	run, err := st.LoadOrCreate(ctx, "trace-1", model.Meta{Title: "Checkout"})
	require.NoError(t, err)

	require.NoError(t, st.Confirm(ctx, run, pipeline.StepEpic,
		&model.Epic{Title: "Checkout", Goal: "pay"}))
	require.NoError(t, st.Confirm(ctx, run, pipeline.StepFeatures,
		&model.FeatureList{Features: []model.Feature{{ID: "F-1", Name: "Cart"}}}))
	return st
}

func TestExportWritesConfirmedStepsOnly(t *testing.T) {
	st := seededStore(t)
	dir := t.TempDir()
	exp := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := exp.Run(context.Background(), "trace-1", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"00_epic.confirmed.v1.json",
		"01_features.confirmed.v1.json",
	}, res.Files)

	raw, err := os.ReadFile(filepath.Join(dir, "00_epic.confirmed.v1.json"))
	require.NoError(t, err)
	var epic model.Epic
	require.NoError(t, json.Unmarshal(raw, &epic))
	assert.Equal(t, "Checkout", epic.Title)
}

func TestExportScriptAsRawSource(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()
	run, err := st.LoadRun(ctx, "trace-1")
	require.NoError(t, err)

	require.NoError(t, st.Confirm(ctx, run, pipeline.StepStories,
		&model.StoryList{Stories: []model.Story{{ID: "S-1", FeatureID: "F-1", Title: "Add"}}}))
	require.NoError(t, st.Confirm(ctx, run, pipeline.StepTestPlan,
		&model.TestPlan{Scope: "checkout", TestTypes: []string{"functional"}}))
	require.NoError(t, st.Confirm(ctx, run, pipeline.StepTestCases,
		&model.TestCaseList{TestCases: []model.TestCase{
			{ID: "TC-S-1-1", StoryID: "S-1", Title: "t", Steps: []string{"s"}, Expected: []string{"e"}},
		}}))
	src := "describe('S-1', () => {});"
	require.NoError(t, st.Confirm(ctx, run, pipeline.StepAutomatedTests,
		&model.TestScript{Source: src}))

	dir := t.TempDir()
	exp := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := exp.Run(ctx, "trace-1", dir)
	require.NoError(t, err)
	require.Contains(t, res.Files, "05_automated_tests.confirmed.v1.spec.ts")

	raw, err := os.ReadFile(filepath.Join(dir, "05_automated_tests.confirmed.v1.spec.ts"))
	require.NoError(t, err)
	assert.Equal(t, src, string(raw))
}

func TestExportUnknownTrace(t *testing.T) {
	st := seededStore(t)
	exp := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := exp.Run(context.Background(), "trace-404", t.TempDir())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
