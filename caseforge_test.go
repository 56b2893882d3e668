package caseforge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/caseforge/caseforge"
)

// scriptedModel answers each step with a canned, schema-valid payload.
// It routes on the system prompt, which is unique per step.
type scriptedModel struct{}

var (
	storyIDRe = regexp.MustCompile(`"id": "(S-\d+)"`)
	caseIDRe  = regexp.MustCompile(`TC-S-\d+-\d+`)
)

func (scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var system, user string
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				switch m.Role {
				case llms.ChatMessageTypeSystem:
					system += tc.Text
				default:
					user += tc.Text
				}
			}
		}
	}

	var content string
	switch {
	case strings.Contains(system, "Epic definition"):
		content = `{"title": "Checkout", "goal": "Customers can pay", "scope": "web"}`
	case strings.Contains(system, "decompose an Epic"):
		content = `{"features": [{"id": "F-1", "name": "Cart"}, {"id": "F-2", "name": "Payment"}]}`
	case strings.Contains(system, "derive user stories"):
		content = `{"stories": [
			{"id": "S-1", "feature_id": "F-1", "title": "Add item"},
			{"id": "S-2", "feature_id": "F-2", "title": "Pay by card"}
		]}`
	case strings.Contains(system, "test plan"):
		content = `{"scope": "checkout flow", "test_types": ["functional"]}`
	case strings.Contains(system, "manual test cases"):
		sid := "S-0"
		if m := storyIDRe.FindStringSubmatch(user); m != nil {
			sid = m[1]
		}
		content = fmt.Sprintf(`{"test_cases": [
			{"id": "TC-%[1]s-1", "story_id": "%[1]s", "title": "happy path", "priority": "P1",
			 "steps": ["do"], "expected": ["done"]}
		]}`, sid)
	case strings.Contains(system, "test automation engineer"):
		var b strings.Builder
		for _, id := range caseIDRe.FindAllString(user, -1) {
			fmt.Fprintf(&b, "test('%s', () => {});\n", id)
		}
		content = b.String()
	default:
		return nil, fmt.Errorf("scriptedModel: unrecognized system prompt")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (scriptedModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", fmt.Errorf("scriptedModel: Call is not used")
}

// confirmGate confirms every draft. redoOnce optionally rejects the first
// presentation of one named step.
type confirmGate struct {
	redoStep  string
	feedback  string
	redone    bool
	presented []string
}

func (g *confirmGate) Present(_ context.Context, step caseforge.StepInfo, _ json.RawMessage) (caseforge.Decision, error) {
	g.presented = append(g.presented, step.Name)
	if step.Name == g.redoStep && !g.redone {
		g.redone = true
		return caseforge.Decision{Verdict: caseforge.VerdictRedo, Feedback: g.feedback}, nil
	}
	return caseforge.Decision{Verdict: caseforge.VerdictConfirm}, nil
}

func newTestApp(t *testing.T, gate caseforge.Gate) *caseforge.App {
	t.Helper()
	app, err := caseforge.New(
		caseforge.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		caseforge.WithDBPath(filepath.Join(t.TempDir(), "test.db")),
		caseforge.WithModel(scriptedModel{}),
		caseforge.WithGate(gate),
	)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestAppFullPipeline(t *testing.T) {
	gate := &confirmGate{}
	app := newTestApp(t, gate)
	ctx := context.Background()

	summary, err := app.Run(ctx, "trace-1", caseforge.RunOptions{
		Title:  "Checkout",
		Domain: "e-commerce",
	})
	require.NoError(t, err)
	assert.True(t, summary.Done())
	assert.Equal(t, []string{
		"epic", "features", "stories", "test_plan", "test_cases", "automated_tests",
	}, gate.presented)

	report, err := app.Check(ctx, "trace-1")
	require.NoError(t, err)
	assert.True(t, report.Clean(), report.String())

	dir := t.TempDir()
	files, err := app.Export(ctx, "trace-1", dir)
	require.NoError(t, err)
	assert.Len(t, files, 6)
	for _, f := range files {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err)
	}

	runs, err := app.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "trace-1", runs[0].TraceID)

	raw, err := app.Artifact(ctx, "trace-1", "features", 0)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"F-2"`)

	script, err := app.Artifact(ctx, "trace-1", "automated_tests", 1)
	require.NoError(t, err)
	assert.Contains(t, string(script), "test('TC-S-1-1'")
}

func TestAppRedoThroughPublicGate(t *testing.T) {
	gate := &confirmGate{redoStep: "features", feedback: "add refunds"}
	app := newTestApp(t, gate)

	summary, err := app.Run(context.Background(), "trace-1", caseforge.RunOptions{Title: "Checkout"})
	require.NoError(t, err)
	assert.True(t, summary.Done())

	// features was presented twice: once rejected, once confirmed.
	assert.Equal(t, []string{
		"epic", "features", "features", "stories", "test_plan", "test_cases", "automated_tests",
	}, gate.presented)
	for _, s := range summary.Steps {
		if s.Name == "features" {
			assert.Equal(t, 1, s.Redos)
		}
	}
}

func TestAppSeedEpicFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"title: Imported\ngoal: From the backlog\nscope: api only\n"), 0o644))

	gate := &confirmGate{}
	app := newTestApp(t, gate)

	summary, err := app.Run(context.Background(), "trace-1", caseforge.RunOptions{EpicFile: path})
	require.NoError(t, err)
	assert.True(t, summary.Done())
	assert.Equal(t, "features", gate.presented[0], "seeded epic must skip the gate")
}

func TestAppInspectUnknownTrace(t *testing.T) {
	app := newTestApp(t, &confirmGate{})

	_, err := app.Inspect(context.Background(), "trace-404")
	assert.ErrorIs(t, err, caseforge.ErrNotFound)
}
