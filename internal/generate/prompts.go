package generate

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/caseforge/caseforge/internal/pipeline"
)

//go:embed prompts/*.txt prompts/*.tmpl
var promptFS embed.FS

// promptData carries everything a user template may reference. Unused
// fields render empty, so one data shape serves all steps.
type promptData struct {
	Title       string
	Domain      string
	Constraints string
	Feedback    string

	EpicJSON      string
	FeaturesJSON  string
	StoriesJSON   string
	TestPlanJSON  string
	TestCasesJSON string

	// Per-partition context for batchable steps.
	StoryID     string
	StoryJSON   string
	FeatureJSON string
	MaxCases    int
}

var userTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// systemPrompt returns the embedded system prompt for a step.
func systemPrompt(step pipeline.Step) (string, error) {
	raw, err := promptFS.ReadFile(fmt.Sprintf("prompts/%s.system.txt", step))
	if err != nil {
		return "", fmt.Errorf("generate: system prompt for %s: %w", step, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// userPrompt renders the embedded user template for a step.
func userPrompt(step pipeline.Step, data promptData) (string, error) {
	var sb strings.Builder
	if err := userTemplates.ExecuteTemplate(&sb, fmt.Sprintf("%s.user.tmpl", step), data); err != nil {
		return "", fmt.Errorf("generate: user prompt for %s: %w", step, err)
	}
	return strings.TrimSpace(sb.String()), nil
}
