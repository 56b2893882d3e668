package review

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46"))
)

const consoleHelp = `commands:
  show                     reprint the current draft
  confirm                  accept the draft and continue
  redo <feedback>          regenerate the step with feedback
  keep <id> [id...]        keep only the listed items (list steps)
  drop <id> [id...]        remove the listed items (list steps)
  rename <id> <new title>  retitle one item (list steps)
  add <id> ...             append an item (features: id name, stories: id feature-id title)
  abort                    stop the run (resumable later)
  help                     show this message`

// ConsoleGate reviews drafts over a line-oriented terminal session.
type ConsoleGate struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsoleGate reads commands from in and writes rendered drafts and
// prompts to out.
func NewConsoleGate(in io.Reader, out io.Writer) *ConsoleGate {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ConsoleGate{in: sc, out: out}
}

// Present renders the draft and loops on reviewer commands until a
// decision is reached. List artifacts can be edited in place before
// confirming; edits that would break the step's schema are rejected and
// the session continues. EOF on input aborts.
func (g *ConsoleGate) Present(ctx context.Context, def pipeline.Definition, draft model.Artifact, attempt int) (Decision, error) {
	current := draft
	g.renderDraft(def, current, attempt)

	for {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		fmt.Fprint(g.out, promptStyle.Render(fmt.Sprintf("[%s] confirm / redo / edit / abort > ", def.Name)))
		if !g.in.Scan() {
			if err := g.in.Err(); err != nil {
				return Decision{}, fmt.Errorf("review: read command: %w", err)
			}
			fmt.Fprintln(g.out, dimStyle.Render("input closed, aborting"))
			return Decision{Verdict: Abort}, nil
		}
		line := strings.TrimSpace(g.in.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToLower(cmd) {
		case "confirm", "c", "y":
			if err := current.Validate(); err != nil {
				fmt.Fprintln(g.out, errorStyle.Render(fmt.Sprintf("cannot confirm: %v", err)))
				continue
			}
			fmt.Fprintln(g.out, okStyle.Render(fmt.Sprintf("confirmed %s", def.Name)))
			return Decision{Verdict: Confirm, Artifact: current}, nil

		case "redo", "r":
			if rest == "" {
				fmt.Fprintln(g.out, errorStyle.Render("redo needs feedback, e.g.: redo split login into two stories"))
				continue
			}
			return Decision{Verdict: Redo, Feedback: rest}, nil

		case "abort", "quit", "q":
			return Decision{Verdict: Abort}, nil

		case "show", "s":
			g.renderDraft(def, current, attempt)

		case "keep", "drop", "rename", "add":
			edited, err := applyEdit(current, cmd, rest)
			if err != nil {
				fmt.Fprintln(g.out, errorStyle.Render(err.Error()))
				continue
			}
			current = edited
			g.renderDraft(def, current, attempt)

		case "help", "h", "?":
			fmt.Fprintln(g.out, dimStyle.Render(consoleHelp))

		default:
			fmt.Fprintln(g.out, errorStyle.Render(fmt.Sprintf("unknown command %q, try help", cmd)))
		}
	}
}

func (g *ConsoleGate) renderDraft(def pipeline.Definition, a model.Artifact, attempt int) {
	title := fmt.Sprintf("step %d/%d: %s (draft %d)", int(def.Step)+1, model.NumSteps, def.Name, attempt)
	fmt.Fprintln(g.out, headerStyle.Render(title))

	if script, ok := a.(*model.TestScript); ok {
		fmt.Fprintln(g.out, script.Source)
		return
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		fmt.Fprintln(g.out, errorStyle.Render(fmt.Sprintf("render draft: %v", err)))
		return
	}
	fmt.Fprintln(g.out, string(raw))
}
