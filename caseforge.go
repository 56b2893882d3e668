// Package caseforge is the public API for embedding the caseforge
// pipeline: Epic, Features, Stories, Test Plan, Test Cases, Automated
// Tests, each drafted by a language model and confirmed by a human
// reviewer before the next step may start.
//
// Typical use:
//
//	app, err := caseforge.New(
//	    caseforge.WithVersion(version),
//	    caseforge.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close()
//	run, err := app.Run(ctx, traceID, caseforge.RunOptions{...})
//
// The import graph enforces a strict no-cycle rule: caseforge (root)
// imports internal/*, but internal/* never imports caseforge. Public
// types (Decision, StepInfo, RunSummary) are standalone structs; the
// adapters between them and the internal types live here because this is
// the only file that sees both sides of the boundary.
package caseforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/caseforge/caseforge/internal/config"
	"github.com/caseforge/caseforge/internal/evaluate"
	"github.com/caseforge/caseforge/internal/export"
	"github.com/caseforge/caseforge/internal/generate"
	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/orchestrator"
	"github.com/caseforge/caseforge/internal/pipeline"
	"github.com/caseforge/caseforge/internal/review"
	"github.com/caseforge/caseforge/internal/store"
)

// ErrAborted is returned by Run when the reviewer stops the run at the
// gate. The run remains resumable.
var ErrAborted = orchestrator.ErrAborted

// App owns the store, the generator and the orchestrator for one
// configured installation. Construct with New(), release with Close().
type App struct {
	cfg    config.Config
	store  *store.Store
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	verstr string
}

// New loads configuration, opens the database and wires all subsystems.
// It does not start any generation; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.exportDir != "" {
		cfg.ExportDir = o.exportDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	llm := o.model
	if llm == nil {
		llm, err = newModel(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	gen := generate.New(llm, generate.Config{
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		Timeout:          cfg.GenerationTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		Concurrency:      cfg.BatchConcurrency,
		MaxCasesPerStory: cfg.MaxCasesPerStory,
	}, logger.With("component", "generate"))

	var gate review.Gate
	if o.gate != nil {
		gate = &gateAdapter{gate: o.gate}
	} else {
		gate = review.NewConsoleGate(os.Stdin, os.Stdout)
	}

	return &App{
		cfg:    cfg,
		store:  st,
		orch:   orchestrator.New(st, gen, gate, logger.With("component", "orchestrator")),
		logger: logger,
		verstr: o.version,
	}, nil
}

// newModel constructs the language model client from config.
func newModel(cfg config.Config) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		return llm, nil
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Close releases the database.
func (a *App) Close() error {
	return a.store.Close()
}

// Version reports the version string set via WithVersion.
func (a *App) Version() string { return a.verstr }

// RunOptions configure one pipeline run.
type RunOptions struct {
	// Title, Domain and Constraints describe the system under test. They
	// are captured on the first run of a trace.
	Title       string
	Domain      string
	Constraints []string
	// EpicFile, when set, is a YAML or JSON file whose content is
	// confirmed directly as the epic instead of generating one.
	EpicFile string
	// StartFrom restarts an existing run at the named step, keeping
	// earlier confirmed steps.
	StartFrom string
}

// Run executes (or resumes) the pipeline for traceID until every step is
// confirmed, the reviewer aborts, or an error occurs. See ErrAborted.
func (a *App) Run(ctx context.Context, traceID string, opts RunOptions) (RunSummary, error) {
	oo := orchestrator.Options{Meta: model.Meta{
		Title:       opts.Title,
		Domain:      opts.Domain,
		Constraints: opts.Constraints,
	}}
	if opts.EpicFile != "" {
		epic, err := loadEpicFile(opts.EpicFile)
		if err != nil {
			return RunSummary{}, err
		}
		oo.SeedEpic = epic
	}
	if opts.StartFrom != "" {
		step, err := pipeline.ParseStep(opts.StartFrom)
		if err != nil {
			return RunSummary{}, err
		}
		oo.StartFrom = &step
	}

	run, err := a.orch.Run(ctx, traceID, oo)
	if run == nil {
		return RunSummary{}, err
	}
	return toSummary(run), err
}

// Export writes the latest confirmed artifacts of traceID to dir. An
// empty dir uses the configured export directory plus the trace ID.
func (a *App) Export(ctx context.Context, traceID, dir string) ([]string, error) {
	if dir == "" {
		dir = filepath.Join(a.cfg.ExportDir, traceID)
	}
	exp := export.New(a.store, a.logger.With("component", "export"))
	res, err := exp.Run(ctx, traceID, dir)
	if err != nil {
		return nil, err
	}
	return res.Files, nil
}

// Check evaluates the confirmed test script of traceID against its
// confirmed test cases.
func (a *App) Check(ctx context.Context, traceID string) (*evaluate.Report, error) {
	return evaluate.Check(ctx, a.store, traceID)
}

// Artifact returns one stored artifact of traceID rendered for display:
// indented JSON for structured steps, raw source for the automated test
// script. version <= 0 means latest confirmed.
func (a *App) Artifact(ctx context.Context, traceID, stepName string, version int) ([]byte, error) {
	step, err := pipeline.ParseStep(stepName)
	if err != nil {
		return nil, err
	}
	artifact, _, err := a.store.Get(ctx, traceID, step, version)
	if err != nil {
		return nil, err
	}
	if script, ok := artifact.(*model.TestScript); ok {
		return []byte(script.Source), nil
	}
	return json.MarshalIndent(artifact, "", "  ")
}

// Runs lists all persisted runs, most recently updated first.
func (a *App) Runs(ctx context.Context) ([]RunSummary, error) {
	runs, err := a.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = toSummary(r)
	}
	return out, nil
}

// Inspect returns the run summary for one trace, or an error satisfying
// errors.Is(err, ErrNotFound) when the trace does not exist.
func (a *App) Inspect(ctx context.Context, traceID string) (RunSummary, error) {
	run, err := a.store.LoadRun(ctx, traceID)
	if err != nil {
		return RunSummary{}, err
	}
	return toSummary(run), nil
}

// ErrNotFound reports a missing trace or artifact.
var ErrNotFound = store.ErrNotFound

func toSummary(run *model.Run) RunSummary {
	s := RunSummary{
		TraceID:   run.TraceID,
		Title:     run.Meta.Title,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
		Steps:     make([]StepSummary, len(run.Steps)),
	}
	for i, rec := range run.Steps {
		name := "unknown"
		if def, err := pipeline.Lookup(pipeline.Step(rec.Step)); err == nil {
			name = def.Name
		}
		s.Steps[i] = StepSummary{
			Name:    name,
			Status:  string(rec.Status),
			Version: rec.Version,
			Redos:   len(rec.RedoHistory),
		}
		if rec.Status == model.StepConfirmed {
			s.Confirmed++
		}
	}
	return s
}

// gateAdapter bridges a public Gate to the internal review gate.
type gateAdapter struct {
	gate Gate
}

func (g *gateAdapter) Present(ctx context.Context, def pipeline.Definition, draft model.Artifact, attempt int) (review.Decision, error) {
	raw, err := model.EncodeArtifact(draft)
	if err != nil {
		return review.Decision{}, err
	}
	d, err := g.gate.Present(ctx, StepInfo{
		Index:   int(def.Step),
		Name:    def.Name,
		Attempt: attempt,
	}, raw)
	if err != nil {
		return review.Decision{}, err
	}

	switch d.Verdict {
	case VerdictConfirm:
		artifact := draft
		if len(d.Artifact) > 0 {
			artifact, err = model.DecodeArtifact(int(def.Step), d.Artifact)
			if err != nil {
				return review.Decision{}, fmt.Errorf("decode edited artifact: %w", err)
			}
		}
		return review.Decision{Verdict: review.Confirm, Artifact: artifact}, nil
	case VerdictRedo:
		return review.Decision{Verdict: review.Redo, Feedback: d.Feedback}, nil
	case VerdictAbort:
		return review.Decision{Verdict: review.Abort}, nil
	default:
		return review.Decision{}, errors.New("gate returned unknown verdict")
	}
}
