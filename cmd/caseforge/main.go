package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/caseforge/caseforge"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("CASEFORGE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:           "caseforge",
		Short:         "Generate a reviewed test design pipeline from an epic",
		Long:          "caseforge drafts features, stories, a test plan, test cases and automated tests\nfrom an epic, one step at a time, with a human confirm gate between steps.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCommand(logger))
	rootCmd.AddCommand(newListCommand(logger))
	rootCmd.AddCommand(newShowCommand(logger))
	rootCmd.AddCommand(newExportCommand(logger))
	rootCmd.AddCommand(newCheckCommand(logger))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, caseforge.ErrAborted) {
			slog.Info("run aborted, resume with the same trace id")
			return 0
		}
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newApp(logger *slog.Logger) (*caseforge.App, error) {
	return caseforge.New(
		caseforge.WithLogger(logger),
		caseforge.WithVersion(version),
	)
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var (
		traceID     string
		title       string
		domain      string
		constraints []string
		epicFile    string
		startFrom   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume a pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if traceID == "" {
				traceID = uuid.NewString()
				fmt.Fprintf(cmd.OutOrStdout(), "trace id: %s\n", traceID)
			}
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.Run(cmd.Context(), traceID, caseforge.RunOptions{
				Title:       title,
				Domain:      domain,
				Constraints: constraints,
				EpicFile:    epicFile,
				StartFrom:   startFrom,
			})
			if err != nil {
				return err
			}
			if summary.Done() {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s complete, export with: caseforge export %s\n",
					traceID, traceID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&traceID, "trace", "", "trace id to resume (new runs get a fresh one)")
	cmd.Flags().StringVar(&title, "title", "", "short title of the system under test")
	cmd.Flags().StringVar(&domain, "domain", "", "business domain, e.g. e-commerce")
	cmd.Flags().StringSliceVar(&constraints, "constraint", nil, "constraint on the generated design (repeatable)")
	cmd.Flags().StringVar(&epicFile, "epic", "", "YAML file confirmed directly as the epic")
	cmd.Flags().StringVar(&startFrom, "start-step", "", "restart an existing run at this step (e.g. test_cases)")
	return cmd
}

func newListCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer app.Close()

			runs, err := app.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d/%d confirmed  %s  %s\n",
					r.TraceID, r.Confirmed, len(r.Steps),
					r.UpdatedAt.Format("2006-01-02 15:04"), r.Title)
			}
			return nil
		},
	}
}

func newShowCommand(logger *slog.Logger) *cobra.Command {
	var (
		step    string
		version int
	)
	cmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show the step states of one run, or one stored artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if step != "" {
				raw, err := app.Artifact(cmd.Context(), args[0], step, version)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}
			summary, err := app.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "print a stored artifact of this step instead of the run state")
	cmd.Flags().IntVar(&version, "version", 0, "artifact version (default: latest confirmed)")
	return cmd
}

func newExportCommand(logger *slog.Logger) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <trace-id>",
		Short: "Write the confirmed artifacts of a run to files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer app.Close()

			files, err := app.Export(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "target directory (default: export root + trace id)")
	return cmd
}

func newCheckCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "check <trace-id>",
		Short: "Check the confirmed test script against the confirmed test cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			if !report.Clean() {
				raw, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return errors.New("coverage check failed")
			}
			return nil
		},
	}
}
