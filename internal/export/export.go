// Package export writes confirmed artifacts out of the store into plain
// files for downstream consumption.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
	"github.com/caseforge/caseforge/internal/store"
)

// Exporter snapshots a run's confirmed artifacts to a directory.
type Exporter struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates an Exporter over the given store.
func New(st *store.Store, logger *slog.Logger) *Exporter {
	return &Exporter{store: st, logger: logger}
}

// Result names the files one export produced.
type Result struct {
	Dir   string
	Files []string
}

// Run exports the latest confirmed version of every confirmed step of
// traceID into dir (created if missing). Structured artifacts are written
// as indented JSON, the automated test script as raw source. Unconfirmed
// steps are skipped. Files are written via a temp file and rename so a
// crash never leaves a torn export.
func (e *Exporter) Run(ctx context.Context, traceID, dir string) (*Result, error) {
	run, err := e.store.LoadRun(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}

	res := &Result{Dir: dir}
	for _, def := range pipeline.Definitions() {
		if !run.Confirmed(int(def.Step)) {
			continue
		}
		a, version, err := e.store.Get(ctx, traceID, def.Step, 0)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		name, data, err := render(def, a, version)
		if err != nil {
			return nil, err
		}
		if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, name)
	}

	e.logger.Info("export: wrote confirmed artifacts",
		"trace_id", traceID, "dir", dir, "files", len(res.Files))
	return res, nil
}

func render(def pipeline.Definition, a model.Artifact, version int) (string, []byte, error) {
	if script, ok := a.(*model.TestScript); ok {
		name := fmt.Sprintf("%02d_%s.confirmed.v%d.spec.ts", int(def.Step), def.Name, version)
		return name, []byte(script.Source), nil
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("export: encode %s: %w", def.Name, err)
	}
	name := fmt.Sprintf("%02d_%s.confirmed.v%d.json", int(def.Step), def.Name, version)
	return name, append(raw, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("export: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("export: rename %s: %w", path, err)
	}
	return nil
}
