// Package store provides the SQLite persistence layer for caseforge.
//
// It holds two tables per database: artifacts, an append-only log of
// confirmed step outputs keyed by (trace_id, step, version), and
// run_state, one row per trace with the serialized run snapshot.
// Confirming an artifact and advancing the run state happen inside one
// transaction, so a crash can never leave them inconsistent; if they ever
// diverge anyway, Reconcile rebuilds the state from the artifact log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/caseforge/caseforge/internal/model"
	"github.com/caseforge/caseforge/internal/pipeline"
)

// ErrNotFound is returned when a requested run or artifact does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable, versioned persistence for runs and artifacts.
// Distinct trace IDs never share rows, so independent runs may use one
// Store concurrently.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// WAL keeps concurrent runs on distinct traces from blocking each other.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set pragmas: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close shuts down the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		trace_id   TEXT    NOT NULL,
		step       INTEGER NOT NULL,
		version    INTEGER NOT NULL,
		kind       TEXT    NOT NULL,
		payload    BLOB    NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (trace_id, step, version)
	);

	CREATE TABLE IF NOT EXISTS run_state (
		trace_id   TEXT PRIMARY KEY,
		state      BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_trace ON artifacts(trace_id, step);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Put stores one confirmed artifact version. Versions are write-once: a
// second put of the same (trace, step, version) fails rather than mutating
// confirmed content.
func (s *Store) Put(ctx context.Context, traceID string, step pipeline.Step, version int, a model.Artifact) error {
	raw, err := model.EncodeArtifact(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (trace_id, step, version, kind, payload) VALUES (?, ?, ?, ?, ?)`,
		traceID, int(step), version, string(a.Kind()), []byte(raw),
	)
	if err != nil {
		return fmt.Errorf("store: put artifact %s/%s/v%d: %w", traceID, step, version, err)
	}
	return nil
}

// Get returns one stored artifact version. version <= 0 means latest.
func (s *Store) Get(ctx context.Context, traceID string, step pipeline.Step, version int) (model.Artifact, int, error) {
	var (
		row     *sql.Row
		payload []byte
		got     int
	)
	if version > 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT version, payload FROM artifacts WHERE trace_id = ? AND step = ? AND version = ?`,
			traceID, int(step), version)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT version, payload FROM artifacts WHERE trace_id = ? AND step = ? ORDER BY version DESC LIMIT 1`,
			traceID, int(step))
	}
	if err := row.Scan(&got, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("store: get artifact %s/%s: %w", traceID, step, err)
	}
	a, err := model.DecodeArtifact(int(step), payload)
	if err != nil {
		return nil, 0, err
	}
	return a, got, nil
}

// LoadRun returns the persisted run for traceID, or ErrNotFound.
func (s *Store) LoadRun(ctx context.Context, traceID string) (*model.Run, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM run_state WHERE trace_id = ?`, traceID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load run %s: %w", traceID, err)
	}
	var run model.Run
	if err := json.Unmarshal(state, &run); err != nil {
		return nil, fmt.Errorf("store: decode run %s: %w", traceID, err)
	}
	return &run, nil
}

// LoadOrCreate returns the persisted run for traceID, or initializes and
// persists a fresh all-pending run when the trace does not exist yet.
func (s *Store) LoadOrCreate(ctx context.Context, traceID string, meta model.Meta) (*model.Run, error) {
	run, err := s.LoadRun(ctx, traceID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	run = model.NewRun(traceID, meta)
	if err := s.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("store: created run", "trace_id", traceID)
	return run, nil
}

// SaveRun upserts the run snapshot and bumps its updated timestamp.
func (s *Store) SaveRun(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("store: encode run %s: %w", run.TraceID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_state (trace_id, state, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (trace_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		run.TraceID, state, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", run.TraceID, err)
	}
	return nil
}

// Confirm freezes a draft as the next confirmed version of step and
// advances the run state, both inside one transaction. On success the
// in-memory run is updated to match what was persisted.
func (s *Store) Confirm(ctx context.Context, run *model.Run, step pipeline.Step, a model.Artifact) error {
	def, err := pipeline.Lookup(step)
	if err != nil {
		return err
	}
	for _, dep := range def.DependsOn {
		if !run.Confirmed(int(dep)) {
			return fmt.Errorf("store: confirm %s with unconfirmed dependency %s: %w", step, dep, pipeline.ErrDependencyUnmet)
		}
	}
	if err := a.Validate(); err != nil {
		return err
	}

	rec, err := run.Record(int(step))
	if err != nil {
		return err
	}
	version := rec.Version + 1

	raw, err := model.EncodeArtifact(a)
	if err != nil {
		return err
	}

	// Staged copy so a failed transaction leaves the in-memory run untouched.
	next := *run
	next.Steps = make([]model.StepRecord, len(run.Steps))
	copy(next.Steps, run.Steps)
	next.Steps[step].Status = model.StepConfirmed
	next.Steps[step].Version = version
	next.Steps[step].Draft = nil
	next.UpdatedAt = time.Now().UTC()

	state, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("store: encode run %s: %w", run.TraceID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin confirm: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO artifacts (trace_id, step, version, kind, payload) VALUES (?, ?, ?, ?, ?)`,
		run.TraceID, int(step), version, string(a.Kind()), []byte(raw),
	); err != nil {
		return fmt.Errorf("store: confirm %s/%s/v%d: %w", run.TraceID, step, version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_state (trace_id, state, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (trace_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		run.TraceID, state, next.CreatedAt, next.UpdatedAt,
	); err != nil {
		return fmt.Errorf("store: confirm state %s: %w", run.TraceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit confirm: %w", err)
	}

	*run = next
	s.logger.Info("store: confirmed artifact",
		"trace_id", run.TraceID, "step", step.String(), "version", version)
	return nil
}

// Reconcile rebuilds the run state for traceID from the artifact log.
// It is the recovery path for a state row that diverged from the
// artifacts (e.g. hand-edited or torn by an external writer): a step is
// confirmed iff a stored version exists and all earlier steps in its
// dependency chain are confirmed.
func (s *Store) Reconcile(ctx context.Context, traceID string) (*model.Run, error) {
	run, err := s.LoadRun(ctx, traceID)
	if errors.Is(err, ErrNotFound) {
		run = model.NewRun(traceID, model.Meta{})
	} else if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, MAX(version) FROM artifacts WHERE trace_id = ? GROUP BY step`, traceID)
	if err != nil {
		return nil, fmt.Errorf("store: reconcile %s: %w", traceID, err)
	}
	defer rows.Close()

	latest := make(map[int]int, model.NumSteps)
	for rows.Next() {
		var step, version int
		if err := rows.Scan(&step, &version); err != nil {
			return nil, fmt.Errorf("store: reconcile %s: %w", traceID, err)
		}
		latest[step] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reconcile %s: %w", traceID, err)
	}

	for i := range run.Steps {
		version, ok := latest[i]
		if !ok {
			run.Steps[i].Status = model.StepPending
			run.Steps[i].Version = 0
			continue
		}
		run.Steps[i].Version = version
		run.Steps[i].Status = model.StepConfirmed
	}
	// A confirmed step whose dependencies are not confirmed is demoted;
	// its versions stay retrievable but the run resumes earlier.
	for _, def := range pipeline.Definitions() {
		for _, dep := range def.DependsOn {
			if run.Steps[def.Step].Status == model.StepConfirmed &&
				run.Steps[dep].Status != model.StepConfirmed {
				run.Steps[def.Step].Status = model.StepPending
			}
		}
	}

	if err := s.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns all persisted runs ordered by most recently updated.
func (s *Store) ListRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state FROM run_state ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("store: list runs: %w", err)
		}
		var run model.Run
		if err := json.Unmarshal(state, &run); err != nil {
			return nil, fmt.Errorf("store: list runs: decode: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
