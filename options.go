package caseforge

import (
	"log/slog"

	"github.com/tmc/langchaingo/llms"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported, callers use the With* functions.
type resolvedOptions struct {
	logger    *slog.Logger
	version   string
	dbPath    string
	exportDir string
	model     llms.Model
	gate      Gate
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and `version`.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDBPath overrides the database path from config (CASEFORGE_DB env var).
func WithDBPath(path string) Option {
	return func(o *resolvedOptions) { o.dbPath = path }
}

// WithExportDir overrides the export root from config (CASEFORGE_EXPORT_DIR env var).
func WithExportDir(dir string) Option {
	return func(o *resolvedOptions) { o.exportDir = dir }
}

// WithModel replaces the config-constructed language model client.
// Use for custom providers or for tests with a scripted model.
func WithModel(m llms.Model) Option {
	return func(o *resolvedOptions) { o.model = m }
}

// WithGate replaces the built-in terminal review console.
// Only the last call wins. The gate sees every drafted artifact and its
// decisions drive the pipeline exactly like console decisions.
func WithGate(g Gate) Option {
	return func(o *resolvedOptions) { o.gate = g }
}
