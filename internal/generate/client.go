// Package generate produces step drafts by calling an external
// text-generation collaborator. The collaborator is treated as an opaque,
// possibly-flaky remote service: every call carries a timeout and
// transient failures are retried with exponential backoff up to a bound.
// Batchable steps fan out one call per partition (see batch.go) and merge
// the results deterministically (see merge.go).
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
)

// ErrUnavailable marks a collaborator call that errored or timed out
// after the retry budget was exhausted.
var ErrUnavailable = errors.New("generate: collaborator unavailable")

// Config bounds the generator's calls to the collaborator.
type Config struct {
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration // per collaborator call
	MaxAttempts      int           // per call and per partition schema retry
	Concurrency      int           // partition fan-out limit
	MaxCasesPerStory int
}

func (c *Config) applyDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 90 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.MaxCasesPerStory == 0 {
		c.MaxCasesPerStory = 6
	}
}

// Generator drafts step artifacts from confirmed upstream context.
type Generator struct {
	model  llms.Model
	cfg    Config
	logger *slog.Logger
}

// New creates a Generator over the given collaborator model.
func New(model llms.Model, cfg Config, logger *slog.Logger) *Generator {
	cfg.applyDefaults()
	return &Generator{model: model, cfg: cfg, logger: logger}
}

// complete performs one collaborator call with timeout and bounded
// backoff retry. jsonMode constrains the response to a JSON object where
// the backend supports it.
func (g *Generator) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	opts := []llms.CallOption{
		llms.WithTemperature(g.cfg.Temperature),
		llms.WithMaxTokens(g.cfg.MaxTokens),
	}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	var content string
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		resp, err := g.model.GenerateContent(callCtx, messages, opts...)
		if err != nil {
			g.logger.Warn("generate: collaborator call failed",
				"attempt", attempt, "max_attempts", g.cfg.MaxAttempts, "error", err)
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty response")
		}
		content = resp.Choices[0].Content
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(g.cfg.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return content, nil
}
