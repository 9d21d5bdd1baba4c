// Package graph queries the monorepo build graph. The graph is treated as an
// opaque external oracle: queries go out as label-set expressions, plain label
// sets come back. The engine never builds or traverses the graph itself.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/run"
)

// releaseTag marks graph targets that are catalog entries.
const releaseTag = "release"

// Querier is the interface to the graph query service.
type Querier interface {
	// ReverseDependencies returns the labels of catalog entries in the
	// reverse-dependency closure of the given labels.
	ReverseDependencies(ctx context.Context, labels []string) ([]string, error)

	// CatalogLabels returns the labels of all catalog entries.
	CatalogLabels(ctx context.Context) ([]string, error)
}

// CommandQuerier runs the build tool's query command and parses its
// label-per-line output.
type CommandQuerier struct {
	runner  run.Runner
	program string
	workdir string
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// QuerierOption configures a CommandQuerier.
type QuerierOption func(*CommandQuerier)

// WithWorkdir sets the repository root the query command runs in.
func WithWorkdir(dir string) QuerierOption {
	return func(q *CommandQuerier) { q.workdir = dir }
}

// WithRetries overrides the transient-failure retry policy.
func WithRetries(retries int, delay time.Duration) QuerierOption {
	return func(q *CommandQuerier) {
		q.retries = retries
		q.delay = delay
	}
}

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) QuerierOption {
	return func(q *CommandQuerier) { q.logger = logger }
}

// NewCommandQuerier creates a querier that shells out to the given build tool
// program (e.g. "bazel").
func NewCommandQuerier(runner run.Runner, program string, opts ...QuerierOption) *CommandQuerier {
	q := &CommandQuerier{
		runner:  runner,
		program: program,
		retries: 2,
		delay:   2 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// CatalogLabels queries for every target carrying the release tag.
func (q *CommandQuerier) CatalogLabels(ctx context.Context) ([]string, error) {
	expr := fmt.Sprintf(`attr(tags, "%s", //...)`, releaseTag)
	return q.query(ctx, expr)
}

// ReverseDependencies queries for release-tagged targets that transitively
// depend on any of the given labels.
func (q *CommandQuerier) ReverseDependencies(ctx context.Context, labels []string) ([]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	expr := fmt.Sprintf(`attr(tags, "%s", rdeps(//..., set(%s)))`,
		releaseTag, strings.Join(labels, " "))
	return q.query(ctx, expr)
}

// query runs a single query expression and returns the label lines.
// Failures surface as retryable SERVICE_UNAVAILABLE: an unreachable graph
// must never look identical to "nothing changed".
func (q *CommandQuerier) query(ctx context.Context, expr string) ([]string, error) {
	args := []string{"query", expr, "--output=label"}

	opts := []run.Option{
		run.WithRetries(q.retries, q.delay),
	}
	if q.workdir != "" {
		opts = append(opts, run.WithWorkingDir(q.workdir))
	}

	result, err := q.runner.Run(ctx, q.program, args, opts...)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(result.Stderr)
		}
		q.logger.ErrorContext(ctx, "graph query failed", "expr", expr, "stderr", stderr)
		return nil, errors.WrapWithContext(err, errors.CodeUnavailable,
			"graph query service unavailable", map[string]any{
				"expr": expr,
			})
	}

	labels := result.Lines()
	q.logger.DebugContext(ctx, "graph query completed", "expr", expr, "labels", len(labels))
	return labels, nil
}
