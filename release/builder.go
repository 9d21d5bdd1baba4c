package release

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/run"
)

// Placeholders substituted into the build command arguments.
const (
	placeholderLabel       = "{label}"
	placeholderOutput      = "{output}"
	placeholderFingerprint = "{fingerprint}"
)

// CommandBuilder is the production build backend: it invokes the monorepo
// build tool for an artifact's label and collects the output directory.
type CommandBuilder struct {
	runner   run.Runner
	program  string
	argsTmpl []string
	workdir  string
	outBase  string
	retries  int
	delay    time.Duration
	logger   *slog.Logger
}

// BuilderOption configures a CommandBuilder.
type BuilderOption func(*CommandBuilder)

// WithBuildWorkdir sets the directory the build command runs in.
func WithBuildWorkdir(dir string) BuilderOption {
	return func(b *CommandBuilder) { b.workdir = dir }
}

// WithBuildRetries overrides the retry policy for transient build failures.
func WithBuildRetries(retries int, delay time.Duration) BuilderOption {
	return func(b *CommandBuilder) {
		b.retries = retries
		b.delay = delay
	}
}

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *CommandBuilder) { b.logger = logger }
}

// NewCommandBuilder creates a build backend that runs the given program with
// the argument template. The template may reference {label}, {output}, and
// {fingerprint}; outBase is where per-artifact output directories are staged.
func NewCommandBuilder(runner run.Runner, program string, argsTmpl []string, outBase string, opts ...BuilderOption) *CommandBuilder {
	b := &CommandBuilder{
		runner:   runner,
		program:  program,
		argsTmpl: argsTmpl,
		outBase:  outBase,
		retries:  1,
		delay:    5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the build command for the artifact and returns its output
// directory. Idempotent per fingerprint: the output path is derived from
// the artifact and fingerprint, and a rebuild overwrites it in place.
// Empty output is a loud failure, never silently accepted.
func (b *CommandBuilder) Build(ctx context.Context, id catalog.ID, fingerprint string) (string, error) {
	short := fingerprint
	if len(short) > 12 {
		short = short[:12]
	}
	outputDir := filepath.Join(b.outBase, id.Slug()+"-"+string(id.Kind)+"-"+short)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.CodeBuildFailed, "failed to create build output directory")
	}

	args := make([]string, 0, len(b.argsTmpl))
	for _, arg := range b.argsTmpl {
		arg = strings.ReplaceAll(arg, placeholderLabel, id.Label())
		arg = strings.ReplaceAll(arg, placeholderOutput, outputDir)
		arg = strings.ReplaceAll(arg, placeholderFingerprint, fingerprint)
		args = append(args, arg)
	}

	opts := []run.Option{
		run.WithRetries(b.retries, b.delay),
	}
	if b.workdir != "" {
		opts = append(opts, run.WithWorkingDir(b.workdir))
	}

	b.logger.InfoContext(ctx, "building artifact",
		"artifact", id.Path(), "fingerprint", short)

	result, err := b.runner.Run(ctx, b.program, args, opts...)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(result.Stderr)
		}
		return "", errors.WrapWithContext(err, errors.CodeBuildFailed,
			"build backend failed", map[string]any{
				"artifact": id.Path(),
				"stderr":   stderr,
			})
	}

	if empty, checkErr := isEmptyDir(outputDir); checkErr != nil {
		return "", checkErr
	} else if empty {
		return "", errors.WrapWithContext(nil, errors.CodeBuildFailed,
			"build backend produced no output", map[string]any{"artifact": id.Path()})
	}

	return outputDir, nil
}

// isEmptyDir reports whether the directory contains no entries.
func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeBuildFailed, "failed to inspect build output")
	}
	return len(entries) == 0, nil
}
