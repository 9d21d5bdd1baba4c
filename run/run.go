// Package run executes external programs on behalf of the release engine:
// the build-graph query tool and the build backend. It provides output
// capture, environment management, bounded retries, and context support.
package run

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

// Result holds the output and exit status from a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Lines splits captured stdout into trimmed, non-empty lines.
// Query tools emit one label per line; this is the common consumption shape.
func (r *Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Runner is the interface for command execution, narrow so tests can
// substitute a fake without spawning processes.
type Runner interface {
	// Run executes the program with the given arguments and options.
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures command execution behavior.
type Options struct {
	// WorkingDir is the directory the command runs in. Empty means inherit.
	WorkingDir string

	// Env holds variables appended to the current environment.
	Env map[string]string

	// Stdin is fed to the command's standard input when non-empty.
	Stdin string

	// MaxRetries is the number of re-executions after a failed attempt.
	MaxRetries int

	// RetryDelay is the wait between attempts.
	RetryDelay time.Duration

	// RetryOn decides whether a failed attempt should be retried.
	// Nil retries every failure up to MaxRetries.
	RetryOn func(error) bool

	// StdoutWriter receives a live copy of stdout in addition to capture.
	StdoutWriter io.Writer

	// StderrWriter receives a live copy of stderr in addition to capture.
	StderrWriter io.Writer
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the command working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv appends environment variables to the command environment.
func WithEnv(env map[string]string) Option {
	return func(o *Options) { o.Env = env }
}

// WithStdin feeds the given input to the command's standard input.
func WithStdin(input string) Option {
	return func(o *Options) { o.Stdin = input }
}

// WithRetries configures bounded retries with a fixed delay between attempts.
func WithRetries(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// WithRetryOn sets the predicate deciding whether a failure is retried.
func WithRetryOn(predicate func(error) bool) Option {
	return func(o *Options) { o.RetryOn = predicate }
}

// WithStreams mirrors command output to the given writers while capturing.
func WithStreams(stdout, stderr io.Writer) Option {
	return func(o *Options) {
		o.StdoutWriter = stdout
		o.StderrWriter = stderr
	}
}

// CommandRunner is the production Runner backed by os/exec.
type CommandRunner struct{}

// NewRunner creates a CommandRunner.
func NewRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run executes the program, retrying failed attempts per the options.
// The returned Result is always non-nil when an attempt was made, so callers
// can inspect stderr even on failure.
func (r *CommandRunner) Run(
	ctx context.Context,
	program string,
	args []string,
	opts ...Option,
) (*Result, error) {
	options := &Options{RetryDelay: time.Second}
	for _, opt := range opts {
		opt(options)
	}

	maxAttempts := options.MaxRetries + 1
	var lastResult *Result
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := executeOnce(ctx, program, args, options)
		lastResult, lastErr = result, err

		if err == nil || attempt == maxAttempts {
			return result, err
		}

		if options.RetryOn != nil && !options.RetryOn(err) {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, errors.Wrap(ctx.Err(), errors.CodeTimeout, "cancelled while waiting to retry")
		case <-time.After(options.RetryDelay):
		}
	}

	return lastResult, lastErr
}

// executeOnce performs a single command invocation with output capture.
func executeOnce(ctx context.Context, program string, args []string, options *Options) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)

	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	if options.Stdin != "" {
		cmd.Stdin = strings.NewReader(options.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	if options.StdoutWriter != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, options.StdoutWriter)
	}
	cmd.Stderr = &stderrBuf
	if options.StderrWriter != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, options.StderrWriter)
	}

	err := cmd.Run()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case stderrors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if err != nil {
		return result, errors.WrapWithContext(err, errors.CodeExecutionFailed,
			"command execution failed", map[string]any{
				"program":   program,
				"exit_code": result.ExitCode,
			})
	}
	return result, nil
}
