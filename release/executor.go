package release

import (
	"context"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/metadata"
	"github.com/input-output-hk/catalyst-forge-release/registry"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

// Registry is the registry surface the executor mutates.
type Registry interface {
	Exists(ctx context.Context, ref string) (bool, error)
	Push(ctx context.Context, sourceDir, ref string) (string, error)
	Retag(ctx context.Context, srcRef string, targetRefs ...string) error
}

// TagWriter is the tag store surface the executor mutates.
type TagWriter interface {
	CreateTag(ctx context.Context, id catalog.ID, version *semver.Version, target, contentRef string) (tagstore.Tag, error)
}

// MetadataWriter creates release records.
type MetadataWriter interface {
	Create(ctx context.Context, tagRef, name, notes string) (string, error)
}

// Builder is the external build backend. Build must be idempotent for a
// given fingerprint and must fail loudly on compilation failure.
type Builder interface {
	Build(ctx context.Context, id catalog.ID, fingerprint string) (outputDir string, err error)
}

// History supplies commit subjects for release notes.
type History interface {
	CommitSubjectsBetween(ctx context.Context, baseRef, headRef string) ([]string, error)
}

// Result is the outcome of executing one plan entry.
type Result struct {
	// ID identifies the artifact.
	ID catalog.ID

	// TargetVersion is the version the entry released.
	TargetVersion *semver.Version

	// PublishedRefs lists the registry references written for this entry.
	PublishedRefs []string

	// TagCreated reports whether a version-control tag was written.
	TagCreated bool

	// ReleaseCreated reports whether a release record was written.
	ReleaseCreated bool

	// Skipped reports that the entry was never started because the run was
	// cancelled before it was scheduled.
	Skipped bool

	// Err is the entry's failure, nil on success.
	Err error
}

// Executor runs release plans with bounded parallelism. Entry failures are
// isolated: one artifact failing never halts the others.
type Executor struct {
	registry Registry
	tags     TagWriter
	metadata MetadataWriter
	builder  Builder
	history  History
	refs     *registry.RefBuilder
	workers  int
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWorkers bounds entry-level parallelism. Defaults to 4.
func WithWorkers(workers int) ExecutorOption {
	return func(x *Executor) {
		if workers > 0 {
			x.workers = workers
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(x *Executor) { x.logger = logger }
}

// NewExecutor creates a release executor.
func NewExecutor(
	reg Registry,
	tags TagWriter,
	meta MetadataWriter,
	builder Builder,
	history History,
	refs *registry.RefBuilder,
	opts ...ExecutorOption,
) *Executor {
	x := &Executor{
		registry: reg,
		tags:     tags,
		metadata: meta,
		builder:  builder,
		history:  history,
		refs:     refs,
		workers:  4,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs every plan entry and returns one Result per entry, in plan
// order. Cancelling ctx stops scheduling further entries; entries already
// in flight run to completion, since a partially published entry would
// leave tag state inconsistent.
func (x *Executor) Execute(ctx context.Context, plan []PlanEntry, directive Directive) []Result {
	results := make([]Result, len(plan))

	// Entry steps run on a detached context: cancellation gates scheduling,
	// never interrupts a publish sequence mid-flight.
	entryCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(x.workers)

	for i, entry := range plan {
		if ctx.Err() != nil {
			results[i] = Result{ID: entry.ID, TargetVersion: entry.TargetVersion, Skipped: true}
			continue
		}

		g.Go(func() error {
			results[i] = x.publish(entryCtx, entry, directive)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// publish runs the strictly ordered publish sequence for one entry.
func (x *Executor) publish(ctx context.Context, entry PlanEntry, directive Directive) Result {
	result := Result{ID: entry.ID, TargetVersion: entry.TargetVersion}
	_, latestOnly := directive.(LatestOnly)

	fpRef := x.refs.FingerprintRef(entry.ID, entry.Fingerprint)

	targets := []string{x.refs.LatestRef(entry.ID)}
	if !latestOnly {
		targets = append([]string{x.refs.VersionRef(entry.ID, entry.TargetVersion)}, targets...)
	}

	// Step 1+2: establish content under the fingerprint tag, then point the
	// version and latest tags at it. The reuse path is an explicit
	// try-then-fall-back chain: a failed re-tag triggers a full rebuild
	// rather than aborting the entry.
	publishedRefs, err := x.establishAndTag(ctx, entry, fpRef, targets)
	if err != nil {
		result.Err = err
		return result
	}
	result.PublishedRefs = publishedRefs

	if latestOnly {
		x.logger.InfoContext(ctx, "published moving reference",
			"artifact", entry.ID.Path(), "refs", publishedRefs)
		return result
	}

	// Step 3: write the immutable version-control tag.
	versionRef := x.refs.VersionRef(entry.ID, entry.TargetVersion)
	tag, err := x.tags.CreateTag(ctx, entry.ID, entry.TargetVersion, entry.Fingerprint, versionRef)
	if err != nil {
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			err = errors.WrapWithContext(err, errors.CodeConflict,
				"version tag already exists; a version is never re-pointed", map[string]any{
					"artifact": entry.ID.Path(),
					"version":  entry.TargetVersion.String(),
				})
		}
		result.Err = err
		return result
	}
	result.TagCreated = true

	// Step 4: create the release record referencing the new tag.
	notes := x.buildNotes(ctx, entry)
	title := entry.ID.Path() + " v" + entry.TargetVersion.String()
	if _, err := x.metadata.Create(ctx, tag.Name, title, notes); err != nil {
		result.Err = err
		return result
	}
	result.ReleaseCreated = true

	x.logger.InfoContext(ctx, "published release",
		"artifact", entry.ID.Path(),
		"version", entry.TargetVersion.String(),
		"decision", entry.Decision.String())
	return result
}

// establishAndTag ensures content exists under fpRef and points the target
// tags at it, returning all refs written.
func (x *Executor) establishAndTag(ctx context.Context, entry PlanEntry, fpRef string, targets []string) ([]string, error) {
	switch entry.Decision.(type) {
	case Reuse:
		err := x.registry.Retag(ctx, fpRef, targets...)
		if err == nil {
			return append([]string{fpRef}, targets...), nil
		}

		// Fallback rule: reuse failing for any reason means rebuild, never
		// abort. The end state must be a consistent published tag set.
		x.logger.WarnContext(ctx, "re-tag of existing content failed, falling back to rebuild",
			"artifact", entry.ID.Path(), "error", err)

	case BuildNew:
		// No existing content to reuse.

	default:
		return nil, errors.Newf(errors.CodeInternal, "unknown build decision %T", entry.Decision)
	}

	if err := x.buildAndPush(ctx, entry, fpRef); err != nil {
		return nil, err
	}
	if err := x.registry.Retag(ctx, fpRef, targets...); err != nil {
		return nil, err
	}
	return append([]string{fpRef}, targets...), nil
}

// buildAndPush invokes the build backend and pushes its output under the
// fingerprint tag.
func (x *Executor) buildAndPush(ctx context.Context, entry PlanEntry, fpRef string) error {
	outputDir, err := x.builder.Build(ctx, entry.ID, entry.Fingerprint)
	if err != nil {
		return err
	}
	if _, err := x.registry.Push(ctx, outputDir, fpRef); err != nil {
		return err
	}
	return nil
}

// buildNotes renders release notes for the entry's commit range. Notes are
// best-effort: a history read failure degrades to a placeholder rather than
// failing the entry after content is already published.
func (x *Executor) buildNotes(ctx context.Context, entry PlanEntry) string {
	subjects, err := x.history.CommitSubjectsBetween(ctx, entry.PreviousTag, entry.Fingerprint)
	if err != nil {
		x.logger.WarnContext(ctx, "failed to read commit history for release notes",
			"artifact", entry.ID.Path(), "error", err)
		return "No changes recorded."
	}
	return metadata.BuildNotes(subjects)
}

// Summarize counts succeeded, failed, and skipped results.
func Summarize(results []Result) (succeeded, failed, skipped int) {
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Err != nil:
			failed++
		default:
			succeeded++
		}
	}
	return succeeded, failed, skipped
}
