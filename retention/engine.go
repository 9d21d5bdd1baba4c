package retention

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/registry"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

// TagStore is the tag store surface the engine needs.
type TagStore interface {
	ListTags(ctx context.Context, id catalog.ID) ([]tagstore.Tag, error)
	DeleteTag(ctx context.Context, name string) error
}

// ReleaseDeleter removes release records by tag reference.
type ReleaseDeleter interface {
	Delete(ctx context.Context, tagRef string) error
}

// RegistryDeleter removes registry content by reference.
type RegistryDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// EntryResult is the outcome of executing one cleanup entry.
type EntryResult struct {
	// Entry is the version the engine attempted to remove.
	Entry CleanupEntry

	// Err is the entry's failure, nil on success.
	Err error
}

// Engine plans and executes retention cleanup.
type Engine struct {
	tags     TagStore
	releases ReleaseDeleter
	registry RegistryDeleter
	refs     *registry.RefBuilder
	policy   Policy
	workers  int
	now      func() time.Time
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCleanupWorkers bounds entry-level parallelism. Defaults to 4.
func WithCleanupWorkers(workers int) EngineOption {
	return func(e *Engine) {
		if workers > 0 {
			e.workers = workers
		}
	}
}

// WithClock overrides the time source used by the age gate.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a cleanup engine for the given policy.
func NewEngine(
	tags TagStore,
	releases ReleaseDeleter,
	reg RegistryDeleter,
	refs *registry.RefBuilder,
	policy Policy,
	opts ...EngineOption,
) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		tags:     tags,
		releases: releases,
		registry: reg,
		refs:     refs,
		policy:   policy,
		workers:  4,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Plan computes the cleanup entries for the given artifacts. Planning never
// mutates anything, so it doubles as the dry-run output. Running Plan again
// after a full Execute yields no entries.
func (e *Engine) Plan(ctx context.Context, ids []catalog.ID) ([]CleanupEntry, error) {
	now := e.now()

	var entries []CleanupEntry
	for _, id := range ids {
		history, err := e.tags.ListTags(ctx, id)
		if err != nil {
			return nil, err
		}

		for _, tag := range selectCandidates(history, e.policy, now) {
			entry := CleanupEntry{
				ID:      id,
				Version: tag.Version,
				TagName: tag.Name,
			}
			if e.policy.DeletePackages {
				entry.RegistryRefs = e.registryRefs(id, tag)
			}
			entries = append(entries, entry)
		}
	}

	e.logger.InfoContext(ctx, "cleanup plan computed",
		"artifacts", len(ids), "entries", len(entries))
	return entries, nil
}

// registryRefs collects the registry references a removed version owned:
// its version tag plus the fingerprint-tagged content recovered from the
// tag annotation. The moving "latest" reference is never touched.
func (e *Engine) registryRefs(id catalog.ID, tag tagstore.Tag) []string {
	refs := []string{e.refs.VersionRef(id, tag.Version)}
	if looksLikeRegistryRef(tag.ContentRef) {
		refs = append(refs, tag.ContentRef)
	}
	return refs
}

// Execute removes every planned entry with bounded parallelism and returns
// one result per entry, in plan order. Entry failures are isolated, and
// within an entry the steps are strictly ordered: the release record goes
// first so no record ever points at a deleted tag, then the tag, then the
// registry content. There is no rollback; a failed step leaves earlier
// deletions in place and the next run picks the entry up again.
func (e *Engine) Execute(ctx context.Context, entries []CleanupEntry) []EntryResult {
	results := make([]EntryResult, len(entries))

	var g errgroup.Group
	g.SetLimit(e.workers)

	for i, entry := range entries {
		results[i] = EntryResult{Entry: entry}
		if ctx.Err() != nil {
			results[i].Err = errors.Wrap(ctx.Err(), errors.CodeCleanupFailed, "cleanup cancelled")
			continue
		}

		g.Go(func() error {
			results[i].Err = e.remove(ctx, entry)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// remove deletes one version across the three stores.
func (e *Engine) remove(ctx context.Context, entry CleanupEntry) error {
	if err := e.releases.Delete(ctx, entry.TagName); err != nil {
		return errors.WrapWithContext(err, errors.CodeCleanupFailed,
			"failed to delete release record", map[string]any{"tag": entry.TagName})
	}

	if err := e.tags.DeleteTag(ctx, entry.TagName); err != nil && !errors.IsCode(err, errors.CodeNotFound) {
		return errors.WrapWithContext(err, errors.CodeCleanupFailed,
			"failed to delete tag", map[string]any{"tag": entry.TagName})
	}

	for _, ref := range entry.RegistryRefs {
		if err := e.registry.Delete(ctx, ref); err != nil {
			return errors.WrapWithContext(err, errors.CodeCleanupFailed,
				"failed to delete registry content", map[string]any{"ref": ref})
		}
	}

	e.logger.InfoContext(ctx, "removed released version",
		"artifact", entry.ID.Path(), "version", entry.Version.String())
	return nil
}
