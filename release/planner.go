package release

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/registry"
)

// Scope selects which artifacts a manual release request covers.
// Exactly one of All, Domain, or Explicit must be set.
type Scope struct {
	// All selects every catalog artifact, minus the example domain unless
	// IncludeExamples is set.
	All bool

	// Domain selects all artifacts in one domain.
	Domain string

	// Explicit selects the listed artifacts.
	Explicit []catalog.ID

	// IncludeExamples opts the example domain into an All-scoped release.
	// A wildcard request must never publish demonstration artifacts into
	// production channels by accident.
	IncludeExamples bool
}

// PlanEntry is one artifact's slot in a release plan.
type PlanEntry struct {
	// ID identifies the artifact.
	ID catalog.ID

	// TargetVersion is the version this release publishes.
	TargetVersion *semver.Version

	// Fingerprint identifies the exact source state being released.
	Fingerprint string

	// PreviousTag is the artifact's newest existing tag, empty for a first
	// release. Used as the base of the release-notes commit range.
	PreviousTag string

	// Decision is the build-or-reuse decision for this entry.
	Decision BuildDecision
}

// ExistenceChecker is the read-only registry surface the planner needs.
// Planning must work under dry-run, so it only ever checks existence.
type ExistenceChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// Planner composes scope, affected set, and version resolution into an
// ordered release plan.
type Planner struct {
	catalog       *catalog.Catalog
	resolver      *Resolver
	registry      ExistenceChecker
	refs          *registry.RefBuilder
	exampleDomain string
	logger        *slog.Logger
}

// NewPlanner creates a planner. exampleDomain names the designated
// demonstration domain excluded from wildcard releases.
func NewPlanner(
	cat *catalog.Catalog,
	resolver *Resolver,
	checker ExistenceChecker,
	refs *registry.RefBuilder,
	exampleDomain string,
	logger *slog.Logger,
) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		catalog:       cat,
		resolver:      resolver,
		registry:      checker,
		refs:          refs,
		exampleDomain: exampleDomain,
		logger:        logger,
	}
}

// Plan builds the release plan for a manual scope request.
func (p *Planner) Plan(ctx context.Context, scope Scope, directive Directive, fingerprint string) ([]PlanEntry, error) {
	ids, err := p.resolveScope(scope)
	if err != nil {
		return nil, err
	}
	return p.plan(ctx, ids, directive, fingerprint)
}

// PlanAffected builds the release plan for an automatic trigger flow from
// the Change Detector's affected set. An empty affected set yields an empty
// plan: nothing changed, nothing to release.
func (p *Planner) PlanAffected(ctx context.Context, affected []catalog.ID, directive Directive, fingerprint string) ([]PlanEntry, error) {
	ids := make([]catalog.ID, 0, len(affected))
	for _, id := range affected {
		if _, ok := p.catalog.Lookup(id); !ok {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"affected artifact %s is not in the catalog", id.Path())
		}
		ids = append(ids, id)
	}
	return p.plan(ctx, ids, directive, fingerprint)
}

// plan resolves versions and build decisions for the given artifacts,
// returning entries in deterministic order.
func (p *Planner) plan(ctx context.Context, ids []catalog.ID, directive Directive, fingerprint string) ([]PlanEntry, error) {
	if directive == nil {
		return nil, errors.New(errors.CodeInvalidInput, "a release directive is required")
	}
	if fingerprint == "" {
		return nil, errors.New(errors.CodeInvalidInput, "a content fingerprint is required")
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	entries := make([]PlanEntry, 0, len(ids))
	for _, id := range ids {
		targetVersion, err := p.resolver.Resolve(ctx, id, directive)
		if err != nil {
			return nil, err
		}

		previousTag, err := p.resolver.PreviousTagName(ctx, id)
		if err != nil {
			return nil, err
		}

		decision, err := p.decide(ctx, id, fingerprint)
		if err != nil {
			return nil, err
		}

		entries = append(entries, PlanEntry{
			ID:            id,
			TargetVersion: targetVersion,
			Fingerprint:   fingerprint,
			PreviousTag:   previousTag,
			Decision:      decision,
		})
	}

	p.logger.InfoContext(ctx, "release plan computed",
		"entries", len(entries), "directive", directive.String())
	return entries, nil
}

// decide checks the registry for content already built from this
// fingerprint.
func (p *Planner) decide(ctx context.Context, id catalog.ID, fingerprint string) (BuildDecision, error) {
	fpRef := p.refs.FingerprintRef(id, fingerprint)
	exists, err := p.registry.Exists(ctx, fpRef)
	if err != nil {
		return nil, err
	}
	if exists {
		return Reuse{ExistingRef: fpRef}, nil
	}
	return BuildNew{}, nil
}

// resolveScope expands a manual scope into artifact identities.
func (p *Planner) resolveScope(scope Scope) ([]catalog.ID, error) {
	modes := 0
	if scope.All {
		modes++
	}
	if scope.Domain != "" {
		modes++
	}
	if len(scope.Explicit) > 0 {
		modes++
	}
	if modes != 1 {
		return nil, errors.New(errors.CodeInvalidInput,
			"exactly one of all, domain, or an explicit artifact list must be given")
	}

	switch {
	case scope.All:
		var ids []catalog.ID
		for _, entry := range p.catalog.All() {
			if !scope.IncludeExamples && entry.ID.Domain == p.exampleDomain {
				continue
			}
			ids = append(ids, entry.ID)
		}
		if len(ids) == 0 {
			return nil, errors.New(errors.CodeInvalidInput, "scope resolved to no artifacts")
		}
		return ids, nil

	case scope.Domain != "":
		entries := p.catalog.ByDomain(scope.Domain)
		if len(entries) == 0 {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"domain %q has no catalog artifacts", scope.Domain)
		}
		ids := make([]catalog.ID, 0, len(entries))
		for _, entry := range entries {
			ids = append(ids, entry.ID)
		}
		return ids, nil

	default:
		// Deduplicate: a repeated artifact must not produce two plan
		// entries racing each other over the same version tag.
		seen := make(map[catalog.ID]bool, len(scope.Explicit))
		ids := make([]catalog.ID, 0, len(scope.Explicit))
		for _, id := range scope.Explicit {
			if _, ok := p.catalog.Lookup(id); !ok {
				return nil, errors.Newf(errors.CodeInvalidInput,
					"artifact %s is not in the catalog", id.Path())
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	}
}
