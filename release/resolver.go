package release

import (
	"context"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

// Seed versions for artifacts with no prior tags.
var (
	seedPatch = semver.MustParse("0.0.1")
	seedMinor = semver.MustParse("0.1.0")
)

// Resolver computes target versions from tag history.
type Resolver struct {
	tags   tagstore.Lister
	logger *slog.Logger
}

// NewResolver creates a resolver over the given tag history source,
// typically the per-run tagstore.Cache.
func NewResolver(tags tagstore.Lister, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tags: tags, logger: logger}
}

// Resolve computes the target version for one artifact under the directive.
// The result is always strictly greater than the artifact's current maximum,
// except for LatestOnly, which reports the current maximum unchanged (the
// moving publish releases no new version).
func (r *Resolver) Resolve(ctx context.Context, id catalog.ID, directive Directive) (*semver.Version, error) {
	current, err := r.CurrentMax(ctx, id)
	if err != nil {
		return nil, err
	}

	switch d := directive.(type) {
	case IncrementPatch:
		if current == nil {
			return seedPatch, nil
		}
		next := current.IncPatch()
		return &next, nil

	case IncrementMinor:
		if current == nil {
			return seedMinor, nil
		}
		next := current.IncMinor()
		return &next, nil

	case Explicit:
		if d.Version == nil {
			return nil, errors.New(errors.CodeInvalidInput, "explicit directive requires a version")
		}
		if current != nil && !d.Version.GreaterThan(current) {
			return nil, errors.WrapWithContext(nil, errors.CodeConflict,
				"requested version is not greater than the current maximum", map[string]any{
					"artifact":  id.Path(),
					"requested": d.Version.String(),
					"current":   current.String(),
				})
		}
		return d.Version, nil

	case LatestOnly:
		if current == nil {
			return semver.MustParse("0.0.0"), nil
		}
		return current, nil

	default:
		return nil, errors.Newf(errors.CodeInternal, "unknown directive %T", directive)
	}
}

// CurrentMax returns the artifact's highest released version, or nil when
// no prior version exists. Malformed tags were already discarded by the
// tag store, so the last entry of the sorted history is the maximum.
func (r *Resolver) CurrentMax(ctx context.Context, id catalog.ID) (*semver.Version, error) {
	tags, err := r.tags.ListTags(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags[len(tags)-1].Version, nil
}

// PreviousTagName returns the name of the artifact's newest existing tag,
// used as the base of the release-notes commit range. Empty when the
// artifact has never been released.
func (r *Resolver) PreviousTagName(ctx context.Context, id catalog.ID) (string, error) {
	tags, err := r.tags.ListTags(ctx, id)
	if err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", nil
	}
	return tags[len(tags)-1].Name, nil
}
