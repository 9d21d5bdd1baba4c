// Package tagstore implements the version-control tag store on top of go-git.
// Release tags are immutable once written: the store only creates new tags or
// deletes them wholesale, never re-points an existing one.
package tagstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
)

// contentRefKey is the tag-message trailer carrying the registry content ref.
const contentRefKey = "content-ref:"

// Tag is an immutable release tag for one artifact version.
type Tag struct {
	// ID identifies the artifact the tag belongs to.
	ID catalog.ID

	// Version is the semantic version the tag pins.
	Version *semver.Version

	// Name is the full tag name, e.g. "demo-hello.v0.0.1".
	Name string

	// ContentRef is the registry reference the tagged version was published
	// under. Recovered from the tag annotation, falling back to the commit
	// hash for tags created outside the engine.
	ContentRef string

	// CreatedAt is when the tag was created.
	CreatedAt time.Time
}

// TagName renders the tag name for an artifact version using the artifact's
// kind-specific prefix.
func TagName(id catalog.ID, version *semver.Version) string {
	return id.TagPrefix() + version.String()
}

// parseVersion extracts the semantic version from a tag name given the
// artifact's prefix. Returns nil if the name does not belong to the prefix
// or the remainder is not a valid version.
func parseVersion(name, prefix string) *semver.Version {
	rest := strings.TrimPrefix(name, prefix)
	if rest == name || rest == "" {
		return nil
	}
	v, err := semver.StrictNewVersion(rest)
	if err != nil {
		return nil
	}
	return v
}

// formatMessage builds the annotation message for a release tag.
func formatMessage(name, contentRef string) string {
	return fmt.Sprintf("release %s\n\n%s %s\n", name, contentRefKey, contentRef)
}

// parseContentRef recovers the content ref trailer from a tag message.
func parseContentRef(message string) (string, bool) {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, contentRefKey) {
			ref := strings.TrimSpace(strings.TrimPrefix(line, contentRefKey))
			if ref != "" {
				return ref, true
			}
		}
	}
	return "", false
}
