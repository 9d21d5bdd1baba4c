// Package retention implements the retention policy and cleanup engine:
// deciding which released versions are past their keep window and removing
// them from the release-metadata store, the tag store, and the registry.
package retention

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

// Policy controls which versions the cleanup engine may remove.
type Policy struct {
	// KeepMinorVersions is the number of newest minor lines whose line head
	// is protected. Must be at least 1.
	KeepMinorVersions int

	// MinAgeDays defers deletion of any candidate younger than this many
	// days. Zero disables the age gate.
	MinAgeDays int

	// DeletePackages extends cleanup to the registry content of removed
	// versions. When false only the tag and the release record are removed.
	DeletePackages bool
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.KeepMinorVersions < 1 {
		return errors.New(errors.CodeInvalidConfig, "keep-minor-versions must be at least 1")
	}
	if p.MinAgeDays < 0 {
		return errors.New(errors.CodeInvalidConfig, "min-age-days cannot be negative")
	}
	return nil
}

// CleanupEntry is one version scheduled for removal.
type CleanupEntry struct {
	// ID identifies the artifact.
	ID catalog.ID

	// Version is the version being removed.
	Version *semver.Version

	// TagName is the version-control tag to delete.
	TagName string

	// RegistryRefs are the registry references to delete when the policy
	// enables package deletion. The moving "latest" reference is never
	// included.
	RegistryRefs []string
}

// String renders the entry for logs and dry-run output.
func (e CleanupEntry) String() string {
	return fmt.Sprintf("%s v%s", e.ID.Path(), e.Version.String())
}

// minorLine groups an artifact's tags that share a major.minor pair.
type minorLine struct {
	major uint64
	minor uint64
	tags  []tagstore.Tag
}

// head returns the newest patch in the line. Lines are built from
// ascending-sorted tag history, so the head is the last element.
func (l minorLine) head() tagstore.Tag {
	return l.tags[len(l.tags)-1]
}

// selectCandidates applies the retention policy to one artifact's tag
// history and returns the tags to remove, oldest version first.
//
// Protection works on minor lines. Within a line only the newest patch is
// the line head; older patches are always removable. A line head survives
// when its line is one of the KeepMinorVersions newest lines, or when it is
// the newest line under its major version, so every released major always
// keeps a working head. The age gate runs last: only tags strictly older
// than MinAgeDays are removed; younger ones are deferred to a later run,
// never promoted to protected.
func selectCandidates(tags []tagstore.Tag, policy Policy, now time.Time) []tagstore.Tag {
	if len(tags) == 0 {
		return nil
	}

	lines := groupByMinor(tags)

	protected := make(map[string]bool)
	for i, line := range lines {
		if i < policy.KeepMinorVersions {
			protected[line.head().Name] = true
		}
	}

	newestPerMajor := make(map[uint64]minorLine)
	for _, line := range lines {
		if cur, ok := newestPerMajor[line.major]; !ok || line.minor > cur.minor {
			newestPerMajor[line.major] = line
		}
	}
	for _, line := range newestPerMajor {
		protected[line.head().Name] = true
	}

	minAge := time.Duration(policy.MinAgeDays) * 24 * time.Hour

	var candidates []tagstore.Tag
	for _, line := range lines {
		for _, tag := range line.tags {
			if protected[tag.Name] {
				continue
			}
			if minAge > 0 && now.Sub(tag.CreatedAt) <= minAge {
				continue
			}
			candidates = append(candidates, tag)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Version.LessThan(candidates[j].Version)
	})
	return candidates
}

// groupByMinor splits ascending tag history into minor lines, newest line
// first.
func groupByMinor(tags []tagstore.Tag) []minorLine {
	byKey := make(map[string]*minorLine)
	var order []string
	for _, tag := range tags {
		key := fmt.Sprintf("%d.%d", tag.Version.Major(), tag.Version.Minor())
		line, ok := byKey[key]
		if !ok {
			line = &minorLine{major: tag.Version.Major(), minor: tag.Version.Minor()}
			byKey[key] = line
			order = append(order, key)
		}
		line.tags = append(line.tags, tag)
	}

	lines := make([]minorLine, 0, len(order))
	for _, key := range order {
		lines = append(lines, *byKey[key])
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[j].head().Version.LessThan(lines[i].head().Version)
	})
	return lines
}

// looksLikeRegistryRef distinguishes a registry content ref recovered from a
// tag annotation from the commit-hash fallback used for foreign tags.
func looksLikeRegistryRef(ref string) bool {
	return strings.Contains(ref, "/") && strings.Contains(ref, ":")
}
