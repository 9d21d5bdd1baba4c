// Package changes implements change-impact analysis: mapping the file diff
// between two revisions onto the set of releasable artifacts affected,
// via a reverse-dependency query against the build graph.
package changes

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/graph"
)

// infraWideFiles are workspace-level declaration files whose changes can
// affect any build output. Touching one affects every catalog artifact;
// false negatives cost broken releases, unnecessary rebuilds only cost time.
var infraWideFiles = map[string]bool{
	"WORKSPACE":         true,
	"WORKSPACE.bazel":   true,
	"MODULE.bazel":      true,
	"MODULE.bazel.lock": true,
	".bazelrc":          true,
	".bazelversion":     true,
	"go.mod":            true,
	"go.sum":            true,
}

// buildFiles are per-package build declaration files. A change to one
// affects every target declared in its package.
var buildFiles = map[string]bool{
	"BUILD":       true,
	"BUILD.bazel": true,
}

// Differ supplies the file diff between two revisions.
type Differ interface {
	ChangedPaths(ctx context.Context, baseRef, headRef string) ([]string, error)
}

// Detector maps source changes onto affected artifacts.
type Detector struct {
	differ  Differ
	querier graph.Querier
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewDetector creates a change detector.
func NewDetector(differ Differ, querier graph.Querier, cat *catalog.Catalog, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{differ: differ, querier: querier, catalog: cat, logger: logger}
}

// DetectAffected returns the identities of catalog artifacts affected by
// the changes between baseRef and headRef.
//
// Infrastructure-wide changes and unmappable diffs both degrade to "all
// artifacts affected". A graph query failure propagates as a retryable
// error: an unreachable graph must never be reported as "nothing changed".
func (d *Detector) DetectAffected(ctx context.Context, baseRef, headRef string) ([]catalog.ID, error) {
	paths, err := d.differ.ChangedPaths(ctx, baseRef, headRef)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	labels, infraWide := classify(paths)
	if infraWide {
		d.logger.InfoContext(ctx, "workspace-level declaration changed, treating all artifacts as affected")
		return d.allArtifacts(), nil
	}
	if len(labels) == 0 {
		d.logger.WarnContext(ctx, "diff yielded no resolvable labels, treating all artifacts as affected",
			"changed_paths", len(paths))
		return d.allArtifacts(), nil
	}

	affected, err := d.querier.ReverseDependencies(ctx, labels)
	if err != nil {
		return nil, err
	}

	return d.catalog.IDsForLabels(affected), nil
}

// allArtifacts returns every catalog identity, the conservative fallback.
func (d *Detector) allArtifacts() []catalog.ID {
	entries := d.catalog.All()
	ids := make([]catalog.ID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// classify maps changed paths onto graph labels. Build declaration files
// widen to their whole package; workspace-level files short-circuit to the
// infra-wide fallback. Paths outside the graph (dot-directories such as CI
// configuration) yield no label.
func classify(paths []string) (labels []string, infraWide bool) {
	seen := make(map[string]struct{})
	for _, p := range paths {
		dir, base := path.Split(p)
		dir = strings.TrimSuffix(dir, "/")

		if dir == "" && (infraWideFiles[base] || strings.HasSuffix(base, ".lock")) {
			return nil, true
		}

		if outsideGraph(p) {
			continue
		}

		var label string
		switch {
		case buildFiles[base]:
			label = "//" + dir + ":all"
		case dir == "":
			label = "//:" + base
		default:
			label = "//" + dir + ":" + base
		}

		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			labels = append(labels, label)
		}
	}
	return labels, false
}

// outsideGraph reports whether a path lives outside the build graph
// (any component starting with a dot, e.g. CI configuration).
func outsideGraph(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
