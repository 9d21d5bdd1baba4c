// Package catalog enumerates the releasable artifacts of the monorepo.
// Artifacts are declared in the build graph as labeled targets; the catalog
// maps those labels onto stable artifact identities.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

// Kind distinguishes the two releasable artifact kinds. Version sequences
// are independent per kind, even for the same domain and name.
type Kind string

const (
	// KindApplication is a runnable application image.
	KindApplication Kind = "application"

	// KindDeploymentPackage is a deployment package (rendered manifests).
	KindDeploymentPackage Kind = "package"
)

// graph target names that mark a label as a catalog entry.
const (
	targetApplication = "image"
	targetPackage     = "chart"
)

// ID is the immutable identity of a releasable artifact.
type ID struct {
	// Domain is the top-level monorepo directory the artifact lives in.
	Domain string `json:"domain"`

	// Name is the artifact name within its domain.
	Name string `json:"name"`

	// Kind is the artifact kind.
	Kind Kind `json:"kind"`
}

// String renders the identity as "domain/name (kind)".
func (id ID) String() string {
	return fmt.Sprintf("%s/%s (%s)", id.Domain, id.Name, id.Kind)
}

// Path renders the identity as "domain/name", the form used for scope
// arguments and deterministic plan ordering.
func (id ID) Path() string {
	return id.Domain + "/" + id.Name
}

// Slug renders the identity as "domain-name", the form used in tag names.
func (id ID) Slug() string {
	return id.Domain + "-" + id.Name
}

// TagPrefix returns the version-control tag prefix for this artifact.
// Applications and deployment packages use disjoint prefixes so their
// version sequences never collide.
func (id ID) TagPrefix() string {
	if id.Kind == KindDeploymentPackage {
		return "pkg." + id.Slug() + ".v"
	}
	return id.Slug() + ".v"
}

// Label renders the canonical graph label declaring this artifact.
func (id ID) Label() string {
	target := targetApplication
	if id.Kind == KindDeploymentPackage {
		target = targetPackage
	}
	return "//" + id.Domain + "/" + id.Name + ":" + target
}

// Less orders identities lexicographically by domain/name, packages after
// applications for the same path.
func (id ID) Less(other ID) bool {
	if id.Path() != other.Path() {
		return id.Path() < other.Path()
	}
	return id.Kind < other.Kind
}

// Entry is a catalog entry: an artifact identity plus the graph label
// that declares it.
type Entry struct {
	ID    ID
	Label string
}

// LabelSource supplies the graph labels of all catalog entries.
// The production implementation queries the build graph; tests supply
// a fixed label list.
type LabelSource interface {
	CatalogLabels(ctx context.Context) ([]string, error)
}

// Catalog holds all releasable artifacts, sorted by identity.
type Catalog struct {
	entries []Entry
	byLabel map[string]Entry
	byID    map[ID]Entry
}

// Load builds the catalog from the given label source.
// Labels that do not declare a catalog entry are rejected; the source is
// expected to scope its query to catalog targets.
func Load(ctx context.Context, source LabelSource) (*Catalog, error) {
	labels, err := source.CatalogLabels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to enumerate catalog entries")
	}

	entries := make([]Entry, 0, len(labels))
	for _, label := range labels {
		id, parseErr := ParseLabel(label)
		if parseErr != nil {
			return nil, parseErr
		}
		entries = append(entries, Entry{ID: id, Label: label})
	}

	return New(entries), nil
}

// New builds a catalog from pre-parsed entries.
func New(entries []Entry) *Catalog {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.Less(sorted[j].ID) })

	c := &Catalog{
		entries: sorted,
		byLabel: make(map[string]Entry, len(sorted)),
		byID:    make(map[ID]Entry, len(sorted)),
	}
	for _, e := range sorted {
		c.byLabel[e.Label] = e
		c.byID[e.ID] = e
	}
	return c
}

// All returns every catalog entry in deterministic order.
func (c *Catalog) All() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ByDomain returns the entries whose identity is in the given domain.
func (c *Catalog) ByDomain(domain string) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.ID.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the entry for the given identity.
func (c *Catalog) Lookup(id ID) (Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// ByLabel returns the entry declared by the given graph label.
func (c *Catalog) ByLabel(label string) (Entry, bool) {
	e, ok := c.byLabel[label]
	return e, ok
}

// IDsForLabels intersects a label set with the catalog, returning the
// identities of matching entries. Labels outside the catalog are ignored.
func (c *Catalog) IDsForLabels(labels []string) []ID {
	var ids []ID
	for _, label := range labels {
		if e, ok := c.byLabel[label]; ok {
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Size returns the number of catalog entries.
func (c *Catalog) Size() int {
	return len(c.entries)
}

// ParseLabel maps a graph label onto an artifact identity.
// Catalog labels have the shape "//{domain}/{name}:{target}" where the
// target name determines the kind.
func ParseLabel(label string) (ID, error) {
	trimmed := strings.TrimPrefix(label, "//")
	if trimmed == label {
		return ID{}, errors.Newf(errors.CodeInvalidInput, "label %q does not start with //", label)
	}

	path, target, found := strings.Cut(trimmed, ":")
	if !found || target == "" {
		return ID{}, errors.Newf(errors.CodeInvalidInput, "label %q has no target", label)
	}

	domain, name, found := strings.Cut(path, "/")
	if !found || domain == "" || name == "" {
		return ID{}, errors.Newf(errors.CodeInvalidInput, "label %q is not a domain/name package", label)
	}

	switch target {
	case targetApplication:
		return ID{Domain: domain, Name: name, Kind: KindApplication}, nil
	case targetPackage:
		return ID{Domain: domain, Name: name, Kind: KindDeploymentPackage}, nil
	default:
		return ID{}, errors.Newf(errors.CodeInvalidInput, "label %q target %q is not a catalog entry", label, target)
	}
}
