// Package registry implements the content-addressable artifact registry
// client on top of ORAS. Build output is stored under fingerprint tags,
// semantic-version tags, and a mutable "latest" tag; all but "latest" are
// immutable once pushed.
package registry

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
)

// LatestTag is the moving reference, the only mutable tag in a repository.
const LatestTag = "latest"

// fingerprintTagPrefix namespaces fingerprint tags away from version tags.
const fingerprintTagPrefix = "sha-"

// chartSuffix is the repository suffix for deployment packages, keeping
// application images and packages in separate repositories.
const chartSuffix = "/charts"

// RefBuilder renders registry references for artifacts.
type RefBuilder struct {
	host      string
	namespace string
}

// NewRefBuilder creates a RefBuilder for the given registry host and
// namespace (e.g. "ghcr.io", "acme").
func NewRefBuilder(host, namespace string) *RefBuilder {
	return &RefBuilder{host: host, namespace: namespace}
}

// Repository returns the repository path for an artifact, without a tag.
func (b *RefBuilder) Repository(id catalog.ID) string {
	repo := b.host + "/" + b.namespace + "/" + id.Domain + "/" + id.Name
	if id.Kind == catalog.KindDeploymentPackage {
		repo += chartSuffix
	}
	return repo
}

// FingerprintRef returns the reference for content built from the given
// source fingerprint.
func (b *RefBuilder) FingerprintRef(id catalog.ID, fingerprint string) string {
	return b.Repository(id) + ":" + FingerprintTag(fingerprint)
}

// VersionRef returns the reference for a released version.
func (b *RefBuilder) VersionRef(id catalog.ID, version *semver.Version) string {
	return b.Repository(id) + ":v" + version.String()
}

// LatestRef returns the moving "latest" reference.
func (b *RefBuilder) LatestRef(id catalog.ID) string {
	return b.Repository(id) + ":" + LatestTag
}

// FingerprintTag renders the tag name for a content fingerprint.
// Fingerprints are commit hashes; twelve characters keeps tags readable
// while staying unique within any realistic history.
func FingerprintTag(fingerprint string) string {
	if len(fingerprint) > 12 {
		fingerprint = fingerprint[:12]
	}
	return fingerprintTagPrefix + fingerprint
}

// SplitRef splits a full reference into repository and tag.
// References without a tag return an empty tag.
func SplitRef(ref string) (repository, tag string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, ""
}
