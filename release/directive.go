// Package release computes and executes release plans: it resolves target
// versions from tag history, decides whether build output can be reused,
// and performs the ordered multi-system publish.
package release

import (
	"github.com/Masterminds/semver/v3"
)

// Directive selects how the target version of a release is chosen.
// It is a closed sum type; every consumption site switches exhaustively
// over the four variants.
type Directive interface {
	isDirective()

	// String names the directive for logs and plan output.
	String() string
}

// Explicit releases exactly the requested version. The version must be
// strictly greater than the artifact's current maximum.
type Explicit struct {
	Version *semver.Version
}

func (Explicit) isDirective() {}

func (d Explicit) String() string { return "explicit(v" + d.Version.String() + ")" }

// IncrementMinor bumps the minor version of the current maximum.
type IncrementMinor struct{}

func (IncrementMinor) isDirective() {}

func (IncrementMinor) String() string { return "increment-minor" }

// IncrementPatch bumps the patch version of the current maximum.
type IncrementPatch struct{}

func (IncrementPatch) isDirective() {}

func (IncrementPatch) String() string { return "increment-patch" }

// LatestOnly publishes only the moving "latest" reference: no version tag,
// no version-control tag, no release record. The fast untracked publish.
type LatestOnly struct{}

func (LatestOnly) isDirective() {}

func (LatestOnly) String() string { return "latest-only" }

// BuildDecision records whether existing build output is reused or a fresh
// build is required. Closed sum type, like Directive.
type BuildDecision interface {
	isBuildDecision()

	// String names the decision for logs and plan output.
	String() string
}

// Reuse points the release at content already stored under the entry's
// fingerprint tag. Reuse is an optimization, never a correctness
// dependency: the executor falls back to BuildNew when re-tagging fails.
type Reuse struct {
	ExistingRef string
}

func (Reuse) isBuildDecision() {}

func (d Reuse) String() string { return "reuse(" + d.ExistingRef + ")" }

// BuildNew invokes the build backend and pushes fresh content.
type BuildNew struct{}

func (BuildNew) isBuildDecision() {}

func (BuildNew) String() string { return "build" }
