package main

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/changes"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/release"
)

// releaseFlags are the release subcommand's flags.
type releaseFlags struct {
	all             bool
	domain          string
	artifacts       []string
	affectedSince   string
	includeExamples bool

	version    string
	minor      bool
	patch      bool
	latestOnly bool

	dryRun bool
}

func newReleaseCmd(root *rootFlags) *cobra.Command {
	flags := &releaseFlags{}

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Plan and execute a release",
		Long: `Plan and execute a release for a set of artifacts.

The scope is one of --all, --domain, --artifact (repeatable), or
--affected-since, which releases exactly the artifacts affected by the
changes since the given revision. The version directive is one of
--version, --minor, --patch, or --latest-only.

Entry failures are isolated and do not fail the run: the command exits
non-zero only when the request itself is invalid or planning fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelease(cmd, root, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.all, "all", false, "Release every catalog artifact (excludes the example domain)")
	cmd.Flags().StringVar(&flags.domain, "domain", "", "Release every artifact in one domain")
	cmd.Flags().StringArrayVar(&flags.artifacts, "artifact", nil, "Release one artifact, as domain/name[:application|package] (repeatable)")
	cmd.Flags().StringVar(&flags.affectedSince, "affected-since", "", "Release the artifacts affected by changes since this revision")
	cmd.Flags().BoolVar(&flags.includeExamples, "include-examples", false, "Include the example domain in an --all release")

	cmd.Flags().StringVar(&flags.version, "version", "", "Release exactly this version")
	cmd.Flags().BoolVar(&flags.minor, "minor", false, "Increment the minor version")
	cmd.Flags().BoolVar(&flags.patch, "patch", false, "Increment the patch version")
	cmd.Flags().BoolVar(&flags.latestOnly, "latest-only", false, "Publish only the moving latest reference")

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the plan without publishing anything")

	return cmd
}

func runRelease(cmd *cobra.Command, root *rootFlags, flags *releaseFlags) error {
	directive, err := parseDirective(flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	deps, err := setup(ctx, root)
	if err != nil {
		return err
	}
	ctx, cancel := deps.runContext(ctx)
	defer cancel()

	fingerprint, err := deps.store.ResolveHead(ctx)
	if err != nil {
		return err
	}

	resolver := release.NewResolver(deps.cache, deps.logger)
	planner := release.NewPlanner(deps.catalog, resolver, deps.reg, deps.refs,
		deps.cfg.ExampleDomain, deps.logger)

	var plan []release.PlanEntry
	if flags.affectedSince != "" {
		if flags.all || flags.domain != "" || len(flags.artifacts) > 0 {
			return errors.New(errors.CodeInvalidInput,
				"--affected-since cannot be combined with other scope flags")
		}
		detector := changes.NewDetector(deps.store, deps.querier, deps.catalog, deps.logger)
		affected, detectErr := detector.DetectAffected(ctx, flags.affectedSince, "HEAD")
		if detectErr != nil {
			return detectErr
		}
		plan, err = planner.PlanAffected(ctx, affected, directive, fingerprint)
	} else {
		scope, scopeErr := parseScope(flags)
		if scopeErr != nil {
			return scopeErr
		}
		plan, err = planner.Plan(ctx, scope, directive, fingerprint)
	}
	if err != nil {
		return err
	}

	if len(plan) == 0 {
		printf("nothing to release")
		return nil
	}

	if flags.dryRun {
		printf("release plan (%d entries, directive %s):", len(plan), directive.String())
		for _, entry := range plan {
			printf("  %-40s v%-12s %s", entry.ID.String(), entry.TargetVersion.String(), entry.Decision.String())
		}
		return nil
	}

	meta, err := deps.metadataClient()
	if err != nil {
		return err
	}
	builder := release.NewCommandBuilder(deps.runner,
		deps.cfg.Build.Program, deps.cfg.Build.Args, deps.cfg.Build.OutputDir,
		release.WithBuildWorkdir(deps.cfg.Repo.Dir),
		release.WithBuilderLogger(deps.logger),
	)
	executor := release.NewExecutor(deps.reg, deps.store, meta, builder, deps.store, deps.refs,
		release.WithWorkers(deps.cfg.Workers),
		release.WithExecutorLogger(deps.logger),
	)

	results := executor.Execute(ctx, plan, directive)
	for _, r := range results {
		switch {
		case r.Skipped:
			printf("SKIP %s", r.ID.String())
		case r.Err != nil:
			printf("FAIL %s: %v", r.ID.String(), r.Err)
		default:
			printf("OK   %s v%s", r.ID.String(), r.TargetVersion.String())
		}
	}

	succeeded, failed, skipped := release.Summarize(results)
	printf("released %d, failed %d, skipped %d", succeeded, failed, skipped)
	return nil
}

// parseDirective maps the version flags onto a release directive.
// Exactly one must be set.
func parseDirective(flags *releaseFlags) (release.Directive, error) {
	set := 0
	for _, on := range []bool{flags.version != "", flags.minor, flags.patch, flags.latestOnly} {
		if on {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New(errors.CodeInvalidInput,
			"exactly one of --version, --minor, --patch, or --latest-only is required")
	}

	switch {
	case flags.version != "":
		v, err := semver.StrictNewVersion(strings.TrimPrefix(flags.version, "v"))
		if err != nil {
			return nil, errors.WrapWithContext(err, errors.CodeInvalidInput,
				"invalid version", map[string]any{"version": flags.version})
		}
		return release.Explicit{Version: v}, nil
	case flags.minor:
		return release.IncrementMinor{}, nil
	case flags.latestOnly:
		return release.LatestOnly{}, nil
	default:
		return release.IncrementPatch{}, nil
	}
}

// parseScope maps the scope flags onto a release scope.
func parseScope(flags *releaseFlags) (release.Scope, error) {
	scope := release.Scope{
		All:             flags.all,
		Domain:          flags.domain,
		IncludeExamples: flags.includeExamples,
	}
	for _, raw := range flags.artifacts {
		id, err := parseArtifact(raw)
		if err != nil {
			return release.Scope{}, err
		}
		scope.Explicit = append(scope.Explicit, id)
	}
	return scope, nil
}

// parseArtifact parses "domain/name[:kind]". The kind suffix defaults to
// application.
func parseArtifact(raw string) (catalog.ID, error) {
	path, kindName, hasKind := strings.Cut(raw, ":")

	kind := catalog.KindApplication
	if hasKind {
		switch catalog.Kind(kindName) {
		case catalog.KindApplication, catalog.KindDeploymentPackage:
			kind = catalog.Kind(kindName)
		default:
			return catalog.ID{}, errors.Newf(errors.CodeInvalidInput,
				"unknown artifact kind %q in %q", kindName, raw)
		}
	}

	domain, name, ok := strings.Cut(path, "/")
	if !ok || domain == "" || name == "" {
		return catalog.ID{}, errors.Newf(errors.CodeInvalidInput,
			"artifact %q must have the form domain/name[:kind]", raw)
	}
	return catalog.ID{Domain: domain, Name: name, Kind: kind}, nil
}
