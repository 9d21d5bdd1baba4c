package main

import (
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/retention"
)

// cleanupFlags are the cleanup subcommand's flags.
type cleanupFlags struct {
	all    bool
	domain string

	keep           int
	minAgeDays     int
	deletePackages bool

	dryRun bool
}

func newCleanupCmd(root *rootFlags) *cobra.Command {
	flags := &cleanupFlags{keep: -1, minAgeDays: -1}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove released versions past their retention window",
		Long: `Apply the retention policy and remove versions past their keep window.

For every selected artifact the newest minor lines are protected, as is
the newest minor line of every major version. Each removed version loses
its release record, its tag, and, when --delete-packages is set, its
registry content. Planning is idempotent: a second run after a full
cleanup removes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, root, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.all, "all", false, "Clean up every catalog artifact")
	cmd.Flags().StringVar(&flags.domain, "domain", "", "Clean up every artifact in one domain")
	cmd.Flags().IntVar(&flags.keep, "keep", -1, "Number of minor lines to keep (overrides config)")
	cmd.Flags().IntVar(&flags.minAgeDays, "min-age-days", -1, "Defer deleting versions younger than this (overrides config)")
	cmd.Flags().BoolVar(&flags.deletePackages, "delete-packages", false, "Also delete registry content of removed versions")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the cleanup plan without deleting anything")

	return cmd
}

func runCleanup(cmd *cobra.Command, root *rootFlags, flags *cleanupFlags) error {
	if flags.all == (flags.domain != "") {
		return errors.New(errors.CodeInvalidInput, "exactly one of --all or --domain is required")
	}

	ctx := cmd.Context()
	deps, err := setup(ctx, root)
	if err != nil {
		return err
	}
	ctx, cancel := deps.runContext(ctx)
	defer cancel()

	policy := retention.Policy{
		KeepMinorVersions: deps.cfg.Retention.KeepMinorVersions,
		MinAgeDays:        deps.cfg.Retention.MinAgeDays,
		DeletePackages:    deps.cfg.Retention.DeletePackages || flags.deletePackages,
	}
	if flags.keep >= 0 {
		policy.KeepMinorVersions = flags.keep
	}
	if flags.minAgeDays >= 0 {
		policy.MinAgeDays = flags.minAgeDays
	}

	meta, err := deps.metadataClient()
	if err != nil {
		return err
	}
	engine, err := retention.NewEngine(deps.store, meta, deps.reg, deps.refs, policy,
		retention.WithCleanupWorkers(deps.cfg.Workers),
		retention.WithEngineLogger(deps.logger),
	)
	if err != nil {
		return err
	}

	var ids []catalog.ID
	entries := deps.catalog.All()
	if flags.domain != "" {
		entries = deps.catalog.ByDomain(flags.domain)
		if len(entries) == 0 {
			return errors.Newf(errors.CodeInvalidInput, "domain %q has no catalog artifacts", flags.domain)
		}
	}
	for _, e := range entries {
		ids = append(ids, e.ID)
	}

	plan, err := engine.Plan(ctx, ids)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		printf("nothing to clean up")
		return nil
	}

	if flags.dryRun {
		printf("cleanup plan (%d entries):", len(plan))
		for _, entry := range plan {
			printf("  %s", entry.String())
		}
		return nil
	}

	results := engine.Execute(ctx, plan)
	removed, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			printf("FAIL %s: %v", r.Entry.String(), r.Err)
			continue
		}
		removed++
		printf("OK   %s", r.Entry.String())
	}
	printf("removed %d, failed %d", removed, failed)
	return nil
}
