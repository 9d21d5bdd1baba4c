package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/config"
	"github.com/input-output-hk/catalyst-forge-release/graph"
	"github.com/input-output-hk/catalyst-forge-release/metadata"
	"github.com/input-output-hk/catalyst-forge-release/registry"
	"github.com/input-output-hk/catalyst-forge-release/run"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	repoDir    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "forge-release",
		Short:         "Release orchestration for the monorepo",
		Long:          "forge-release analyzes change impact, resolves artifact versions, publishes releases, and enforces retention across the tag store, the registry, and the release-metadata store.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Configuration file (default: "+config.DefaultPath()+")")
	cmd.PersistentFlags().StringVar(&flags.repoDir, "repo-dir", "", "Monorepo checkout directory (overrides config)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newReleaseCmd(flags))
	cmd.AddCommand(newCleanupCmd(flags))
	return cmd
}

// newLogger builds the CLI logger writing colorized structured lines to
// stderr, keeping stdout for command output.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// engineDeps bundles the wired components every subcommand needs.
type engineDeps struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *tagstore.Store
	cache   *tagstore.Cache
	runner  *run.CommandRunner
	querier *graph.CommandQuerier
	catalog *catalog.Catalog
	reg     *registry.Client
	refs    *registry.RefBuilder
}

// setup loads configuration and wires the shared components.
func setup(ctx context.Context, flags *rootFlags) (*engineDeps, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.repoDir != "" {
		cfg.Repo.Dir = flags.repoDir
	}
	if cfg.Repo.Dir == "" {
		cfg.Repo.Dir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}

	logger := newLogger(flags.verbose)
	slog.SetDefault(logger)

	store, err := tagstore.Open(tagstore.Options{
		Dir:      cfg.Repo.Dir,
		Remote:   cfg.Repo.Remote,
		PushTags: cfg.Repo.PushTags,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	runner := run.NewRunner()
	querier := graph.NewCommandQuerier(runner, cfg.Graph.Program,
		graph.WithWorkdir(cfg.Repo.Dir),
		graph.WithLogger(logger),
	)

	cat, err := catalog.Load(ctx, querier)
	if err != nil {
		return nil, err
	}

	regOpts := []registry.ClientOption{registry.WithLogger(logger)}
	if cfg.Registry.Username != "" {
		regOpts = append(regOpts, registry.WithStaticAuth(
			cfg.Registry.Host, cfg.Registry.Username, cfg.Registry.Password))
	}
	if cfg.Registry.PlainHTTP {
		regOpts = append(regOpts, registry.WithPlainHTTP(cfg.Registry.Host))
	}
	reg, err := registry.New(regOpts...)
	if err != nil {
		return nil, err
	}

	return &engineDeps{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cache:   tagstore.NewCache(store),
		runner:  runner,
		querier: querier,
		catalog: cat,
		reg:     reg,
		refs:    registry.NewRefBuilder(cfg.Registry.Host, cfg.Registry.Namespace),
	}, nil
}

// metadataClient builds the release-metadata client from configuration.
func (d *engineDeps) metadataClient() (*metadata.Client, error) {
	return metadata.NewClient(
		d.cfg.Metadata.BaseURL,
		d.cfg.Metadata.Repo,
		d.cfg.MetadataToken(),
		metadata.WithLogger(d.logger),
	)
}

// runContext applies the configured run timeout.
func (d *engineDeps) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout > 0 {
		return context.WithTimeout(parent, d.cfg.Timeout.Std())
	}
	return context.WithCancel(parent)
}

// printf writes command output to stdout, keeping it separate from logs.
func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}
