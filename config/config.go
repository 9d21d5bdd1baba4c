// Package config loads and validates the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

// DefaultFileName is the configuration file looked up under the XDG config
// directory when no explicit path is given.
const DefaultFileName = "forge-release/config.yaml"

// Config is the full engine configuration.
type Config struct {
	// Repo configures the monorepo checkout and tag store.
	Repo RepoConfig `yaml:"repo"`

	// Registry configures the artifact registry.
	Registry RegistryConfig `yaml:"registry"`

	// Metadata configures the release-metadata store.
	Metadata MetadataConfig `yaml:"metadata"`

	// Build configures the external build backend.
	Build BuildConfig `yaml:"build"`

	// Graph configures the build-graph oracle.
	Graph GraphConfig `yaml:"graph"`

	// Retention configures cleanup policy defaults.
	Retention RetentionConfig `yaml:"retention"`

	// Workers bounds release and cleanup parallelism. Defaults to 4.
	Workers int `yaml:"workers"`

	// Timeout bounds a whole engine run. Zero means no limit.
	Timeout Duration `yaml:"timeout"`

	// ExampleDomain names the demonstration domain excluded from wildcard
	// releases. Defaults to "examples".
	ExampleDomain string `yaml:"exampleDomain"`
}

// RepoConfig configures the monorepo checkout.
type RepoConfig struct {
	// Dir is the repository root. Defaults to the working directory.
	Dir string `yaml:"dir"`

	// Remote is the git remote for tag pushes. Defaults to "origin".
	Remote string `yaml:"remote"`

	// PushTags enables pushing tag creations and deletions to the remote.
	PushTags bool `yaml:"pushTags"`
}

// RegistryConfig configures the artifact registry.
type RegistryConfig struct {
	// Host is the registry host, e.g. "ghcr.io".
	Host string `yaml:"host"`

	// Namespace is the organization path under the host.
	Namespace string `yaml:"namespace"`

	// Username for registry auth. Empty means anonymous.
	Username string `yaml:"username"`

	// Password for registry auth. Resolved from PasswordEnv when set.
	Password string `yaml:"password"`

	// PasswordEnv names an environment variable holding the password,
	// preferred over a literal password in the file.
	PasswordEnv string `yaml:"passwordEnv"`

	// PlainHTTP allows plain-HTTP registries, for local development only.
	PlainHTTP bool `yaml:"plainHTTP"`
}

// MetadataConfig configures the release-metadata store.
type MetadataConfig struct {
	// BaseURL is the metadata store API base, e.g. "https://api.github.com".
	BaseURL string `yaml:"baseURL"`

	// Repo is the "owner/name" repository releases are recorded against.
	Repo string `yaml:"repo"`

	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `yaml:"tokenEnv"`
}

// BuildConfig configures the external build backend.
type BuildConfig struct {
	// Program is the build tool executable. Defaults to "bazel".
	Program string `yaml:"program"`

	// Args is the argument template; {label}, {output}, and {fingerprint}
	// are substituted per build.
	Args []string `yaml:"args"`

	// OutputDir is where per-artifact build output is staged. Defaults to
	// a "forge-release" directory under the system temp dir.
	OutputDir string `yaml:"outputDir"`
}

// GraphConfig configures the build-graph oracle.
type GraphConfig struct {
	// Program is the query tool executable. Defaults to Build.Program.
	Program string `yaml:"program"`
}

// RetentionConfig configures cleanup policy defaults.
type RetentionConfig struct {
	// KeepMinorVersions is the keep window for minor lines. Defaults to 3.
	KeepMinorVersions int `yaml:"keepMinorVersions"`

	// MinAgeDays defers deletion of young candidates. Defaults to 0.
	MinAgeDays int `yaml:"minAgeDays"`

	// DeletePackages extends cleanup to registry content.
	DeletePackages bool `yaml:"deletePackages"`
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultPath returns the default configuration path under the XDG config
// directory, whether or not the file exists.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, DefaultFileName)
}

// Load reads, defaults, and validates the configuration at path. An empty
// path falls back to DefaultPath; a missing file there yields the built-in
// defaults, since every field has a flag or environment override.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
			return nil, errors.WrapWithContext(unmarshalErr, errors.CodeInvalidConfig,
				"failed to parse configuration", map[string]any{"path": path})
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults and flags cover everything.
	default:
		return nil, errors.WrapWithContext(err, errors.CodeInvalidConfig,
			"failed to read configuration", map[string]any{"path": path})
	}

	cfg.applyDefaults()
	cfg.resolveEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Repo.Remote == "" {
		c.Repo.Remote = "origin"
	}
	if c.Build.Program == "" {
		c.Build.Program = "bazel"
	}
	if len(c.Build.Args) == 0 {
		c.Build.Args = []string{"run", "{label}", "--", "--output", "{output}"}
	}
	if c.Build.OutputDir == "" {
		c.Build.OutputDir = filepath.Join(os.TempDir(), "forge-release")
	}
	if c.Graph.Program == "" {
		c.Graph.Program = c.Build.Program
	}
	if c.Retention.KeepMinorVersions == 0 {
		c.Retention.KeepMinorVersions = 3
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.ExampleDomain == "" {
		c.ExampleDomain = "examples"
	}
}

// resolveEnv resolves environment-variable indirections for credentials.
func (c *Config) resolveEnv() {
	if c.Registry.PasswordEnv != "" {
		if v := os.Getenv(c.Registry.PasswordEnv); v != "" {
			c.Registry.Password = v
		}
	}
}

// MetadataToken resolves the metadata store API token.
func (c *Config) MetadataToken() string {
	if c.Metadata.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Metadata.TokenEnv)
}

// Validate checks the configuration for consistency, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Registry.Host == "" {
		problems = append(problems, "registry.host is required")
	}
	if c.Registry.Namespace == "" {
		problems = append(problems, "registry.namespace is required")
	}
	if c.Registry.Username != "" && c.Registry.Password == "" && c.Registry.PasswordEnv == "" {
		problems = append(problems, "registry.username is set without a password source")
	}
	if c.Metadata.BaseURL != "" && c.Metadata.Repo == "" {
		problems = append(problems, "metadata.repo is required when metadata.baseURL is set")
	}
	if c.Metadata.Repo != "" && strings.Count(c.Metadata.Repo, "/") != 1 {
		problems = append(problems, fmt.Sprintf("metadata.repo %q must have the form owner/name", c.Metadata.Repo))
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout cannot be negative")
	}
	if c.Retention.KeepMinorVersions < 1 {
		problems = append(problems, "retention.keepMinorVersions must be at least 1")
	}
	if c.Retention.MinAgeDays < 0 {
		problems = append(problems, "retention.minAgeDays cannot be negative")
	}

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidConfig,
			"configuration validation failed: "+strings.Join(problems, "; "))
	}
	return nil
}
