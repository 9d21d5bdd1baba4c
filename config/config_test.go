package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
registry:
  host: ghcr.io
  namespace: acme
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "origin", cfg.Repo.Remote)
	assert.Equal(t, "bazel", cfg.Build.Program)
	assert.Equal(t, "bazel", cfg.Graph.Program)
	assert.Equal(t, 3, cfg.Retention.KeepMinorVersions)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "examples", cfg.ExampleDomain)
	assert.Contains(t, cfg.Build.Args, "{label}")
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
repo:
  dir: /srv/monorepo
  remote: upstream
  pushTags: true
registry:
  host: registry.local:5000
  namespace: platform
  plainHTTP: true
metadata:
  baseURL: https://api.github.com
  repo: acme/monorepo
  tokenEnv: FORGE_TOKEN
build:
  program: buck2
  args: ["build", "{label}", "--out", "{output}"]
graph:
  program: bazel
retention:
  keepMinorVersions: 5
  minAgeDays: 30
  deletePackages: true
workers: 8
timeout: 30m
exampleDomain: demo
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/srv/monorepo", cfg.Repo.Dir)
	assert.Equal(t, "upstream", cfg.Repo.Remote)
	assert.True(t, cfg.Repo.PushTags)
	assert.Equal(t, "registry.local:5000", cfg.Registry.Host)
	assert.True(t, cfg.Registry.PlainHTTP)
	assert.Equal(t, "acme/monorepo", cfg.Metadata.Repo)
	assert.Equal(t, "buck2", cfg.Build.Program)
	assert.Equal(t, "bazel", cfg.Graph.Program)
	assert.Equal(t, 5, cfg.Retention.KeepMinorVersions)
	assert.True(t, cfg.Retention.DeletePackages)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Timeout.Std())
	assert.Equal(t, "demo", cfg.ExampleDomain)
}

func TestLoadResolvesPasswordEnv(t *testing.T) {
	t.Setenv("TEST_REGISTRY_PASSWORD", "s3cret")
	path := writeConfig(t, `
registry:
  host: ghcr.io
  namespace: acme
  username: robot
  passwordEnv: TEST_REGISTRY_PASSWORD
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Registry.Password)
}

func TestMetadataToken(t *testing.T) {
	t.Setenv("TEST_FORGE_TOKEN", "tok")
	cfg := &Config{Metadata: MetadataConfig{TokenEnv: "TEST_FORGE_TOKEN"}}
	assert.Equal(t, "tok", cfg.MetadataToken())

	cfg = &Config{}
	assert.Empty(t, cfg.MetadataToken())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing registry host",
			content: "registry:\n  namespace: acme\n",
			want:    "registry.host",
		},
		{
			name:    "missing namespace",
			content: "registry:\n  host: ghcr.io\n",
			want:    "registry.namespace",
		},
		{
			name: "username without password source",
			content: `
registry:
  host: ghcr.io
  namespace: acme
  username: robot
`,
			want: "password source",
		},
		{
			name: "malformed metadata repo",
			content: `
registry:
  host: ghcr.io
  namespace: acme
metadata:
  baseURL: https://api.github.com
  repo: not-owner-name
`,
			want: "owner/name",
		},
		{
			name: "negative retention age",
			content: `
registry:
  host: ghcr.io
  namespace: acme
retention:
  keepMinorVersions: 2
  minAgeDays: -1
`,
			want: "minAgeDays",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCollectsAllProblems(t *testing.T) {
	_, err := Load(writeConfig(t, "workers: -1\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry.host")
	assert.Contains(t, err.Error(), "registry.namespace")
	assert.Contains(t, err.Error(), "workers")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "registry: [not a map"))

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}
