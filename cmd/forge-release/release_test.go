package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/release"
)

func TestParseArtifact(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    catalog.ID
		wantErr bool
	}{
		{
			name: "defaults to application",
			raw:  "services/api",
			want: catalog.ID{Domain: "services", Name: "api", Kind: catalog.KindApplication},
		},
		{
			name: "explicit package kind",
			raw:  "services/api:package",
			want: catalog.ID{Domain: "services", Name: "api", Kind: catalog.KindDeploymentPackage},
		},
		{
			name: "explicit application kind",
			raw:  "web/portal:application",
			want: catalog.ID{Domain: "web", Name: "portal", Kind: catalog.KindApplication},
		},
		{name: "missing name", raw: "services", wantErr: true},
		{name: "empty domain", raw: "/api", wantErr: true},
		{name: "unknown kind", raw: "services/api:helm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArtifact(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirective(t *testing.T) {
	t.Run("requires exactly one", func(t *testing.T) {
		_, err := parseDirective(&releaseFlags{})
		require.Error(t, err)

		_, err = parseDirective(&releaseFlags{minor: true, patch: true})
		require.Error(t, err)
	})

	t.Run("explicit version", func(t *testing.T) {
		d, err := parseDirective(&releaseFlags{version: "v1.2.3"})
		require.NoError(t, err)
		explicit, ok := d.(release.Explicit)
		require.True(t, ok)
		assert.Equal(t, "1.2.3", explicit.Version.String())
	})

	t.Run("rejects partial version", func(t *testing.T) {
		_, err := parseDirective(&releaseFlags{version: "1.2"})
		require.Error(t, err)
	})

	t.Run("increments", func(t *testing.T) {
		d, err := parseDirective(&releaseFlags{minor: true})
		require.NoError(t, err)
		assert.IsType(t, release.IncrementMinor{}, d)

		d, err = parseDirective(&releaseFlags{patch: true})
		require.NoError(t, err)
		assert.IsType(t, release.IncrementPatch{}, d)

		d, err = parseDirective(&releaseFlags{latestOnly: true})
		require.NoError(t, err)
		assert.IsType(t, release.LatestOnly{}, d)
	})
}
