package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/registry"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

var (
	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testID  = catalog.ID{Domain: "services", Name: "api", Kind: catalog.KindApplication}
)

// historyTag builds a tag created ageDays before testNow.
func historyTag(version string, ageDays int) tagstore.Tag {
	v := semver.MustParse(version)
	return tagstore.Tag{
		ID:         testID,
		Version:    v,
		Name:       tagstore.TagName(testID, v),
		ContentRef: "ghcr.io/acme/services/api:sha-" + version,
		CreatedAt:  testNow.Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
}

type fakeTagStore struct {
	mu      sync.Mutex
	history map[catalog.ID][]tagstore.Tag
	listErr error
	deleted []string
	delErr  map[string]error
}

func (f *fakeTagStore) ListTags(_ context.Context, id catalog.ID) ([]tagstore.Tag, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.history[id], nil
}

func (f *fakeTagStore) DeleteTag(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.delErr[name]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	for id, tags := range f.history {
		kept := tags[:0]
		for _, t := range tags {
			if t.Name != name {
				kept = append(kept, t)
			}
		}
		f.history[id] = kept
	}
	return nil
}

type fakeReleaseDeleter struct {
	mu      sync.Mutex
	deleted []string
	errFor  map[string]error
}

func (f *fakeReleaseDeleter) Delete(_ context.Context, tagRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[tagRef]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, tagRef)
	return nil
}

type fakeRegistryDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeRegistryDeleter) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func newTestEngine(t *testing.T, tags *fakeTagStore, releases *fakeReleaseDeleter, reg *fakeRegistryDeleter, policy Policy) *Engine {
	t.Helper()
	refs := registry.NewRefBuilder("ghcr.io", "acme")
	engine, err := NewEngine(tags, releases, reg, refs, policy,
		WithClock(func() time.Time { return testNow }),
		WithCleanupWorkers(1),
	)
	require.NoError(t, err)
	return engine
}

func versions(entries []CleanupEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Version.String())
	}
	return out
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{KeepMinorVersions: 1}.Validate())
	assert.Error(t, Policy{KeepMinorVersions: 0}.Validate())
	assert.Error(t, Policy{KeepMinorVersions: 2, MinAgeDays: -1}.Validate())
}

func TestPlanKeepsNewestMinorLines(t *testing.T) {
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.0.1", 30),
			historyTag("1.1.2", 25),
			historyTag("1.1.3", 20),
			historyTag("1.2.4", 15),
			historyTag("1.2.5", 10),
			historyTag("2.0.0", 5),
		},
	}}
	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 2, MinAgeDays: 14})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})

	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.1", "1.1.2", "1.1.3", "1.2.4"}, versions(entries))
}

func TestPlanProtectsNewestMinorPerMajor(t *testing.T) {
	// 1.2 is outside the top-2 minor lines but is the newest minor under
	// major 1, so its head must survive even without the keep window.
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.2.0", 400),
			historyTag("2.0.0", 300),
			historyTag("2.1.0", 200),
			historyTag("3.0.0", 100),
		},
	}}
	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 2})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})

	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, versions(entries))
}

func TestPlanDefersYoungCandidates(t *testing.T) {
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.0.0", 3),
			historyTag("1.0.1", 2),
			historyTag("1.1.0", 1),
		},
	}}
	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1, MinAgeDays: 14})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})

	require.NoError(t, err)
	assert.Empty(t, entries, "removable versions younger than the age gate are deferred, not deleted")
}

func TestPlanAgeGateBoundary(t *testing.T) {
	// A removable tag exactly MinAgeDays old is deferred; only strictly
	// older tags are removed.
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.0.0", 15),
			historyTag("1.0.1", 14),
			historyTag("1.1.0", 1),
		},
	}}
	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1, MinAgeDays: 14})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})

	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, versions(entries))
}

func TestPlanEmptyHistory(t *testing.T) {
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{}}
	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})

	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPlanRegistryRefsGatedByPolicy(t *testing.T) {
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.0.0", 30),
			historyTag("1.1.0", 20),
		},
	}}

	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1})
	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].RegistryRefs)

	engine = newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1, DeletePackages: true})
	entries, err = engine.Plan(context.Background(), []catalog.ID{testID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{
		"ghcr.io/acme/services/api:v1.0.0",
		"ghcr.io/acme/services/api:sha-1.0.0",
	}, entries[0].RegistryRefs)
	for _, ref := range entries[0].RegistryRefs {
		assert.NotContains(t, ref, ":latest")
	}
}

func TestExecuteDeletesInOrder(t *testing.T) {
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.0.0", 30),
			historyTag("1.1.0", 20),
		},
	}}
	releases := &fakeReleaseDeleter{}
	reg := &fakeRegistryDeleter{}
	engine := newTestEngine(t, tags, releases, reg,
		Policy{KeepMinorVersions: 1, DeletePackages: true})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	results := engine.Execute(context.Background(), entries)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, []string{"services-api.v1.0.0"}, releases.deleted)
	assert.Equal(t, []string{"services-api.v1.0.0"}, tags.deleted)
	assert.Equal(t, []string{
		"ghcr.io/acme/services/api:v1.0.0",
		"ghcr.io/acme/services/api:sha-1.0.0",
	}, reg.deleted)

	// A second planning pass finds nothing left to remove.
	entries, err = engine.Plan(context.Background(), []catalog.ID{testID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteIsolatesEntryFailures(t *testing.T) {
	tags := &fakeTagStore{history: map[catalog.ID][]tagstore.Tag{
		testID: {
			historyTag("1.0.0", 40),
			historyTag("1.1.0", 30),
			historyTag("1.2.0", 20),
		},
	}}
	releases := &fakeReleaseDeleter{errFor: map[string]error{
		"services-api.v1.0.0": errors.New(errors.CodeUnavailable, "metadata store unavailable"),
	}}
	engine := newTestEngine(t, tags, releases, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1})

	entries, err := engine.Plan(context.Background(), []catalog.ID{testID})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	results := engine.Execute(context.Background(), entries)

	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	assert.True(t, errors.IsCode(results[0].Err, errors.CodeCleanupFailed))
	assert.NoError(t, results[1].Err)
	assert.Equal(t, []string{"services-api.v1.1.0"}, tags.deleted,
		"the failed entry's tag survives for the next run")
}

func TestExecuteToleratesMissingTag(t *testing.T) {
	// A tag deleted out of band between plan and execute is not a failure.
	tags := &fakeTagStore{
		history: map[catalog.ID][]tagstore.Tag{},
		delErr: map[string]error{
			"services-api.v1.0.0": errors.New(errors.CodeNotFound, "tag does not exist"),
		},
	}
	engine := newTestEngine(t, tags, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1})

	entry := CleanupEntry{
		ID:      testID,
		Version: semver.MustParse("1.0.0"),
		TagName: "services-api.v1.0.0",
	}
	results := engine.Execute(context.Background(), []CleanupEntry{entry})

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(t, &fakeTagStore{}, &fakeReleaseDeleter{}, &fakeRegistryDeleter{},
		Policy{KeepMinorVersions: 1})

	entry := CleanupEntry{
		ID:      testID,
		Version: semver.MustParse("1.0.0"),
		TagName: "services-api.v1.0.0",
	}
	results := engine.Execute(ctx, []CleanupEntry{entry})

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
