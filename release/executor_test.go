package release

import (
	"context"
	"sync"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
	"github.com/input-output-hk/catalyst-forge-release/registry"
	"github.com/input-output-hk/catalyst-forge-release/tagstore"
)

type fakeRegistry struct {
	mu       sync.Mutex
	pushed   []string
	retagged map[string][]string
	pushErr  error
	retagErr map[string]error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{retagged: make(map[string][]string), retagErr: make(map[string]error)}
}

func (f *fakeRegistry) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeRegistry) Push(_ context.Context, _, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return "", f.pushErr
	}
	f.pushed = append(f.pushed, ref)
	return "sha256:deadbeef", nil
}

func (f *fakeRegistry) Retag(_ context.Context, srcRef string, targetRefs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.retagErr[srcRef]; err != nil {
		delete(f.retagErr, srcRef)
		return err
	}
	f.retagged[srcRef] = append(f.retagged[srcRef], targetRefs...)
	return nil
}

type fakeTagWriter struct {
	mu      sync.Mutex
	created []string
	errFor  map[string]error
}

func (f *fakeTagWriter) CreateTag(_ context.Context, id catalog.ID, version *semver.Version, _, contentRef string) (tagstore.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := tagstore.TagName(id, version)
	if err := f.errFor[name]; err != nil {
		return tagstore.Tag{}, err
	}
	f.created = append(f.created, name)
	return tagstore.Tag{ID: id, Version: version, Name: name, ContentRef: contentRef}, nil
}

type fakeMetadataWriter struct {
	mu      sync.Mutex
	records map[string]string
	err     error
}

func newFakeMetadataWriter() *fakeMetadataWriter {
	return &fakeMetadataWriter{records: make(map[string]string)}
}

func (f *fakeMetadataWriter) Create(_ context.Context, tagRef, _, notes string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.records[tagRef] = notes
	return "1", nil
}

type fakeBuilder struct {
	mu     sync.Mutex
	builds []catalog.ID
	err    error
}

func (f *fakeBuilder) Build(_ context.Context, id catalog.ID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.builds = append(f.builds, id)
	return "/tmp/out/" + id.Slug(), nil
}

type fakeHistory struct {
	subjects []string
	err      error
}

func (f *fakeHistory) CommitSubjectsBetween(_ context.Context, _, _ string) ([]string, error) {
	return f.subjects, f.err
}

type executorFixture struct {
	registry *fakeRegistry
	tags     *fakeTagWriter
	metadata *fakeMetadataWriter
	builder  *fakeBuilder
	history  *fakeHistory
	refs     *registry.RefBuilder
	executor *Executor
}

func newExecutorFixture() *executorFixture {
	f := &executorFixture{
		registry: newFakeRegistry(),
		tags:     &fakeTagWriter{},
		metadata: newFakeMetadataWriter(),
		builder:  &fakeBuilder{},
		history:  &fakeHistory{subjects: []string{"feat: add endpoint"}},
		refs:     registry.NewRefBuilder("ghcr.io", "acme"),
	}
	f.executor = NewExecutor(f.registry, f.tags, f.metadata, f.builder, f.history, f.refs, WithWorkers(1))
	return f
}

func planEntry(id catalog.ID, version string, decision BuildDecision) PlanEntry {
	return PlanEntry{
		ID:            id,
		TargetVersion: semver.MustParse(version),
		Fingerprint:   testFingerprint,
		Decision:      decision,
	}
}

func TestExecutePublishesNewBuild(t *testing.T) {
	f := newExecutorFixture()
	entry := planEntry(apiApp, "1.0.0", BuildNew{})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, IncrementPatch{})

	require.Len(t, results, 1)
	r := results[0]
	require.NoError(t, r.Err)
	assert.True(t, r.TagCreated)
	assert.True(t, r.ReleaseCreated)

	fpRef := f.refs.FingerprintRef(apiApp, testFingerprint)
	assert.Equal(t, []catalog.ID{apiApp}, f.builder.builds)
	assert.Equal(t, []string{fpRef}, f.registry.pushed)
	assert.Equal(t, []string{
		f.refs.VersionRef(apiApp, semver.MustParse("1.0.0")),
		f.refs.LatestRef(apiApp),
	}, f.registry.retagged[fpRef])
	assert.Equal(t, []string{"services-api.v1.0.0"}, f.tags.created)
	assert.Contains(t, f.metadata.records, "services-api.v1.0.0")
}

func TestExecuteReusesExistingContent(t *testing.T) {
	f := newExecutorFixture()
	fpRef := f.refs.FingerprintRef(apiApp, testFingerprint)
	entry := planEntry(apiApp, "1.0.1", Reuse{ExistingRef: fpRef})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, IncrementPatch{})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Empty(t, f.builder.builds, "reuse must not trigger a build")
	assert.Empty(t, f.registry.pushed)
	assert.Equal(t, []string{"services-api.v1.0.1"}, f.tags.created)
}

func TestExecuteReuseFallsBackToRebuild(t *testing.T) {
	f := newExecutorFixture()
	fpRef := f.refs.FingerprintRef(apiApp, testFingerprint)
	f.registry.retagErr[fpRef] = errors.New(errors.CodeNotFound, "manifest vanished")
	entry := planEntry(apiApp, "1.0.1", Reuse{ExistingRef: fpRef})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, IncrementPatch{})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, []catalog.ID{apiApp}, f.builder.builds, "failed re-tag must trigger a rebuild")
	assert.Equal(t, []string{fpRef}, f.registry.pushed)
	assert.True(t, results[0].TagCreated)
}

func TestExecuteLatestOnlySkipsTagAndRecord(t *testing.T) {
	f := newExecutorFixture()
	entry := planEntry(apiApp, "1.2.3", BuildNew{})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, LatestOnly{})

	require.Len(t, results, 1)
	r := results[0]
	require.NoError(t, r.Err)
	assert.False(t, r.TagCreated)
	assert.False(t, r.ReleaseCreated)
	assert.Empty(t, f.tags.created)
	assert.Empty(t, f.metadata.records)

	fpRef := f.refs.FingerprintRef(apiApp, testFingerprint)
	assert.Equal(t, []string{f.refs.LatestRef(apiApp)}, f.registry.retagged[fpRef],
		"latest-only publishes the moving reference and nothing else")
}

func TestExecuteConflictOnExistingTag(t *testing.T) {
	f := newExecutorFixture()
	f.tags.errFor = map[string]error{
		"services-api.v1.0.0": errors.New(errors.CodeAlreadyExists, "tag already exists"),
	}
	entry := planEntry(apiApp, "1.0.0", BuildNew{})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, IncrementPatch{})

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.True(t, errors.IsCode(results[0].Err, errors.CodeConflict),
		"an existing version tag is a conflict, never silently re-pointed")
	assert.Empty(t, f.metadata.records, "no release record without a tag")
}

func TestExecuteIsolatesFailures(t *testing.T) {
	f := newExecutorFixture()
	f.builder.err = errors.New(errors.CodeBuildFailed, "compile error")
	failing := planEntry(apiApp, "1.0.0", BuildNew{})
	fpRef := f.refs.FingerprintRef(portalApp, testFingerprint)
	surviving := planEntry(portalApp, "2.0.0", Reuse{ExistingRef: fpRef})

	results := f.executor.Execute(context.Background(), []PlanEntry{failing, surviving}, IncrementPatch{})

	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	assert.True(t, errors.IsCode(results[0].Err, errors.CodeBuildFailed))
	require.NoError(t, results[1].Err)
	assert.True(t, results[1].TagCreated)

	succeeded, failed, skipped := Summarize(results)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, skipped)
}

func TestExecuteCancelledContextSkipsEntries(t *testing.T) {
	f := newExecutorFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries := []PlanEntry{
		planEntry(apiApp, "1.0.0", BuildNew{}),
		planEntry(portalApp, "1.0.0", BuildNew{}),
	}
	results := f.executor.Execute(ctx, entries, IncrementPatch{})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Skipped)
		assert.NoError(t, r.Err)
	}
	assert.Empty(t, f.builder.builds)
}

func TestExecuteNotesDegradeOnHistoryFailure(t *testing.T) {
	f := newExecutorFixture()
	f.history.err = errors.New(errors.CodeInternal, "bad revision")
	entry := planEntry(apiApp, "1.0.0", BuildNew{})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, IncrementPatch{})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err, "a notes failure must not fail the entry")
	assert.Equal(t, "No changes recorded.", f.metadata.records["services-api.v1.0.0"])
}

func TestExecuteMetadataFailureAfterTag(t *testing.T) {
	f := newExecutorFixture()
	f.metadata.err = errors.New(errors.CodeUnavailable, "metadata store down")
	entry := planEntry(apiApp, "1.0.0", BuildNew{})

	results := f.executor.Execute(context.Background(), []PlanEntry{entry}, IncrementPatch{})

	require.Len(t, results, 1)
	r := results[0]
	require.Error(t, r.Err)
	assert.True(t, r.TagCreated, "the tag stays in place; the record write is retried by a later run")
	assert.False(t, r.ReleaseCreated)
}
