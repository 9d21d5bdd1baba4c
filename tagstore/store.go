package tagstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
	"github.com/input-output-hk/catalyst-forge-release/errors"
)

const (
	// DefaultRemoteName is the remote used when tag pushing is enabled.
	DefaultRemoteName = "origin"

	// taggerName is the tagger identity recorded on release tags.
	taggerName = "forge-release"

	// taggerEmail is the tagger email recorded on release tags.
	taggerEmail = "forge-release@catalyst"
)

// Options configures a Store.
type Options struct {
	// Dir is the repository root on disk. Ignored when Repo is set.
	Dir string

	// Repo is an already-open repository, used by tests and callers that
	// manage the repository lifecycle themselves.
	Repo *git.Repository

	// Remote is the remote name for tag pushes. Defaults to "origin".
	Remote string

	// PushTags enables pushing tag creations and deletions to the remote.
	// Disabled by default so local-only repositories work out of the box.
	PushTags bool

	// Auth is the optional transport auth used for pushes.
	Auth transport.AuthMethod

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store reads and writes release tags in a git repository.
type Store struct {
	repo   *git.Repository
	opts   Options
	logger *slog.Logger
}

// Open opens the tag store for the repository described by opts.
func Open(opts Options) (*Store, error) {
	if opts.Remote == "" {
		opts.Remote = DefaultRemoteName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := opts.Repo
	if repo == nil {
		if opts.Dir == "" {
			return nil, errors.New(errors.CodeInvalidConfig, "tag store requires a repository directory")
		}
		opened, err := git.PlainOpen(opts.Dir)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to open repository")
		}
		repo = opened
	}

	return &Store{repo: repo, opts: opts, logger: logger}, nil
}

// ListTags returns all release tags for the given artifact, sorted by
// ascending version. Tags under the artifact's prefix whose version part
// does not parse are skipped with a warning, never a failure: one malformed
// tag must not block version resolution.
func (s *Store) ListTags(ctx context.Context, id catalog.ID) ([]Tag, error) {
	refs, err := s.repo.References()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read references")
	}

	prefix := id.TagPrefix()
	var tags []Tag
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsTag() {
			return nil
		}
		name := ref.Name().Short()
		version := parseVersion(name, prefix)
		if version == nil {
			if strings.HasPrefix(name, prefix) {
				s.logger.WarnContext(ctx, "skipping malformed release tag", "tag", name)
			}
			return nil
		}

		tag, buildErr := s.buildTag(id, name, version, ref)
		if buildErr != nil {
			s.logger.WarnContext(ctx, "skipping unreadable release tag", "tag", name, "error", buildErr)
			return nil
		}
		tags = append(tags, tag)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to iterate references")
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i].Version.LessThan(tags[j].Version) })
	return tags, nil
}

// buildTag assembles a Tag from a reference, recovering the content ref and
// creation time from the annotation when present.
func (s *Store) buildTag(id catalog.ID, name string, version *semver.Version, ref *plumbing.Reference) (Tag, error) {
	tag := Tag{
		ID:         id,
		Version:    version,
		Name:       name,
		ContentRef: ref.Hash().String(),
	}

	if tagObj, err := s.repo.TagObject(ref.Hash()); err == nil {
		tag.CreatedAt = tagObj.Tagger.When
		if contentRef, ok := parseContentRef(tagObj.Message); ok {
			tag.ContentRef = contentRef
		}
		return tag, nil
	}

	// Lightweight tag: fall back to the commit timestamp.
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return Tag{}, err
	}
	tag.CreatedAt = commit.Committer.When
	return tag, nil
}

// CreateTag creates an annotated release tag at the given target revision,
// recording the registry content ref in the annotation. Fails with
// ALREADY_EXISTS if the tag is present; existing tags are never re-pointed.
func (s *Store) CreateTag(ctx context.Context, id catalog.ID, version *semver.Version, target, contentRef string) (Tag, error) {
	name := TagName(id, version)

	if target == "" {
		return Tag{}, errors.New(errors.CodeInvalidInput, "target revision cannot be empty")
	}

	hash, err := s.repo.ResolveRevision(plumbing.Revision(target))
	if err != nil {
		return Tag{}, errors.WrapWithContext(err, errors.CodeInvalidInput,
			"failed to resolve target revision", map[string]any{"target": target})
	}

	if _, err := s.repo.Reference(plumbing.NewTagReferenceName(name), true); err == nil {
		return Tag{}, errors.WrapWithContext(nil, errors.CodeAlreadyExists,
			"tag already exists", map[string]any{"tag": name})
	}

	createdAt := time.Now()
	_, err = s.repo.CreateTag(name, *hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  taggerName,
			Email: taggerEmail,
			When:  createdAt,
		},
		Message: formatMessage(name, contentRef),
	})
	if err != nil {
		return Tag{}, errors.Wrap(err, errors.CodePublishFailed, "failed to create tag")
	}

	if pushErr := s.pushTag(ctx, name, false); pushErr != nil {
		return Tag{}, pushErr
	}

	s.logger.InfoContext(ctx, "created release tag", "tag", name, "target", hash.String())
	return Tag{ID: id, Version: version, Name: name, ContentRef: contentRef, CreatedAt: createdAt}, nil
}

// DeleteTag deletes the named tag. Returns NOT_FOUND if it does not exist.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	refName := plumbing.NewTagReferenceName(name)
	if _, err := s.repo.Reference(refName, true); err != nil {
		return errors.WrapWithContext(err, errors.CodeNotFound,
			"tag does not exist", map[string]any{"tag": name})
	}

	if err := s.repo.Storer.RemoveReference(refName); err != nil {
		return errors.Wrap(err, errors.CodeCleanupFailed, "failed to delete tag")
	}

	if err := s.pushTag(ctx, name, true); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "deleted release tag", "tag", name)
	return nil
}

// ResolveHead returns the commit hash of HEAD, the content fingerprint for
// release planning.
func (s *Store) ResolveHead(_ context.Context) (string, error) {
	head, err := s.repo.Head()
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to resolve HEAD")
	}
	return head.Hash().String(), nil
}

// pushTag pushes a tag creation or deletion to the configured remote.
// No-op unless PushTags is enabled.
func (s *Store) pushTag(ctx context.Context, name string, deletion bool) error {
	if !s.opts.PushTags {
		return nil
	}

	refspec := gitconfig.RefSpec("refs/tags/" + name + ":refs/tags/" + name)
	if deletion {
		refspec = gitconfig.RefSpec(":refs/tags/" + name)
	}

	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: s.opts.Remote,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       s.opts.Auth,
	})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.WrapWithContext(err, errors.CodeNetwork,
			"failed to push tag update", map[string]any{"tag": name, "deletion": deletion})
	}
	return nil
}
