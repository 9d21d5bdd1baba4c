package tagstore

import (
	"context"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

// ChangedPaths returns the sorted set of file paths that differ between the
// two revisions. Renames contribute both the old and the new path.
func (s *Store) ChangedPaths(_ context.Context, baseRef, headRef string) ([]string, error) {
	baseTree, err := s.treeForRevision(baseRef)
	if err != nil {
		return nil, err
	}
	headTree, err := s.treeForRevision(headRef)
	if err != nil {
		return nil, err
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to compute changes")
	}

	seen := make(map[string]struct{})
	for _, change := range changes {
		if change.From.Name != "" {
			seen[change.From.Name] = struct{}{}
		}
		if change.To.Name != "" {
			seen[change.To.Name] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// CommitSubjectsBetween returns the subject lines of commits reachable from
// headRef but not from baseRef, newest first. An empty baseRef walks the full
// history, which is the first-release case.
func (s *Store) CommitSubjectsBetween(_ context.Context, baseRef, headRef string) ([]string, error) {
	headHash, err := s.repo.ResolveRevision(plumbing.Revision(headRef))
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidInput,
			"failed to resolve revision", map[string]any{"revision": headRef})
	}

	var baseHash *plumbing.Hash
	if baseRef != "" {
		resolved, resolveErr := s.repo.ResolveRevision(plumbing.Revision(baseRef))
		if resolveErr != nil {
			return nil, errors.WrapWithContext(resolveErr, errors.CodeInvalidInput,
				"failed to resolve revision", map[string]any{"revision": baseRef})
		}
		baseHash = resolved
	}

	iter, err := s.repo.Log(&git.LogOptions{From: *headHash})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read history")
	}
	defer iter.Close()

	var subjects []string
	err = iter.ForEach(func(commit *object.Commit) error {
		if baseHash != nil && commit.Hash == *baseHash {
			return storer.ErrStop
		}
		subjects = append(subjects, subjectLine(commit.Message))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to iterate history")
	}
	return subjects, nil
}

// treeForRevision resolves a revision and returns its tree.
func (s *Store) treeForRevision(rev string) (*object.Tree, error) {
	if rev == "" {
		return nil, errors.New(errors.CodeInvalidInput, "revision cannot be empty")
	}

	hash, err := s.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidInput,
			"failed to resolve revision", map[string]any{"revision": rev})
	}

	commit, err := s.repo.CommitObject(*hash)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read commit object")
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read tree")
	}
	return tree, nil
}

// subjectLine returns the first line of a commit message.
func subjectLine(message string) string {
	for i := 0; i < len(message); i++ {
		if message[i] == '\n' {
			return message[:i]
		}
	}
	return message
}
