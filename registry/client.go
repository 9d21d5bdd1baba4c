package registry

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

const (
	// artifactType identifies release artifacts in manifest metadata.
	artifactType = "application/vnd.forge.release.artifact.v1"

	// layerMediaType is the media type of the archived build output layer.
	layerMediaType = "application/vnd.forge.release.layer.v1.tar+gzip"

	// annotationDigest records the layer digest on the manifest.
	annotationDigest = "forge.release/content-digest"
)

// ClientOptions configures the registry client.
type ClientOptions struct {
	// StaticRegistry, StaticUsername, StaticPassword configure static
	// credentials for one registry host. Empty means the anonymous client.
	StaticRegistry string
	StaticUsername string
	StaticPassword string

	// PlainHTTPHosts lists registry hosts reached over plain HTTP
	// (local development registries).
	PlainHTTPHosts []string

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries uint64

	// RetryInterval is the initial backoff interval.
	RetryInterval time.Duration

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithStaticAuth configures static credentials for the given registry host.
func WithStaticAuth(registry, username, password string) ClientOption {
	return func(o *ClientOptions) {
		o.StaticRegistry = registry
		o.StaticUsername = username
		o.StaticPassword = password
	}
}

// WithPlainHTTP marks registry hosts as reachable over plain HTTP.
func WithPlainHTTP(hosts ...string) ClientOption {
	return func(o *ClientOptions) { o.PlainHTTPHosts = hosts }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(maxRetries uint64, interval time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.MaxRetries = maxRetries
		o.RetryInterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *ClientOptions) { o.Logger = logger }
}

// Client performs registry operations. Safe for concurrent use.
type Client struct {
	options ClientOptions
}

// New creates a registry client.
func New(opts ...ClientOption) (*Client, error) {
	options := ClientOptions{
		MaxRetries:    3,
		RetryInterval: time.Second,
		Logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	if options.StaticRegistry != "" {
		if options.StaticUsername == "" || options.StaticPassword == "" {
			return nil, errors.New(errors.CodeInvalidConfig,
				"static auth requires both username and password")
		}
	}

	return &Client{options: options}, nil
}

// Exists reports whether the given reference resolves to a manifest.
func (c *Client) Exists(ctx context.Context, ref string) (bool, error) {
	repo, tag, err := c.repository(ref)
	if err != nil {
		return false, err
	}

	var found bool
	err = c.withRetries(ctx, func() error {
		_, resolveErr := repo.Resolve(ctx, tag)
		if stderrors.Is(resolveErr, errdef.ErrNotFound) {
			found = false
			return nil
		}
		if resolveErr != nil {
			return resolveErr
		}
		found = true
		return nil
	})
	if err != nil {
		return false, c.classify(err, "failed to resolve reference", ref)
	}
	return found, nil
}

// Push archives the build output directory and pushes it as an OCI artifact
// under the given reference. Returns the manifest digest.
func (c *Client) Push(ctx context.Context, sourceDir, ref string) (string, error) {
	if sourceDir == "" {
		return "", errors.New(errors.CodeInvalidInput, "source directory cannot be empty")
	}

	blob, blobDigest, err := ArchiveDir(sourceDir)
	if err != nil {
		return "", err
	}

	repo, tag, err := c.repository(ref)
	if err != nil {
		return "", err
	}

	var manifestDesc ocispec.Descriptor
	err = c.withRetries(ctx, func() error {
		store := memory.New()

		layerDesc, pushErr := oras.PushBytes(ctx, store, layerMediaType, blob)
		if pushErr != nil {
			return pushErr
		}

		packed, packErr := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, artifactType,
			oras.PackManifestOptions{
				Layers: []ocispec.Descriptor{layerDesc},
				ManifestAnnotations: map[string]string{
					annotationDigest: blobDigest.String(),
				},
			})
		if packErr != nil {
			return packErr
		}

		if tagErr := store.Tag(ctx, packed, tag); tagErr != nil {
			return tagErr
		}

		copied, copyErr := oras.Copy(ctx, store, tag, repo, tag, oras.DefaultCopyOptions)
		if copyErr != nil {
			return copyErr
		}
		manifestDesc = copied
		return nil
	})
	if err != nil {
		return "", c.classify(err, "failed to push artifact", ref)
	}

	c.options.Logger.InfoContext(ctx, "pushed artifact",
		"ref", ref, "digest", manifestDesc.Digest.String())
	return manifestDesc.Digest.String(), nil
}

// Retag points additional tags at the content already stored under srcRef.
// No layer data is re-uploaded; only manifest tags are written. All target
// refs must live in the same repository as srcRef.
func (c *Client) Retag(ctx context.Context, srcRef string, targetRefs ...string) error {
	srcRepoPath, srcTag := SplitRef(srcRef)
	repo, _, err := c.repository(srcRef)
	if err != nil {
		return err
	}

	targetTags := make([]string, 0, len(targetRefs))
	for _, target := range targetRefs {
		targetRepoPath, targetTag := SplitRef(target)
		if targetRepoPath != srcRepoPath {
			return errors.Newf(errors.CodeInvalidInput,
				"cannot retag across repositories: %s -> %s", srcRef, target)
		}
		targetTags = append(targetTags, targetTag)
	}

	err = c.withRetries(ctx, func() error {
		desc, resolveErr := repo.Resolve(ctx, srcTag)
		if resolveErr != nil {
			return resolveErr
		}
		for _, tag := range targetTags {
			if tagErr := repo.Tag(ctx, desc, tag); tagErr != nil {
				return tagErr
			}
		}
		return nil
	})
	if err != nil {
		return c.classify(err, "failed to retag artifact", srcRef)
	}

	c.options.Logger.InfoContext(ctx, "retagged artifact", "src", srcRef, "targets", targetTags)
	return nil
}

// Delete removes the manifest the reference points at.
// Deleting an absent reference is not an error: cleanup re-runs must be
// idempotent.
func (c *Client) Delete(ctx context.Context, ref string) error {
	repo, tag, err := c.repository(ref)
	if err != nil {
		return err
	}

	err = c.withRetries(ctx, func() error {
		desc, resolveErr := repo.Resolve(ctx, tag)
		if stderrors.Is(resolveErr, errdef.ErrNotFound) {
			return nil
		}
		if resolveErr != nil {
			return resolveErr
		}
		deleteErr := repo.Manifests().Delete(ctx, desc)
		if stderrors.Is(deleteErr, errdef.ErrNotFound) {
			return nil
		}
		return deleteErr
	})
	if err != nil {
		return c.classify(err, "failed to delete artifact", ref)
	}

	c.options.Logger.InfoContext(ctx, "deleted artifact", "ref", ref)
	return nil
}

// repository builds an authenticated ORAS repository for the reference.
func (c *Client) repository(ref string) (*remote.Repository, string, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, "", errors.WrapWithContext(err, errors.CodeInvalidInput,
			"invalid registry reference", map[string]any{"ref": ref})
	}

	client := &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
	}
	if c.options.StaticRegistry != "" {
		client.Credential = auth.StaticCredential(c.options.StaticRegistry, auth.Credential{
			Username: c.options.StaticUsername,
			Password: c.options.StaticPassword,
		})
	}
	repo.Client = client

	host := repo.Reference.Registry
	for _, plain := range c.options.PlainHTTPHosts {
		if host == plain {
			repo.PlainHTTP = true
			break
		}
	}

	return repo, repo.Reference.Reference, nil
}

// withRetries runs the operation under the client's backoff policy,
// retrying only transient-classified failures.
func (c *Client) withRetries(ctx context.Context, operation func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(c.options.RetryInterval), c.options.MaxRetries),
		ctx)

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// newExponential builds the exponential backoff used for registry retries.
func newExponential(interval time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	return bo
}

// classify wraps a terminal error with the appropriate code: transient
// failures as NETWORK_ERROR (the retry budget is exhausted, the caller's
// entry fails), everything else as PUBLISH_FAILED.
func (c *Client) classify(err error, message, ref string) error {
	code := errors.CodePublishFailed
	if isRetryableError(err) {
		code = errors.CodeNetwork
	}
	return errors.WrapWithContext(err, code, message, map[string]any{"ref": ref})
}

// isRetryableError reports whether an error is a transient network or
// registry condition worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "internal server error")
}
