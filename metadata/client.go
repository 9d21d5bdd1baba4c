// Package metadata manages human-readable release records in the release
// metadata store, keyed by tag. The store speaks a GitHub-compatible
// releases REST API.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

// Record is a release record as returned by the store.
type Record struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Body    string `json:"body"`
}

// createRequest is the payload for record creation.
type createRequest struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Body    string `json:"body"`
}

// ClientOption mutates a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.http = httpClient }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(maxRetries uint64, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryInterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client talks to the release metadata store.
type Client struct {
	baseURL       string
	repo          string
	token         string
	http          *http.Client
	maxRetries    uint64
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewClient creates a metadata client for the given API base URL and
// repository ("owner/name").
func NewClient(baseURL, repo, token string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" || repo == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "metadata store requires base URL and repository")
	}

	c := &Client{
		baseURL:       baseURL,
		repo:          repo,
		token:         token,
		http:          &http.Client{Timeout: 30 * time.Second},
		maxRetries:    3,
		retryInterval: time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create writes a release record for the tag and returns its record id.
// An existing record for the same tag is a conflict, never overwritten.
func (c *Client) Create(ctx context.Context, tagRef, name, notes string) (string, error) {
	payload, err := json.Marshal(createRequest{TagName: tagRef, Name: name, Body: notes})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode release record")
	}

	var record Record
	err = c.withRetries(ctx, func() error {
		return c.do(ctx, http.MethodPost, c.endpoint("releases"), payload, http.StatusCreated, &record)
	})
	if err != nil {
		return "", errors.WrapWithContext(err, errors.GetCode(err),
			"failed to create release record", map[string]any{"tag": tagRef})
	}

	c.logger.InfoContext(ctx, "created release record", "tag", tagRef, "id", record.ID)
	return strconv.FormatInt(record.ID, 10), nil
}

// Find returns the record id for a tag, or found=false when absent.
func (c *Client) Find(ctx context.Context, tagRef string) (string, bool, error) {
	var record Record
	err := c.withRetries(ctx, func() error {
		return c.do(ctx, http.MethodGet, c.endpoint("releases/tags/"+url.PathEscape(tagRef)),
			nil, http.StatusOK, &record)
	})
	if errors.IsCode(err, errors.CodeNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapWithContext(err, errors.GetCode(err),
			"failed to look up release record", map[string]any{"tag": tagRef})
	}
	return strconv.FormatInt(record.ID, 10), true, nil
}

// Delete removes the release record for a tag. Absent records are not an
// error: cleanup re-runs must be idempotent.
func (c *Client) Delete(ctx context.Context, tagRef string) error {
	id, found, err := c.Find(ctx, tagRef)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	err = c.withRetries(ctx, func() error {
		return c.do(ctx, http.MethodDelete, c.endpoint("releases/"+id), nil, http.StatusNoContent, nil)
	})
	if err != nil {
		return errors.WrapWithContext(err, errors.GetCode(err),
			"failed to delete release record", map[string]any{"tag": tagRef, "id": id})
	}

	c.logger.InfoContext(ctx, "deleted release record", "tag", tagRef, "id", id)
	return nil
}

// endpoint builds a repository-scoped API URL.
func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.baseURL, c.repo, path)
}

// do performs one HTTP request and decodes the response on the expected
// status. Other statuses map onto the engine's error taxonomy.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, expected int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "metadata store request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == expected {
		if out == nil {
			return nil
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
			return errors.Wrap(decodeErr, errors.CodeInternal, "failed to decode response")
		}
		return nil
	}

	return statusError(resp.StatusCode)
}

// statusError maps an unexpected HTTP status onto an error code.
func statusError(status int) error {
	switch {
	case status == http.StatusNotFound:
		return errors.Newf(errors.CodeNotFound, "metadata store returned %d", status)
	case status == http.StatusUnauthorized:
		return errors.Newf(errors.CodeUnauthorized, "metadata store returned %d", status)
	case status == http.StatusForbidden:
		return errors.Newf(errors.CodeForbidden, "metadata store returned %d", status)
	case status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return errors.Newf(errors.CodeConflict, "metadata store returned %d", status)
	case status >= 500:
		return errors.Newf(errors.CodeUnavailable, "metadata store returned %d", status)
	default:
		return errors.Newf(errors.CodeUnknown, "metadata store returned %d", status)
	}
}

// withRetries retries transient-classified failures with bounded backoff.
func (c *Client) withRetries(ctx context.Context, operation func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
