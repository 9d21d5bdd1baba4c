package tagstore

import (
	"context"
	"sync"

	"github.com/input-output-hk/catalyst-forge-release/catalog"
)

// Lister is the read side of the tag store.
type Lister interface {
	ListTags(ctx context.Context, id catalog.ID) ([]Tag, error)
}

// Cache memoizes per-artifact tag history for the duration of one
// orchestration run. It is created at invocation start, passed to every
// component that reads tag history, and discarded with the run's results.
// Never share a Cache across runs: it does not observe tags created after
// its first read of an artifact.
type Cache struct {
	source Lister

	mu   sync.Mutex
	tags map[catalog.ID][]Tag
}

// NewCache creates a cache over the given tag source.
func NewCache(source Lister) *Cache {
	return &Cache{
		source: source,
		tags:   make(map[catalog.ID][]Tag),
	}
}

// ListTags returns the artifact's tag history, querying the underlying
// source at most once per artifact. Failed reads are not cached so a
// transient failure can be retried.
func (c *Cache) ListTags(ctx context.Context, id catalog.ID) ([]Tag, error) {
	c.mu.Lock()
	cached, ok := c.tags[id]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	tags, err := c.source.ListTags(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tags[id] = tags
	c.mu.Unlock()
	return tags, nil
}
