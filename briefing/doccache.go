package briefing

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/personaflow/types"
)

// DocumentSource supplies the knowledge documents attached to an agent.
type DocumentSource interface {
	ListDocuments(ctx context.Context, agentID string) ([]types.Document, error)
}

// DocCache memoizes document fetches for the lifetime of one orchestration
// run. Concurrent fetches for the same agent are collapsed into a single
// source call; errors are returned to every waiter and never cached, so the
// next advance retries cleanly.
type DocCache struct {
	source DocumentSource
	group  singleflight.Group

	mu   sync.RWMutex
	docs map[string][]types.Document

	hits   atomic.Int64
	misses atomic.Int64
}

// NewDocCache creates an empty cache over the given source.
func NewDocCache(source DocumentSource) *DocCache {
	return &DocCache{
		source: source,
		docs:   make(map[string][]types.Document),
	}
}

// Documents returns the agent's documents, fetching from the source on
// first use.
func (c *DocCache) Documents(ctx context.Context, agentID string) ([]types.Document, error) {
	c.mu.RLock()
	docs, ok := c.docs[agentID]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return docs, nil
	}

	v, err, _ := c.group.Do(agentID, func() (any, error) {
		c.misses.Add(1)
		fetched, err := c.source.ListDocuments(ctx, agentID)
		if err != nil {
			return nil, types.NewErrorf(types.ErrStore, "list documents for agent %s", agentID).WithCause(err)
		}
		c.mu.Lock()
		c.docs[agentID] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Document), nil
}

// Stats reports cache hit and miss counts since creation.
func (c *DocCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
