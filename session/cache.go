package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/personaflow/types"
)

// TurnCache keeps a session's last-known turn log for instant resume. The
// cache is advisory: callers always re-read the authoritative store
// afterwards, so stale or lost entries only cost a refresh.
type TurnCache interface {
	// Get returns the cached turns and whether the key was present.
	Get(ctx context.Context, sessionID string) ([]types.Turn, bool, error)
	// Put replaces the cached turns. Last write wins.
	Put(ctx context.Context, sessionID string, turns []types.Turn) error
	// Drop removes the entry.
	Drop(ctx context.Context, sessionID string) error
}

const turnKeyPrefix = "personaflow:turns:"

// RedisTurnCache stores one JSON value per session key with a TTL.
type RedisTurnCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTurnCache wraps an existing client. A non-positive TTL defaults
// to 24 hours.
func NewRedisTurnCache(client *redis.Client, ttl time.Duration) *RedisTurnCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTurnCache{client: client, ttl: ttl}
}

// Get implements TurnCache.
func (c *RedisTurnCache) Get(ctx context.Context, sessionID string) ([]types.Turn, bool, error) {
	data, err := c.client.Get(ctx, turnKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewError(types.ErrStore, "turn cache get").WithCause(err)
	}
	var turns []types.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		// Treat undecodable entries as a miss; the next Put heals them.
		return nil, false, nil
	}
	return turns, true, nil
}

// Put implements TurnCache.
func (c *RedisTurnCache) Put(ctx context.Context, sessionID string, turns []types.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return types.NewError(types.ErrStore, "encode cached turns").WithCause(err)
	}
	if err := c.client.Set(ctx, turnKeyPrefix+sessionID, data, c.ttl).Err(); err != nil {
		return types.NewError(types.ErrStore, "turn cache put").WithCause(err)
	}
	return nil
}

// Drop implements TurnCache.
func (c *RedisTurnCache) Drop(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, turnKeyPrefix+sessionID).Err(); err != nil {
		return types.NewError(types.ErrStore, "turn cache drop").WithCause(err)
	}
	return nil
}

// MemoryTurnCache is an in-process TurnCache.
type MemoryTurnCache struct {
	mu    sync.RWMutex
	turns map[string][]types.Turn
}

// NewMemoryTurnCache creates an empty cache.
func NewMemoryTurnCache() *MemoryTurnCache {
	return &MemoryTurnCache{turns: make(map[string][]types.Turn)}
}

func (c *MemoryTurnCache) Get(_ context.Context, sessionID string) ([]types.Turn, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns, ok := c.turns[sessionID]
	if !ok {
		return nil, false, nil
	}
	return append([]types.Turn(nil), turns...), true, nil
}

func (c *MemoryTurnCache) Put(_ context.Context, sessionID string, turns []types.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns[sessionID] = append([]types.Turn(nil), turns...)
	return nil
}

func (c *MemoryTurnCache) Drop(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.turns, sessionID)
	return nil
}
