package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/store"
	"github.com/BaSui01/personaflow/types"
)

// Resumed is the state handed back when an active session is restored.
type Resumed struct {
	Session *types.Session
	Turns   []types.Turn
	// FromCache reports whether Turns came from the cache rather than the
	// authoritative store.
	FromCache bool
}

// Manager restores and tracks the active session across restarts: the
// pointer says which session was last open, the cache gives its turns back
// without waiting on the store, and the store stays authoritative.
type Manager struct {
	store   store.SessionStore
	pointer ActivePointer
	cache   TurnCache
	logger  *zap.Logger
}

// NewManager creates a Manager.
func NewManager(st store.SessionStore, pointer ActivePointer, cache TurnCache, logger *zap.Logger) (*Manager, error) {
	if st == nil {
		return nil, types.NewError(types.ErrValidation, "nil session store")
	}
	if pointer == nil {
		return nil, types.NewError(types.ErrValidation, "nil active pointer")
	}
	if cache == nil {
		cache = NewMemoryTurnCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   st,
		pointer: pointer,
		cache:   cache,
		logger:  logger.With(zap.String("component", "session")),
	}, nil
}

// Activate marks a session as the active one and warms its turn cache.
func (m *Manager) Activate(ctx context.Context, sessionID string) error {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := m.pointer.Store(ctx, sessionID); err != nil {
		return err
	}
	if _, err := m.RefreshTurns(ctx, sessionID); err != nil {
		m.logger.Warn("turn cache warm failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// Deactivate clears the pointer and drops the cached turns.
func (m *Manager) Deactivate(ctx context.Context) error {
	id, err := m.pointer.Load(ctx)
	if err != nil {
		return err
	}
	if id != "" {
		if err := m.cache.Drop(ctx, id); err != nil {
			m.logger.Warn("turn cache drop failed",
				zap.String("session_id", id), zap.Error(err))
		}
	}
	return m.pointer.Clear(ctx)
}

// Resume restores the active session. Cached turns are used when present;
// otherwise the store is read and the cache rewarmed. A nil result without
// error means no session is active. When the store no longer knows the
// session, the pointer and cache are cleared and SESSION_NOT_FOUND returned.
func (m *Manager) Resume(ctx context.Context) (*Resumed, error) {
	id, err := m.pointer.Load(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}

	sess, err := m.store.GetSession(ctx, id)
	if types.IsCode(err, types.ErrSessionNotFound) {
		m.logger.Info("active session gone, clearing pointer",
			zap.String("session_id", id))
		if dropErr := m.cache.Drop(ctx, id); dropErr != nil {
			m.logger.Warn("turn cache drop failed", zap.Error(dropErr))
		}
		if clearErr := m.pointer.Clear(ctx); clearErr != nil {
			m.logger.Warn("pointer clear failed", zap.Error(clearErr))
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	turns, ok, cacheErr := m.cache.Get(ctx, id)
	if cacheErr != nil {
		m.logger.Warn("turn cache read failed",
			zap.String("session_id", id), zap.Error(cacheErr))
	}
	if ok {
		return &Resumed{Session: sess, Turns: turns, FromCache: true}, nil
	}

	turns, err = m.RefreshTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Resumed{Session: sess, Turns: turns}, nil
}

// RefreshTurns re-reads the authoritative turn log and re-caches it.
func (m *Manager) RefreshTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Put(ctx, sessionID, turns); err != nil {
		m.logger.Warn("turn cache put failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return turns, nil
}
