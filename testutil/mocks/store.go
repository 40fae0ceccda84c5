package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/personaflow/store"
	"github.com/BaSui01/personaflow/types"
)

// ScriptedStore wraps a store.Store with per-method hooks, letting tests
// inject failures or reshape results without a second implementation. A nil
// hook delegates to the wrapped store.
type ScriptedStore struct {
	store.Store

	mu sync.Mutex

	OnGetSession    func(ctx context.Context, sessionID string) (*types.Session, error)
	OnAppendTurn    func(ctx context.Context, turn types.Turn) (*types.Turn, error)
	OnListTurns     func(ctx context.Context, sessionID string) ([]types.Turn, error)
	OnListDocuments func(ctx context.Context, agentID string) ([]types.Document, error)

	appendCalls int
	listCalls   int
}

// NewScriptedStore wraps inner.
func NewScriptedStore(inner store.Store) *ScriptedStore {
	return &ScriptedStore{Store: inner}
}

func (s *ScriptedStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if s.OnGetSession != nil {
		return s.OnGetSession(ctx, sessionID)
	}
	return s.Store.GetSession(ctx, sessionID)
}

func (s *ScriptedStore) AppendTurn(ctx context.Context, turn types.Turn) (*types.Turn, error) {
	s.mu.Lock()
	s.appendCalls++
	s.mu.Unlock()
	if s.OnAppendTurn != nil {
		return s.OnAppendTurn(ctx, turn)
	}
	return s.Store.AppendTurn(ctx, turn)
}

func (s *ScriptedStore) ListTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()
	if s.OnListTurns != nil {
		return s.OnListTurns(ctx, sessionID)
	}
	return s.Store.ListTurns(ctx, sessionID)
}

func (s *ScriptedStore) ListDocuments(ctx context.Context, agentID string) ([]types.Document, error) {
	if s.OnListDocuments != nil {
		return s.OnListDocuments(ctx, agentID)
	}
	return s.Store.ListDocuments(ctx, agentID)
}

// AppendCalls returns how many times AppendTurn ran.
func (s *ScriptedStore) AppendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls
}

// ListCalls returns how many times ListTurns ran.
func (s *ScriptedStore) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// DropTurnByID returns an OnListTurns hook that hides one turn from every
// listing, simulating a store that has not yet persisted the local echo.
func DropTurnByID(inner store.Store, turnID func() string) func(ctx context.Context, sessionID string) ([]types.Turn, error) {
	return func(ctx context.Context, sessionID string) ([]types.Turn, error) {
		turns, err := inner.ListTurns(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		id := turnID()
		out := turns[:0:0]
		for _, t := range turns {
			if t.ID != id {
				out = append(out, t)
			}
		}
		return out, nil
	}
}
