package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/personaflow/types"
)

// MemoryStore is an in-memory Store used as the reference implementation and
// in tests. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]types.Session
	turns    map[string][]types.Turn
	agents   map[string]types.Agent
	docs     map[string][]types.Document
	seq      int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]types.Session),
		turns:    make(map[string][]types.Turn),
		agents:   make(map[string]types.Agent),
		docs:     make(map[string][]types.Document),
	}
}

// PutSession creates or replaces a session record, assigning an ID and
// timestamps when missing.
func (s *MemoryStore) PutSession(sess types.Session) types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.sessions[sess.ID] = sess
	return sess
}

// PutAgent creates or replaces an agent profile.
func (s *MemoryStore) PutAgent(agent types.Agent) types.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	s.agents[agent.ID] = agent
	return agent
}

// PutDocuments replaces the agent's document set.
func (s *MemoryStore) PutDocuments(agentID string, docs []types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[agentID] = append([]types.Document(nil), docs...)
}

// RemoveSession deletes a session and its turn log.
func (s *MemoryStore) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
}

// GetSession implements SessionStore.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, NotFound(sessionID)
	}
	out := sess
	out.AgentIDs = append([]string(nil), sess.AgentIDs...)
	return &out, nil
}

// AppendTurn implements SessionStore. The stored turn gets a fresh ID when
// the caller supplied none and the next insertion Seq.
func (s *MemoryStore) AppendTurn(_ context.Context, turn types.Turn) (*types.Turn, error) {
	if !turn.Valid() {
		return nil, types.NewError(types.ErrValidation, "turn speaker/agent mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[turn.SessionID]; !ok {
		return nil, NotFound(turn.SessionID)
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.seq++
	turn.Seq = s.seq
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)

	sess := s.sessions[turn.SessionID]
	sess.UpdatedAt = time.Now()
	s.sessions[turn.SessionID] = sess

	out := turn
	return &out, nil
}

// ListTurns implements SessionStore.
func (s *MemoryStore) ListTurns(_ context.Context, sessionID string) ([]types.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, NotFound(sessionID)
	}
	out := append([]types.Turn(nil), s.turns[sessionID]...)
	SortTurns(out)
	return out, nil
}

// DeleteTurn implements SessionStore.
func (s *MemoryStore) DeleteTurn(_ context.Context, sessionID, turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return NotFound(sessionID)
	}
	log := s.turns[sessionID]
	for i, t := range log {
		if t.ID == turnID {
			s.turns[sessionID] = append(log[:i:i], log[i+1:]...)
			return nil
		}
	}
	return nil
}

// GetAgent implements AgentStore.
func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, types.NewErrorf(types.ErrStore, "agent %s not found", agentID)
	}
	out := agent
	return &out, nil
}

// ListDocuments implements DocumentStore.
func (s *MemoryStore) ListDocuments(_ context.Context, agentID string) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Document(nil), s.docs[agentID]...), nil
}
