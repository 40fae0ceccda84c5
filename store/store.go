// Package store defines the engine's view of the external conversation
// store: session records, the append-only turn log, and agent profiles with
// their knowledge documents. The engine never owns this data; it reads and
// appends through these interfaces and treats everything else as external.
package store

import (
	"context"
	"sort"

	"github.com/BaSui01/personaflow/types"
)

// SessionStore is the session and turn-log collaborator.
type SessionStore interface {
	// GetSession returns the session record, or a SESSION_NOT_FOUND error.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	// AppendTurn appends one turn to the session's log and returns the
	// stored turn with its assigned ID and Seq.
	AppendTurn(ctx context.Context, turn types.Turn) (*types.Turn, error)
	// ListTurns returns the session's full log ordered by CreatedAt, with
	// Seq breaking ties.
	ListTurns(ctx context.Context, sessionID string) ([]types.Turn, error)
	// DeleteTurn removes one turn from the log. Deleting an absent turn is
	// a no-op; other turns are never affected.
	DeleteTurn(ctx context.Context, sessionID, turnID string) error
}

// AgentStore resolves agent profiles by ID.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID string) (*types.Agent, error)
}

// DocumentStore supplies the knowledge documents attached to an agent.
type DocumentStore interface {
	ListDocuments(ctx context.Context, agentID string) ([]types.Document, error)
}

// Store is the full collaborator surface the orchestrator works against.
type Store interface {
	SessionStore
	AgentStore
	DocumentStore
}

// NotFound builds the canonical SESSION_NOT_FOUND error for a session ID.
func NotFound(sessionID string) *types.Error {
	return types.NewErrorf(types.ErrSessionNotFound, "session %s not found", sessionID)
}

// SortTurns orders turns by CreatedAt ascending, breaking timestamp ties by
// the store-assigned Seq.
func SortTurns(turns []types.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].Seq < turns[j].Seq
		}
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}
