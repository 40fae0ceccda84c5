// Package types provides core types used across the personaflow engine.
// This package has ZERO dependencies on other personaflow packages to avoid
// circular imports. All other packages should import types from here.
package types

import (
	"time"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Role represents a history entry role as sent to the completion service.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Document is one free-text knowledge document attached to an agent.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

// Agent is a persona participant: a named profile plus knowledge documents.
// The engine treats agents as immutable snapshots for the duration of one
// orchestration run; the external store owns their lifecycle.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// Turn is one atomic conversation event. AgentID is present iff
// Speaker == SpeakerAgent. Seq is the store-assigned insertion index used to
// break CreatedAt ties.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Speaker   Speaker   `json:"speaker"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq,omitempty"`
}

// NewUserTurn creates a user turn with a local timestamp.
func NewUserTurn(sessionID, content string) Turn {
	return Turn{
		SessionID: sessionID,
		Speaker:   SpeakerUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAgentTurn creates an agent turn with a local timestamp.
func NewAgentTurn(sessionID, agentID, content string) Turn {
	return Turn{
		SessionID: sessionID,
		Speaker:   SpeakerAgent,
		AgentID:   agentID,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Valid reports whether the turn satisfies the speaker/agent invariant.
func (t Turn) Valid() bool {
	if t.Speaker == SpeakerAgent {
		return t.AgentID != ""
	}
	return t.AgentID == ""
}

// Role maps the turn's speaker to the completion-service role.
func (t Turn) Role() Role {
	if t.Speaker == SpeakerUser {
		return RoleUser
	}
	return RoleModel
}

// MaxSessionAgents is the upper bound on participants per session.
const MaxSessionAgents = 5

// Session is an ordered turn log shared by up to MaxSessionAgents
// participants. The participant set is read once per orchestration run;
// changing it requires updating the session record in the external store.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentIDs  []string  `json:"agent_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is one bounded history message handed to the completion
// service alongside the briefing.
type HistoryEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Template is a scenario prompt with {{NAME}} placeholders. RequiredFields
// lists the placeholder names a caller must supply before rendering.
type Template struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Body           string   `json:"body"`
	RequiredFields []string `json:"required_fields,omitempty"`
	Active         bool     `json:"active"`
}

// FieldMap supplies substitution values for template placeholders.
type FieldMap map[string]string
