package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/BaSui01/personaflow/types"
)

// sessionRecord maps a session onto the external store's table. AgentIDs is
// a JSON array so the participant list stays ordered without a join table.
type sessionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	AgentIDs  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "pf_sessions" }

// turnRecord is one row of the append-only turn log. Seq is the
// auto-increment insertion index used for the CreatedAt tie-break.
type turnRecord struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"uniqueIndex;size:64;not null"`
	SessionID string    `gorm:"index;size:64;not null"`
	Speaker   string    `gorm:"size:16;not null"`
	AgentID   string    `gorm:"size:64"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (turnRecord) TableName() string { return "pf_turns" }

type agentRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	Kind        string `gorm:"size:64"`
}

func (agentRecord) TableName() string { return "pf_agents" }

type documentRecord struct {
	RowID   uint   `gorm:"primaryKey;autoIncrement"`
	AgentID string `gorm:"index;size:64;not null"`
	Name    string `gorm:"size:255;not null"`
	Content string `gorm:"type:text"`
	Kind    string `gorm:"size:64"`
}

func (documentRecord) TableName() string { return "pf_documents" }

// GormStore is a Store backed by a caller-supplied *gorm.DB, so deployments
// can point the engine at the external store's database with any GORM
// driver.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the engine tables and wraps the connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, types.NewError(types.ErrValidation, "nil gorm db")
	}
	err := db.AutoMigrate(&sessionRecord{}, &turnRecord{}, &agentRecord{}, &documentRecord{})
	if err != nil {
		return nil, types.NewError(types.ErrStore, "auto migrate").WithCause(err)
	}
	return &GormStore{db: db}, nil
}

// PutSession creates or replaces a session record.
func (s *GormStore) PutSession(ctx context.Context, sess types.Session) (types.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	ids, err := json.Marshal(sess.AgentIDs)
	if err != nil {
		return types.Session{}, types.NewError(types.ErrStore, "encode agent ids").WithCause(err)
	}
	rec := sessionRecord{
		ID:        sess.ID,
		Name:      sess.Name,
		AgentIDs:  string(ids),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return types.Session{}, types.NewError(types.ErrStore, "save session").WithCause(err)
	}
	return sess, nil
}

// PutAgent creates or replaces an agent profile.
func (s *GormStore) PutAgent(ctx context.Context, agent types.Agent) (types.Agent, error) {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	rec := agentRecord{ID: agent.ID, Name: agent.Name, Description: agent.Description, Kind: agent.Kind}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return types.Agent{}, types.NewError(types.ErrStore, "save agent").WithCause(err)
	}
	return agent, nil
}

// PutDocuments replaces the agent's document set.
func (s *GormStore) PutDocuments(ctx context.Context, agentID string, docs []types.Document) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", agentID).Delete(&documentRecord{}).Error; err != nil {
			return err
		}
		for _, d := range docs {
			rec := documentRecord{AgentID: agentID, Name: d.Name, Content: d.Content, Kind: d.Kind}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSession implements SessionStore.
func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound(sessionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "get session").WithCause(err)
	}
	sess := types.Session{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.AgentIDs != "" {
		if err := json.Unmarshal([]byte(rec.AgentIDs), &sess.AgentIDs); err != nil {
			return nil, types.NewError(types.ErrStore, "decode agent ids").WithCause(err)
		}
	}
	return &sess, nil
}

// AppendTurn implements SessionStore.
func (s *GormStore) AppendTurn(ctx context.Context, turn types.Turn) (*types.Turn, error) {
	if !turn.Valid() {
		return nil, types.NewError(types.ErrValidation, "turn speaker/agent mismatch")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	rec := turnRecord{
		ID:        turn.ID,
		SessionID: turn.SessionID,
		Speaker:   string(turn.Speaker),
		AgentID:   turn.AgentID,
		Content:   turn.Content,
		CreatedAt: turn.CreatedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess sessionRecord
		if err := tx.First(&sess, "id = ?", turn.SessionID).Error; err != nil {
			return err
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&sessionRecord{}).Where("id = ?", turn.SessionID).
			Update("updated_at", time.Now()).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound(turn.SessionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "append turn").WithCause(err)
	}
	turn.Seq = rec.Seq
	return &turn, nil
}

// ListTurns implements SessionStore.
func (s *GormStore) ListTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	var sess sessionRecord
	err := s.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound(sessionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "get session").WithCause(err)
	}
	var recs []turnRecord
	err = s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at, seq").
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrStore, "list turns").WithCause(err)
	}
	turns := make([]types.Turn, 0, len(recs))
	for _, r := range recs {
		turns = append(turns, types.Turn{
			ID:        r.ID,
			SessionID: r.SessionID,
			Speaker:   types.Speaker(r.Speaker),
			AgentID:   r.AgentID,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
			Seq:       r.Seq,
		})
	}
	return turns, nil
}

// DeleteTurn implements SessionStore.
func (s *GormStore) DeleteTurn(ctx context.Context, sessionID, turnID string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, turnID).
		Delete(&turnRecord{}).Error
	if err != nil {
		return types.NewError(types.ErrStore, "delete turn").WithCause(err)
	}
	return nil
}

// GetAgent implements AgentStore.
func (s *GormStore) GetAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	var rec agentRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewErrorf(types.ErrStore, "agent %s not found", agentID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "get agent").WithCause(err)
	}
	return &types.Agent{ID: rec.ID, Name: rec.Name, Description: rec.Description, Kind: rec.Kind}, nil
}

// ListDocuments implements DocumentStore.
func (s *GormStore) ListDocuments(ctx context.Context, agentID string) ([]types.Document, error) {
	var recs []documentRecord
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("row_id").
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrStore, "list documents").WithCause(err)
	}
	docs := make([]types.Document, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, types.Document{Name: r.Name, Content: r.Content, Kind: r.Kind})
	}
	return docs, nil
}
