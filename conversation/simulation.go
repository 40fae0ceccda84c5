package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/briefing"
	"github.com/BaSui01/personaflow/template"
	"github.com/BaSui01/personaflow/types"
)

// Engine-supplied template fields. Caller-provided values win on collision.
const (
	FieldSelectedProfile     = "SELECTED_PROFILE"
	FieldSelectedProfileFull = "SELECTED_PROFILE_FULL"
	FieldBackgroundInfo      = "BACKGROUND_INFO"
	FieldOpeningLine         = "OPENING_LINE"
)

// RunSimulation renders the scenario template with the agent's profile
// injected and fires one one-shot completion. The returned turn is not
// persisted; simulation transcripts belong to the caller.
func (o *Orchestrator) RunSimulation(ctx context.Context, tmpl types.Template, fields types.FieldMap, agent types.Agent) (*types.Turn, error) {
	if err := template.ValidateErr(tmpl, fields); err != nil {
		o.metrics.RecordSimulationRun("invalid")
		return nil, err
	}

	docs, err := o.store.ListDocuments(ctx, agent.ID)
	if err != nil {
		o.metrics.RecordSimulationRun("error")
		return nil, types.NewErrorf(types.ErrStore, "list documents for agent %s", agent.ID).WithCause(err)
	}

	merged := types.FieldMap{
		FieldSelectedProfile:     agent.Name,
		FieldSelectedProfileFull: o.assembler.ProfileBlock(agent, docs),
	}
	for k, v := range fields {
		merged[k] = v
	}

	prompt := template.Render(tmpl, merged)
	prompt = briefing.Truncate(prompt, o.assembler.Budget().MaxRequestChars)

	reply, err := o.completeOneShot(ctx, agent, prompt)
	if err != nil {
		o.metrics.RecordSimulationRun("error")
		return nil, types.NewErrorf(types.ErrCompletion, "simulation for agent %s failed", agent.ID).
			WithCause(err).WithRetryable(types.IsRetryable(err))
	}

	o.metrics.RecordSimulationRun("ok")
	o.logger.Info("simulation run complete",
		zap.String("agent_id", agent.ID),
		zap.String("template_id", tmpl.ID),
		zap.Int("prompt_chars", len(prompt)))
	return &types.Turn{
		ID:        uuid.NewString(),
		Speaker:   types.SpeakerAgent,
		AgentID:   agent.ID,
		Content:   reply,
		CreatedAt: time.Now(),
	}, nil
}

// FollowUp continues a simulation as a two-party exchange: the user's
// utterance and the agent's in-character reply are both appended to the
// session's log.
func (o *Orchestrator) FollowUp(ctx context.Context, sessionID string, agent types.Agent, background, utterance string) (*types.Turn, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, types.NewError(types.ErrValidation, "empty utterance")
	}
	if _, err := o.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	// History is the log as it stood before this exchange; the utterance
	// itself travels separately.
	turns, err := o.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userTurn := types.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   types.SpeakerUser,
		Content:   utterance,
		CreatedAt: time.Now(),
	}
	if _, err := o.store.AppendTurn(ctx, userTurn); err != nil {
		o.metrics.RecordTurnAppended("user", "error")
		return nil, err
	}
	o.metrics.RecordTurnAppended("user", "ok")

	system := briefing.FollowUpSystem(agent, background)
	brief := &briefing.Briefing{System: system, History: o.assembler.FoldHistory(turns)}
	reply, err := o.complete(ctx, agent, brief, utterance)
	if err != nil {
		return nil, types.NewErrorf(types.ErrCompletion, "agent %s completion failed", agent.ID).
			WithCause(err).WithRetryable(types.IsRetryable(err))
	}

	agentTurn := types.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   types.SpeakerAgent,
		AgentID:   agent.ID,
		Content:   reply,
		CreatedAt: time.Now(),
	}
	stored, err := o.store.AppendTurn(ctx, agentTurn)
	if err != nil {
		o.metrics.RecordTurnAppended("agent", "error")
		return nil, err
	}
	o.metrics.RecordTurnAppended("agent", "ok")
	return stored, nil
}

func (o *Orchestrator) completeOneShot(ctx context.Context, agent types.Agent, prompt string) (string, error) {
	if o.completionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.completionTimeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := o.completer.Complete(ctx, "", nil, prompt)
	if err != nil {
		o.metrics.RecordCompletion(agent.ID, "error", time.Since(start))
		return "", err
	}
	o.metrics.RecordCompletion(agent.ID, "ok", time.Since(start))
	return reply, nil
}
