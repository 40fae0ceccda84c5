// Package conversation implements the orchestration engine: one user
// utterance fanned out to every session participant in order, each agent
// answering over a fresh snapshot of the turn log, plus the one-shot
// simulation path.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/briefing"
	"github.com/BaSui01/personaflow/completion"
	"github.com/BaSui01/personaflow/internal/metrics"
	"github.com/BaSui01/personaflow/store"
	"github.com/BaSui01/personaflow/types"
)

// EchoGraceWindow bounds the timestamp distance under which a stored user
// turn with identical content counts as the locally echoed one.
const EchoGraceWindow = 5 * time.Second

// Event is one item of an advance stream: a yielded turn or the terminal
// error. The channel closes when the batch ends.
type Event struct {
	Turn *types.Turn
	Err  error
}

// AdvanceError reports a partially completed advance: which agents already
// answered, who failed, and who never ran. Already-yielded turns stand.
type AdvanceError struct {
	Answered    int
	FailedAgent string
	Pending     []string
	Turns       []types.Turn
	Cause       error
}

func (e *AdvanceError) Error() string {
	return fmt.Sprintf("advance failed at agent %s after %d replies: %v",
		e.FailedAgent, e.Answered, e.Cause)
}

func (e *AdvanceError) Unwrap() error { return e.Cause }

// Orchestrator drives conversation advances against the external store and
// the completion service.
type Orchestrator struct {
	store             store.Store
	completer         completion.Completer
	assembler         *briefing.Assembler
	logger            *zap.Logger
	metrics           *metrics.Collector
	completionTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger.With(zap.String("component", "orchestrator"))
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithCompletionTimeout bounds each completion call. Zero disables the
// per-call deadline; the caller's context still applies.
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.completionTimeout = d }
}

// New creates an Orchestrator.
func New(st store.Store, completer completion.Completer, assembler *briefing.Assembler, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, types.NewError(types.ErrValidation, "nil store")
	}
	if completer == nil {
		return nil, types.NewError(types.ErrValidation, "nil completer")
	}
	if assembler == nil {
		return nil, types.NewError(types.ErrValidation, "nil assembler")
	}
	o := &Orchestrator{
		store:     st,
		completer: completer,
		assembler: assembler,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Advance sends the utterance into the session and collects the resulting
// turns: the echoed user turn followed by one turn per participant, in
// session order. On partial failure the returned error is an *AdvanceError
// carrying the turns that stand.
func (o *Orchestrator) Advance(ctx context.Context, sessionID, utterance string) ([]types.Turn, error) {
	ch, err := o.AdvanceStream(ctx, sessionID, utterance)
	if err != nil {
		return nil, err
	}
	var turns []types.Turn
	var advErr error
	for ev := range ch {
		if ev.Err != nil {
			advErr = ev.Err
			continue
		}
		turns = append(turns, *ev.Turn)
	}
	if advErr != nil {
		if ae, ok := advErr.(*AdvanceError); ok {
			ae.Turns = turns
		}
		return turns, advErr
	}
	return turns, nil
}

// AdvanceStream validates the request, then yields turns as they happen:
// the user turn immediately, then each agent reply. Validation and session
// lookup fail before any side effect; after that the stream carries at most
// one terminal Event.Err and then closes.
func (o *Orchestrator) AdvanceStream(ctx context.Context, sessionID, utterance string) (<-chan Event, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, types.NewError(types.ErrValidation, "empty utterance")
	}
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := validateParticipants(sess.AgentIDs); err != nil {
		return nil, err
	}
	agents := make([]types.Agent, 0, len(sess.AgentIDs))
	for _, id := range sess.AgentIDs {
		agent, err := o.store.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}

	userTurn := types.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   types.SpeakerUser,
		Content:   utterance,
		CreatedAt: time.Now(),
	}

	ch := make(chan Event, 1)
	go o.run(ctx, ch, sess, agents, userTurn)
	return ch, nil
}

func validateParticipants(ids []string) error {
	if len(ids) == 0 {
		return types.NewError(types.ErrValidation, "session has no participants")
	}
	if len(ids) > types.MaxSessionAgents {
		return types.NewErrorf(types.ErrValidation,
			"session has %d participants, limit is %d", len(ids), types.MaxSessionAgents)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return types.NewErrorf(types.ErrValidation, "duplicate participant %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, ch chan<- Event, sess *types.Session, agents []types.Agent, userTurn types.Turn) {
	defer close(ch)

	cache := briefing.NewDocCache(o.store)
	defer func() {
		hits, misses := cache.Stats()
		o.metrics.RecordDocCache("advance", hits, misses)
	}()

	echo := userTurn
	if !emit(ctx, ch, Event{Turn: &echo}) {
		return
	}
	// Persist the user turn without blocking the first agent. The echo is
	// reconciled against the store before each agent, so a slow or failed
	// append never loses the utterance.
	go o.appendUserTurn(context.WithoutCancel(ctx), userTurn)

	answered := 0
	for i, agent := range agents {
		if ctx.Err() != nil {
			o.fail(ctx, ch, agents, i, answered, sess.ID,
				types.NewError(types.ErrCompletion, "advance canceled").WithCause(ctx.Err()))
			return
		}

		turns, err := o.store.ListTurns(ctx, sess.ID)
		if err != nil {
			o.fail(ctx, ch, agents, i, answered, sess.ID, err)
			return
		}
		turns = reconcileEcho(turns, userTurn)

		brief, err := o.assembler.AssembleFetch(ctx, agent, cache, turns)
		if err != nil {
			o.fail(ctx, ch, agents, i, answered, sess.ID, err)
			return
		}

		reply, err := o.complete(ctx, agent, brief, userTurn.Content)
		if err != nil {
			o.fail(ctx, ch, agents, i, answered, sess.ID,
				types.NewErrorf(types.ErrCompletion, "agent %s completion failed", agent.ID).
					WithCause(err).WithRetryable(types.IsRetryable(err)))
			return
		}

		agentTurn := types.Turn{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Speaker:   types.SpeakerAgent,
			AgentID:   agent.ID,
			Content:   reply,
			CreatedAt: time.Now(),
		}
		stored, err := o.store.AppendTurn(ctx, agentTurn)
		if err != nil {
			o.metrics.RecordTurnAppended("agent", "error")
			o.fail(ctx, ch, agents, i, answered, sess.ID, err)
			return
		}
		o.metrics.RecordTurnAppended("agent", "ok")

		answered++
		if !emit(ctx, ch, Event{Turn: stored}) {
			o.metrics.RecordAdvance("abandoned", answered)
			return
		}
	}

	o.metrics.RecordAdvance("ok", answered)
	o.logger.Info("advance complete",
		zap.String("session_id", sess.ID),
		zap.Int("agents", len(agents)))
}

func (o *Orchestrator) fail(ctx context.Context, ch chan<- Event, agents []types.Agent, failedIdx, answered int, sessionID string, cause error) {
	pending := make([]string, 0, len(agents)-failedIdx-1)
	for _, a := range agents[failedIdx+1:] {
		pending = append(pending, a.ID)
	}
	o.metrics.RecordAdvance("error", answered)
	o.logger.Warn("advance failed",
		zap.String("session_id", sessionID),
		zap.String("failed_agent", agents[failedIdx].ID),
		zap.Int("answered", answered),
		zap.Error(cause))
	emit(ctx, ch, Event{Err: &AdvanceError{
		Answered:    answered,
		FailedAgent: agents[failedIdx].ID,
		Pending:     pending,
		Cause:       cause,
	}})
}

// emit delivers an event unless the caller has gone away. A canceled caller
// that abandoned the stream must not pin the run goroutine on a full channel.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) appendUserTurn(ctx context.Context, turn types.Turn) {
	if _, err := o.store.AppendTurn(ctx, turn); err != nil {
		o.metrics.RecordTurnAppended("user", "error")
		o.logger.Warn("user turn append failed",
			zap.String("session_id", turn.SessionID),
			zap.String("turn_id", turn.ID),
			zap.Error(err))
		return
	}
	o.metrics.RecordTurnAppended("user", "ok")
}

func (o *Orchestrator) complete(ctx context.Context, agent types.Agent, brief *briefing.Briefing, utterance string) (string, error) {
	if o.completionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.completionTimeout)
		defer cancel()
	}
	utterance = briefing.Truncate(utterance, o.assembler.Budget().MaxHistoryCharsPerTurn)

	start := time.Now()
	reply, err := o.completer.Complete(ctx, brief.System, brief.History, utterance)
	if err != nil {
		o.metrics.RecordCompletion(agent.ID, "error", time.Since(start))
		return "", err
	}
	o.metrics.RecordCompletion(agent.ID, "ok", time.Since(start))
	o.logger.Debug("agent replied",
		zap.String("agent_id", agent.ID),
		zap.Int("reply_chars", len(reply)),
		zap.Duration("latency", time.Since(start)))
	return reply, nil
}

// reconcileEcho splices the locally echoed user turn into a fresh store
// snapshot unless the store already has it: matched by ID, or by user
// speaker, identical content, and a timestamp within EchoGraceWindow. The
// result carries the user content exactly once.
func reconcileEcho(turns []types.Turn, echo types.Turn) []types.Turn {
	for _, t := range turns {
		if t.ID == echo.ID {
			return turns
		}
		if t.Speaker == types.SpeakerUser && t.Content == echo.Content &&
			absDuration(t.CreatedAt.Sub(echo.CreatedAt)) < EchoGraceWindow {
			return turns
		}
	}
	return append(turns, echo)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
