package conversation

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/personaflow/briefing"
	"github.com/BaSui01/personaflow/store"
	"github.com/BaSui01/personaflow/testutil/mocks"
	"github.com/BaSui01/personaflow/types"
)

type fixture struct {
	store     *store.MemoryStore
	completer *mocks.MockCompleter
	session   types.Session
	agents    []types.Agent
}

// newFixture seeds a session with n agents, each carrying one document.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	var ids []string
	var agents []types.Agent
	for i := 0; i < n; i++ {
		agent := ms.PutAgent(types.Agent{
			Name:        fmt.Sprintf("Persona %d", i+1),
			Description: fmt.Sprintf("Expert number %d", i+1),
		})
		ms.PutDocuments(agent.ID, []types.Document{
			{Name: "profile.md", Content: fmt.Sprintf("Blueprint for persona %d.", i+1)},
		})
		ids = append(ids, agent.ID)
		agents = append(agents, agent)
	}
	sess := ms.PutSession(types.Session{Name: "panel", AgentIDs: ids})
	return &fixture{
		store:     ms,
		completer: mocks.NewMockCompleter(),
		session:   sess,
		agents:    agents,
	}
}

func newOrchestrator(t *testing.T, st store.Store, completer *mocks.MockCompleter, opts ...Option) *Orchestrator {
	t.Helper()
	asm, err := briefing.NewAssembler(briefing.DefaultBudget(), nil)
	require.NoError(t, err)
	o, err := New(st, completer, asm, opts...)
	require.NoError(t, err)
	return o
}

func TestAdvance_ThreeAgentsYieldFourTurns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.completer.WithResponses("reply one", "reply two", "reply three")
	o := newOrchestrator(t, f.store, f.completer)

	turns, err := o.Advance(context.Background(), f.session.ID, "What do you think?")
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, types.SpeakerUser, turns[0].Speaker)
	assert.Equal(t, "What do you think?", turns[0].Content)
	for i := 1; i < 4; i++ {
		assert.Equal(t, types.SpeakerAgent, turns[i].Speaker)
		assert.Equal(t, f.agents[i-1].ID, turns[i].AgentID)
	}
	assert.Equal(t, "reply one", turns[1].Content)
	assert.Equal(t, "reply three", turns[3].Content)

	// Agent turns are timestamped strictly after the user turn.
	for i := 1; i < 4; i++ {
		assert.True(t, turns[i].CreatedAt.After(turns[0].CreatedAt))
	}
}

func TestAdvance_EachAgentSeesPriorReplies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.completer.WithResponses("first answer", "second answer", "third answer")
	o := newOrchestrator(t, f.store, f.completer)

	_, err := o.Advance(context.Background(), f.session.ID, "go")
	require.NoError(t, err)

	calls := f.completer.Calls()
	require.Len(t, calls, 3)

	// The second agent's history holds the first agent's reply, the third
	// holds both.
	assert.False(t, historyContains(calls[0].History, "first answer"))
	assert.True(t, historyContains(calls[1].History, "first answer"))
	assert.True(t, historyContains(calls[2].History, "first answer"))
	assert.True(t, historyContains(calls[2].History, "second answer"))
}

func TestAdvance_BriefingCarriesPersonaAndDocuments(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	o := newOrchestrator(t, f.store, f.completer)

	_, err := o.Advance(context.Background(), f.session.ID, "hello")
	require.NoError(t, err)

	calls := f.completer.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "You are strictly acting as the persona: Persona 1.")
	assert.Contains(t, calls[0].System, "Identity/Title: Expert number 1")
	assert.Contains(t, calls[0].System, "--- FILE: profile.md ---\nBlueprint for persona 1.")
	assert.Contains(t, calls[0].System, "INSTRUCTIONS:")
	assert.Equal(t, "hello", calls[0].Utterance)
}

func TestAdvance_EchoSplicedWhenStoreMissesIt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	scripted := mocks.NewScriptedStore(f.store)
	// The store silently loses user turns, as if the async append lags.
	scripted.OnAppendTurn = func(ctx context.Context, turn types.Turn) (*types.Turn, error) {
		if turn.Speaker == types.SpeakerUser {
			out := turn
			return &out, nil
		}
		return f.store.AppendTurn(ctx, turn)
	}
	o := newOrchestrator(t, scripted, f.completer)

	_, err := o.Advance(context.Background(), f.session.ID, "lost echo")
	require.NoError(t, err)

	for _, call := range f.completer.Calls() {
		assert.Equal(t, 1, historyCount(call.History, "lost echo"))
	}
}

func TestAdvance_EchoNotDuplicatedWhenStoreHasIt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	scripted := mocks.NewScriptedStore(f.store)
	// The store assigns its own turn IDs, so the echo can only be matched
	// by content and timestamp.
	scripted.OnAppendTurn = func(ctx context.Context, turn types.Turn) (*types.Turn, error) {
		turn.ID = ""
		return f.store.AppendTurn(ctx, turn)
	}
	o := newOrchestrator(t, scripted, f.completer)

	_, err := o.Advance(context.Background(), f.session.ID, "persisted echo")
	require.NoError(t, err)

	for _, call := range f.completer.Calls() {
		assert.LessOrEqual(t, historyCount(call.History, "persisted echo"), 1)
	}
}

func TestAdvance_UserTurnEventuallyPersisted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	o := newOrchestrator(t, f.store, f.completer)

	_, err := o.Advance(context.Background(), f.session.ID, "persist me")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		turns, err := f.store.ListTurns(context.Background(), f.session.ID)
		if err != nil {
			return false
		}
		n := 0
		for _, turn := range turns {
			if turn.Speaker == types.SpeakerUser && turn.Content == "persist me" {
				n++
			}
		}
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdvance_FailFastKeepsEarlierTurns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	cause := types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true)
	f.completer.WithFailAfter(1, cause)
	o := newOrchestrator(t, f.store, f.completer)

	turns, err := o.Advance(context.Background(), f.session.ID, "go")
	require.Error(t, err)

	var advErr *AdvanceError
	require.ErrorAs(t, err, &advErr)
	assert.Equal(t, 1, advErr.Answered)
	assert.Equal(t, f.agents[1].ID, advErr.FailedAgent)
	assert.Equal(t, []string{f.agents[2].ID}, advErr.Pending)

	// User turn plus the one successful reply stand.
	require.Len(t, turns, 2)
	assert.Equal(t, types.SpeakerUser, turns[0].Speaker)
	assert.Equal(t, f.agents[0].ID, turns[1].AgentID)
	assert.Equal(t, turns, advErr.Turns)

	// The third agent was never invoked.
	assert.Equal(t, 2, f.completer.CallCount())

	// The cause keeps its taxonomy.
	assert.True(t, types.IsCode(advErr.Cause, types.ErrCompletion))
	assert.True(t, types.IsRetryable(advErr.Cause))
}

func TestAdvance_ValidationBeforeSideEffects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sessionFn func(f *fixture) string
		utterance string
		wantCode  types.ErrorCode
	}{
		{"empty utterance", func(f *fixture) string { return f.session.ID }, "   ", types.ErrValidation},
		{"missing session", func(*fixture) string { return "missing" }, "hi", types.ErrSessionNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 2)
			o := newOrchestrator(t, f.store, f.completer)

			_, err := o.Advance(context.Background(), tt.sessionFn(f), tt.utterance)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.wantCode), "got %v", err)
			assert.Zero(t, f.completer.CallCount())

			turns, listErr := f.store.ListTurns(context.Background(), f.session.ID)
			require.NoError(t, listErr)
			assert.Empty(t, turns)
		})
	}
}

func TestAdvance_RejectsBadParticipantSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ids  func(f *fixture) []string
	}{
		{"empty", func(*fixture) []string { return nil }},
		{"too many", func(f *fixture) []string {
			ids := make([]string, 0, types.MaxSessionAgents+1)
			for i := 0; i <= types.MaxSessionAgents; i++ {
				ids = append(ids, fmt.Sprintf("a%d", i))
			}
			return ids
		}},
		{"duplicate", func(f *fixture) []string {
			return []string{f.agents[0].ID, f.agents[0].ID}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 1)
			sess := f.store.PutSession(types.Session{Name: "bad", AgentIDs: tt.ids(f)})
			o := newOrchestrator(t, f.store, f.completer)

			_, err := o.Advance(context.Background(), sess.ID, "hi")
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrValidation), "got %v", err)
			assert.Zero(t, f.completer.CallCount())
		})
	}
}

func TestAdvanceStream_YieldsUserTurnFirstAndCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.completer.WithResponses("one", "two")
	o := newOrchestrator(t, f.store, f.completer)

	ch, err := o.AdvanceStream(context.Background(), f.session.ID, "stream it")
	require.NoError(t, err)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, types.SpeakerUser, events[0].Turn.Speaker)
	assert.Equal(t, "one", events[1].Turn.Content)
	assert.Equal(t, "two", events[2].Turn.Content)
}

func TestAdvance_StoreAppendFailureIsFailFast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	scripted := mocks.NewScriptedStore(f.store)
	scripted.OnAppendTurn = func(ctx context.Context, turn types.Turn) (*types.Turn, error) {
		if turn.Speaker == types.SpeakerAgent {
			return nil, types.NewError(types.ErrStore, "disk full")
		}
		return f.store.AppendTurn(ctx, turn)
	}
	o := newOrchestrator(t, scripted, f.completer)

	turns, err := o.Advance(context.Background(), f.session.ID, "go")
	require.Error(t, err)

	var advErr *AdvanceError
	require.ErrorAs(t, err, &advErr)
	assert.Equal(t, 0, advErr.Answered)
	assert.Equal(t, f.agents[0].ID, advErr.FailedAgent)
	assert.True(t, types.IsCode(advErr.Cause, types.ErrStore))
	require.Len(t, turns, 1) // only the echoed user turn
}

func TestAdvance_CanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	o := newOrchestrator(t, f.store, f.completer)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.AdvanceStream(ctx, f.session.ID, "go")
	require.NoError(t, err)
	cancel()

	var lastErr error
	for ev := range ch {
		if ev.Err != nil {
			lastErr = ev.Err
		}
	}
	// Cancellation may land before any agent or after all of them; if it
	// landed, the error is an AdvanceError.
	if lastErr != nil {
		var advErr *AdvanceError
		assert.ErrorAs(t, lastErr, &advErr)
	}
}

// Not parallel: it compares process-wide goroutine counts.
func TestAdvanceStream_AbandonedAfterCancelDoesNotLeak(t *testing.T) {
	f := newFixture(t, 3)
	o := newOrchestrator(t, f.store, f.completer)

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.AdvanceStream(ctx, f.session.ID, "going away")
	require.NoError(t, err)
	cancel()
	_ = ch // abandoned: never read

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run goroutine still alive: %d goroutines, started with %d",
		runtime.NumGoroutine(), before)
}

func historyContains(entries []types.HistoryEntry, text string) bool {
	return historyCount(entries, text) > 0
}

func historyCount(entries []types.HistoryEntry, text string) int {
	n := 0
	for _, e := range entries {
		if strings.Contains(e.Text, text) {
			n++
		}
	}
	return n
}
