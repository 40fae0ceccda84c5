package briefing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/personaflow/types"
)

func testAgent() types.Agent {
	return types.Agent{
		ID:          "agent-1",
		Name:        "Dr. Elena Voss",
		Description: "Chief Research Officer, quantum materials",
	}
}

func newTestAssembler(t *testing.T, budget Budget) *Assembler {
	t.Helper()
	a, err := NewAssembler(budget, nil)
	require.NoError(t, err)
	return a
}

func TestNewAssembler_RejectsInvalidBudget(t *testing.T) {
	t.Parallel()

	_, err := NewAssembler(Budget{}, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestAssemble_BriefingFormat(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, DefaultBudget())
	docs := []types.Document{
		{Name: "resume.md", Content: "20 years in materials science."},
		{Name: "voice.md", Content: "Direct, warm, precise."},
	}

	b := a.Assemble(testAgent(), docs, nil)

	assert.True(t, strings.HasPrefix(b.System,
		"You are strictly acting as the persona: Dr. Elena Voss.\n"+
			"Identity/Title: Chief Research Officer, quantum materials\n\n"+
			"CORE BLUEPRINT DATA:\n"))
	assert.Contains(t, b.System, "--- FILE: resume.md ---\n20 years in materials science.\n\n")
	assert.Contains(t, b.System, "--- FILE: voice.md ---\nDirect, warm, precise.\n\n")
	assert.True(t, strings.HasSuffix(b.System, instructionBlock))
	assert.Empty(t, b.TruncatedDocs)
	assert.Empty(t, b.DroppedDocs)
	assert.Positive(t, b.Tokens)
}

func TestAssemble_TruncatesOversizedDocument(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxDocumentChars = 100
	a := newTestAssembler(t, budget)

	docs := []types.Document{{Name: "big.md", Content: strings.Repeat("x", 500)}}
	b := a.Assemble(testAgent(), docs, nil)

	assert.Equal(t, []string{"big.md"}, b.TruncatedDocs)
	assert.Contains(t, b.System, strings.Repeat("x", 100)+TruncationMarker)
	assert.NotContains(t, b.System, strings.Repeat("x", 101))
}

func TestAssemble_DropsDocumentsFromEnd(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxTotalContextChars = 700
	a := newTestAssembler(t, budget)

	docs := []types.Document{
		{Name: "first.md", Content: strings.Repeat("a", 200)},
		{Name: "second.md", Content: strings.Repeat("b", 200)},
		{Name: "third.md", Content: strings.Repeat("c", 200)},
	}
	b := a.Assemble(testAgent(), docs, nil)

	assert.LessOrEqual(t, len(b.System), budget.MaxTotalContextChars)
	assert.Contains(t, b.System, "--- FILE: first.md ---")
	assert.NotContains(t, b.System, "--- FILE: third.md ---")
	assert.Equal(t, "third.md", b.DroppedDocs[len(b.DroppedDocs)-1])
	assert.True(t, strings.HasSuffix(b.System, instructionBlock))
}

func TestAssemble_HeaderAndInstructionsSurviveTinyCap(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxTotalContextChars = 10
	budget.MaxRequestChars = 10
	a := newTestAssembler(t, budget)

	docs := []types.Document{{Name: "doc.md", Content: "anything"}}
	b := a.Assemble(testAgent(), docs, nil)

	assert.Equal(t, []string{"doc.md"}, b.DroppedDocs)
	assert.Contains(t, b.System, "You are strictly acting as the persona:")
	assert.True(t, strings.HasSuffix(b.System, instructionBlock))
}

func TestFoldHistory_WindowAndRoles(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxHistoryTurns = 3
	a := newTestAssembler(t, budget)

	var turns []types.Turn
	for i := 0; i < 5; i++ {
		turn := types.NewUserTurn("s1", strings.Repeat("u", i+1))
		if i%2 == 1 {
			turn = types.NewAgentTurn("s1", "agent-1", strings.Repeat("m", i+1))
		}
		turns = append(turns, turn)
	}

	entries := a.FoldHistory(turns)
	require.Len(t, entries, 3)
	assert.Equal(t, types.RoleUser, entries[0].Role)
	assert.Equal(t, "uuu", entries[0].Text)
	assert.Equal(t, types.RoleModel, entries[1].Role)
	assert.Equal(t, types.RoleUser, entries[2].Role)
	assert.Equal(t, "uuuuu", entries[2].Text)
}

func TestFoldHistory_TruncatesLongTurns(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxHistoryCharsPerTurn = 50
	a := newTestAssembler(t, budget)

	turns := []types.Turn{types.NewUserTurn("s1", strings.Repeat("z", 200))}
	entries := a.FoldHistory(turns)

	require.Len(t, entries, 1)
	assert.Equal(t, strings.Repeat("z", 50)+TruncationMarker, entries[0].Text)
}

func TestFoldHistory_KeepsMostRecentTurn(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxHistoryTurns = 1
	a := newTestAssembler(t, budget)

	turns := []types.Turn{
		{Speaker: types.SpeakerUser, Content: "old", CreatedAt: time.Now().Add(-time.Minute)},
		{Speaker: types.SpeakerAgent, AgentID: "agent-1", Content: "latest", CreatedAt: time.Now()},
	}
	entries := a.FoldHistory(turns)

	require.Len(t, entries, 1)
	assert.Equal(t, "latest", entries[0].Text)
}

func TestProfileBlock_Format(t *testing.T) {
	t.Parallel()

	budget := DefaultBudget()
	budget.MaxProfileDocChars = 30
	a := newTestAssembler(t, budget)

	docs := []types.Document{
		{Name: "bio.md", Content: "Short bio."},
		{Name: "long.md", Content: strings.Repeat("p", 100)},
	}
	block := a.ProfileBlock(testAgent(), docs)

	assert.True(t, strings.HasPrefix(block,
		"NAME: Dr. Elena Voss\nDESCRIPTION: Chief Research Officer, quantum materials\n\nCORE BLUEPRINT FILES:\n"))
	assert.Contains(t, block, "--- FILE: bio.md ---\nShort bio.\n\n")
	assert.Contains(t, block, strings.Repeat("p", 30)+TruncationMarker)
	assert.NotContains(t, block, strings.Repeat("p", 31))
}

func TestFollowUpSystem_Format(t *testing.T) {
	t.Parallel()

	got := FollowUpSystem(testAgent(), "Reviewing a pitch deck")
	assert.Equal(t,
		"You are strictly acting as the persona: Dr. Elena Voss.\n"+
			"Context of Simulation: Reviewing a pitch deck.\n"+
			"Respond to the user naturally in your unique voice. Staying in character is mandatory.",
		got)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"under cap", "hello", 10, "hello"},
		{"at cap", "hello", 5, "hello"},
		{"over cap", "hello world", 5, "hello" + TruncationMarker},
		{"zero max passthrough", "hello", 0, "hello"},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Truncate(tt.text, tt.max))
		})
	}
}

func TestTruncate_RespectsRuneBoundaries(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("日", 10)
	got := Truncate(text, 4)
	cut := strings.TrimSuffix(got, TruncationMarker)
	assert.NotEqual(t, got, cut)
	assert.True(t, strings.HasPrefix(text, cut))
	assert.Equal(t, "日", cut)
}

func TestBudgetValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultBudget().Validate())

	bad := DefaultBudget()
	bad.MaxHistoryTurns = 0
	assert.Error(t, bad.Validate())

	bad = DefaultBudget()
	bad.MaxRequestChars = bad.MaxTotalContextChars - 1
	assert.Error(t, bad.Validate())
}
