package briefing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/types"
)

// instructionBlock closes every chat briefing and is never dropped or cut.
const instructionBlock = "INSTRUCTIONS: Respond naturally to the user's message as this persona. " +
	"Stay in character. Use bolding (**text**) for emphasis and bullet points for lists " +
	"to ensure your message is easy to read and highly professional."

// Briefing is the assembled context for one completion call.
type Briefing struct {
	// System is the full system briefing text.
	System string
	// History is the bounded history window, oldest first.
	History []types.HistoryEntry
	// TruncatedDocs names documents cut by MaxDocumentChars.
	TruncatedDocs []string
	// DroppedDocs names documents dropped entirely to satisfy
	// MaxTotalContextChars.
	DroppedDocs []string
	// Tokens is an estimate of the system briefing's token count, for
	// logging and metrics only.
	Tokens int
}

// Assembler builds size-bounded briefings under a fixed Budget. It is
// stateless apart from the budget and safe for concurrent use.
type Assembler struct {
	budget    Budget
	estimator *TokenEstimator
	logger    *zap.Logger
}

// NewAssembler creates an assembler with the given budget. A nil logger
// disables logging.
func NewAssembler(budget Budget, logger *zap.Logger) (*Assembler, error) {
	if err := budget.Validate(); err != nil {
		return nil, types.NewError(types.ErrValidation, "context budget").WithCause(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		budget:    budget,
		estimator: NewTokenEstimator(),
		logger:    logger.With(zap.String("component", "briefing")),
	}, nil
}

// Budget returns the caps the assembler enforces.
func (a *Assembler) Budget() Budget { return a.budget }

// Assemble builds the briefing for one agent from its documents and the
// current turn log. Each document is capped at MaxDocumentChars; when the
// full text still exceeds MaxTotalContextChars, documents are dropped from
// the end of the list until it fits. The identity header and instruction
// block always survive.
func (a *Assembler) Assemble(agent types.Agent, docs []types.Document, history []types.Turn) *Briefing {
	header := fmt.Sprintf("You are strictly acting as the persona: %s.\nIdentity/Title: %s\n\nCORE BLUEPRINT DATA:\n",
		agent.Name, agent.Description)

	sections := make([]string, 0, len(docs))
	var truncated []string
	for _, doc := range docs {
		content := Truncate(doc.Content, a.budget.MaxDocumentChars)
		if content != doc.Content {
			truncated = append(truncated, doc.Name)
		}
		sections = append(sections, fmt.Sprintf("--- FILE: %s ---\n%s\n\n", doc.Name, content))
	}

	fixed := len(header) + len(instructionBlock)
	kept := len(sections)
	total := fixed
	for _, s := range sections {
		total += len(s)
	}
	for kept > 0 && total > a.budget.MaxTotalContextChars {
		kept--
		total -= len(sections[kept])
	}
	var dropped []string
	for i := kept; i < len(docs); i++ {
		dropped = append(dropped, docs[i].Name)
	}

	var sb strings.Builder
	sb.Grow(total)
	sb.WriteString(header)
	for _, s := range sections[:kept] {
		sb.WriteString(s)
	}
	sb.WriteString(instructionBlock)

	b := &Briefing{
		System:        sb.String(),
		History:       a.FoldHistory(history),
		TruncatedDocs: truncated,
		DroppedDocs:   dropped,
	}
	b.Tokens = a.estimator.Estimate(b.System) + a.estimator.EstimateHistory(b.History)

	a.logger.Debug("briefing assembled",
		zap.String("agent_id", agent.ID),
		zap.Int("documents", len(docs)),
		zap.Int("documents_kept", kept),
		zap.Strings("documents_truncated", truncated),
		zap.Strings("documents_dropped", dropped),
		zap.Int("system_chars", len(b.System)),
		zap.Int("history_entries", len(b.History)),
		zap.Int("est_tokens", b.Tokens))
	return b
}

// AssembleFetch fetches the agent's documents through the cache and
// assembles the briefing.
func (a *Assembler) AssembleFetch(ctx context.Context, agent types.Agent, cache *DocCache, history []types.Turn) (*Briefing, error) {
	docs, err := cache.Documents(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	return a.Assemble(agent, docs, history), nil
}

// FoldHistory maps the turn log into the bounded history window: the most
// recent MaxHistoryTurns turns, oldest first, each capped at
// MaxHistoryCharsPerTurn. The most recent turn is always kept.
func (a *Assembler) FoldHistory(history []types.Turn) []types.HistoryEntry {
	start := 0
	if len(history) > a.budget.MaxHistoryTurns {
		start = len(history) - a.budget.MaxHistoryTurns
	}
	entries := make([]types.HistoryEntry, 0, len(history)-start)
	for _, t := range history[start:] {
		entries = append(entries, types.HistoryEntry{
			Role: t.Role(),
			Text: Truncate(t.Content, a.budget.MaxHistoryCharsPerTurn),
		})
	}
	return entries
}

// ProfileBlock renders the agent's full profile for injection into a
// simulation prompt: identity header plus every document section, each
// capped at MaxProfileDocChars.
func (a *Assembler) ProfileBlock(agent types.Agent, docs []types.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "NAME: %s\nDESCRIPTION: %s\n\nCORE BLUEPRINT FILES:\n", agent.Name, agent.Description)
	for _, doc := range docs {
		fmt.Fprintf(&sb, "--- FILE: %s ---\n%s\n\n", doc.Name, Truncate(doc.Content, a.budget.MaxProfileDocChars))
	}
	return sb.String()
}

// FollowUpSystem renders the in-character system briefing for a simulation
// follow-up exchange.
func FollowUpSystem(agent types.Agent, background string) string {
	return fmt.Sprintf("You are strictly acting as the persona: %s.\nContext of Simulation: %s.\n"+
		"Respond to the user naturally in your unique voice. Staying in character is mandatory.",
		agent.Name, background)
}
