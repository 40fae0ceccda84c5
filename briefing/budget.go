// Package briefing assembles the size-bounded context handed to the
// completion service for one agent: profile header, knowledge documents,
// role-play instructions, and a bounded history window.
package briefing

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMarker is appended to any content cut by a budget cap. Output
// containing cut content always carries the marker; nothing is cut silently.
const TruncationMarker = "... [Truncated for Context]"

// Budget holds the character limits governing context assembly. All caps are
// hard invariants, not hints.
type Budget struct {
	// MaxDocumentChars caps each knowledge document inlined into a briefing.
	MaxDocumentChars int `yaml:"max_document_chars" json:"max_document_chars"`
	// MaxHistoryTurns is the history window: only the most recent N turns
	// are folded into model history.
	MaxHistoryTurns int `yaml:"max_history_turns" json:"max_history_turns"`
	// MaxHistoryCharsPerTurn caps each folded history turn.
	MaxHistoryCharsPerTurn int `yaml:"max_history_chars_per_turn" json:"max_history_chars_per_turn"`
	// MaxTotalContextChars caps the assembled briefing text. Documents are
	// dropped from the end of the list until the briefing fits. The persona
	// identity header and the instruction block are exempt: they are always
	// emitted whole, so a briefing can exceed the cap by at most their size.
	MaxTotalContextChars int `yaml:"max_total_context_chars" json:"max_total_context_chars"`
	// MaxRequestChars caps bulk one-shot prompts such as simulation runs.
	MaxRequestChars int `yaml:"max_request_chars" json:"max_request_chars"`
	// MaxProfileDocChars caps each document inlined into a simulation
	// profile block.
	MaxProfileDocChars int `yaml:"max_profile_doc_chars" json:"max_profile_doc_chars"`
}

// DefaultBudget returns the caps observed from the domain.
func DefaultBudget() Budget {
	return Budget{
		MaxDocumentChars:       50_000,
		MaxHistoryTurns:        20,
		MaxHistoryCharsPerTurn: 20_000,
		MaxTotalContextChars:   200_000,
		MaxRequestChars:        500_000,
		MaxProfileDocChars:     15_000,
	}
}

// Validate rejects budgets that cannot produce a usable briefing.
func (b Budget) Validate() error {
	var errs []string
	if b.MaxDocumentChars <= 0 {
		errs = append(errs, "max_document_chars must be positive")
	}
	if b.MaxHistoryTurns <= 0 {
		errs = append(errs, "max_history_turns must be positive")
	}
	if b.MaxHistoryCharsPerTurn <= 0 {
		errs = append(errs, "max_history_chars_per_turn must be positive")
	}
	if b.MaxTotalContextChars <= 0 {
		errs = append(errs, "max_total_context_chars must be positive")
	}
	if b.MaxRequestChars < b.MaxTotalContextChars {
		errs = append(errs, "max_request_chars must not be below max_total_context_chars")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid budget: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Truncate cuts text to max characters, appending TruncationMarker when a
// cut occurred. A non-positive max returns the text unchanged.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	// Back up to a rune boundary so multibyte characters are never split.
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max] + TruncationMarker
}
