// Package completion wraps the external completion service behind a single
// interface: one system briefing, one bounded history window, one user
// utterance in, one reply out. One-shot prompts (simulation runs) pass an
// empty briefing and nil history.
package completion

import (
	"context"

	"github.com/BaSui01/personaflow/types"
)

// Completer produces one reply for one assembled request.
type Completer interface {
	Complete(ctx context.Context, systemBriefing string, history []types.HistoryEntry, utterance string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, systemBriefing string, history []types.HistoryEntry, utterance string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, systemBriefing string, history []types.HistoryEntry, utterance string) (string, error) {
	return f(ctx, systemBriefing, history, utterance)
}
