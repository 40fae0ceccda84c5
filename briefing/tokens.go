package briefing

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/personaflow/types"
)

// TokenEstimator estimates token counts for assembled briefings. Budget
// enforcement is strictly character-based; the estimate only feeds logging
// and metrics so operators can see how close a briefing runs to provider
// context windows.
type TokenEstimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTokenEstimator creates an estimator backed by the cl100k_base encoding.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{encoding: "cl100k_base"}
}

// init lazily loads the tiktoken encoding (may download data on first use).
func (e *TokenEstimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = err
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// Estimate returns the token count for text, falling back to len/4 when the
// encoding is unavailable.
func (e *TokenEstimator) Estimate(text string) int {
	if e == nil || e.init() != nil {
		n := len(text) / 4
		if n == 0 && len(text) > 0 {
			return 1
		}
		return n
	}
	return len(e.enc.Encode(text, nil, nil))
}

// EstimateHistory returns the token count across folded history entries,
// including a small per-entry overhead.
func (e *TokenEstimator) EstimateHistory(entries []types.HistoryEntry) int {
	total := 0
	for _, h := range entries {
		total += e.Estimate(h.Text) + 4
	}
	return total
}
