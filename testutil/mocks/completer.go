// Package mocks provides builder-style test doubles for the engine's
// collaborators: the completion service and the external store.
//
// Usage:
//
//	completer := mocks.NewMockCompleter().WithResponse("Hello!")
//	completer = mocks.NewMockCompleter().WithFailAfter(2, someErr)
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/personaflow/types"
)

// CompleteCall records the arguments of one Complete invocation.
type CompleteCall struct {
	System    string
	History   []types.HistoryEntry
	Utterance string
}

// MockCompleter is a scriptable Completer.
type MockCompleter struct {
	mu sync.Mutex

	response  string
	responses []string
	err       error
	failAfter int
	script    func(call int, c CompleteCall) (string, error)

	calls []CompleteCall
}

// NewMockCompleter creates a completer that echoes a canned reply.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{response: "mock reply", failAfter: -1}
}

// WithResponse sets a fixed reply for every call.
func (m *MockCompleter) WithResponse(text string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = text
	return m
}

// WithResponses sets one reply per call, in order. Calls beyond the list
// fall back to the fixed response.
func (m *MockCompleter) WithResponses(texts ...string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = texts
	return m
}

// WithError makes every call fail with err.
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailAfter makes calls fail with err once n calls have succeeded.
func (m *MockCompleter) WithFailAfter(n int, err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.err = err
	return m
}

// WithScript takes full control of each call: call is the zero-based
// invocation index.
func (m *MockCompleter) WithScript(fn func(call int, c CompleteCall) (string, error)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = fn
	return m
}

// Complete implements completion.Completer.
func (m *MockCompleter) Complete(_ context.Context, system string, history []types.HistoryEntry, utterance string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := CompleteCall{
		System:    system,
		History:   append([]types.HistoryEntry(nil), history...),
		Utterance: utterance,
	}
	idx := len(m.calls)
	m.calls = append(m.calls, call)

	if m.script != nil {
		return m.script(idx, call)
	}
	if m.failAfter >= 0 && idx >= m.failAfter {
		if m.err != nil {
			return "", m.err
		}
		return "", fmt.Errorf("mock completer: call %d failed", idx)
	}
	if m.err != nil && m.failAfter < 0 {
		return "", m.err
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return m.response, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockCompleter) Calls() []CompleteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompleteCall(nil), m.calls...)
}

// CallCount returns how many times Complete ran.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
