package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/personaflow/types"
)

func geminiReply(text string) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` +
		string(mustJSON(text)) + `}]},"finishReason":"STOP"}]}`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestGemini_CompleteRequestShape(t *testing.T) {
	t.Parallel()

	var captured geminiRequest
	var apiKey, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("x-goog-api-key")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiReply("In character reply.")))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "test-key", Model: "gemini-2.5-flash", BaseURL: srv.URL}, nil)
	history := []types.HistoryEntry{
		{Role: types.RoleUser, Text: "earlier question"},
		{Role: types.RoleModel, Text: "earlier answer"},
	}

	reply, err := g.Complete(context.Background(), "You are strictly acting as the persona: X.", history, "new question")
	require.NoError(t, err)
	assert.Equal(t, "In character reply.", reply)

	assert.Equal(t, "test-key", apiKey)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", path)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "You are strictly acting as the persona: X.", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, "user", captured.Contents[2].Role)
	assert.Equal(t, "new question", captured.Contents[2].Parts[0].Text)
}

func TestGemini_OneShotOmitsSystemInstruction(t *testing.T) {
	t.Parallel()

	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(geminiReply("ok")))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := g.Complete(context.Background(), "", nil, "full one-shot prompt")
	require.NoError(t, err)

	assert.Nil(t, captured.SystemInstruction)
	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "full one-shot prompt", captured.Contents[0].Parts[0].Text)
}

func TestGemini_ConcatenatesCandidateParts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello "},{"text":"world"}]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	reply, err := g.Complete(context.Background(), "", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply)
}

func TestGemini_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  types.ErrorCode
		wantRetry bool
	}{
		{"401 unauthorized", http.StatusUnauthorized,
			`{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`,
			types.ErrUnauthorized, false},
		{"403 forbidden", http.StatusForbidden,
			`{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`,
			types.ErrUnauthorized, false},
		{"429 rate limited", http.StatusTooManyRequests,
			`{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`,
			types.ErrRateLimited, true},
		{"400 quota in message", http.StatusBadRequest,
			`{"error":{"code":400,"message":"quota exceeded for project","status":"FAILED_PRECONDITION"}}`,
			types.ErrQuotaExceeded, false},
		{"400 invalid request", http.StatusBadRequest,
			`{"error":{"code":400,"message":"bad payload","status":"INVALID_ARGUMENT"}}`,
			types.ErrInvalidRequest, false},
		{"503 upstream", http.StatusServiceUnavailable,
			`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`,
			types.ErrUpstreamError, true},
		{"500 upstream", http.StatusInternalServerError, `oops`,
			types.ErrUpstreamError, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}, nil)
			_, err := g.Complete(context.Background(), "", nil, "hi")
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.wantCode), "got %v", err)
			assert.Equal(t, tt.wantRetry, types.IsRetryable(err))
		})
	}
}

func TestGemini_EmptyCandidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := g.Complete(context.Background(), "", nil, "hi")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
}
