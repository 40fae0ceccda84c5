package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/types"
)

// GeminiConfig configures the Gemini-backed Completer.
type GeminiConfig struct {
	APIKey          string        `yaml:"api_key" json:"api_key"`
	Model           string        `yaml:"model" json:"model"`
	BaseURL         string        `yaml:"base_url" json:"base_url"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	Temperature     float32       `yaml:"temperature" json:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// Gemini calls the generateContent endpoint. Authentication uses the
// x-goog-api-key header; the system briefing travels as systemInstruction
// and history entries as role/parts contents.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGemini creates the client with config defaults filled in.
func NewGemini(cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "completion.gemini")),
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, systemBriefing string, history []types.HistoryEntry, utterance string) (string, error) {
	body := geminiRequest{}
	if systemBriefing != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemBriefing}}}
	}
	for _, h := range history {
		body.Contents = append(body.Contents, geminiContent{
			Role:  string(h.Role),
			Parts: []geminiPart{{Text: h.Text}},
		})
	}
	body.Contents = append(body.Contents, geminiContent{
		Role:  string(types.RoleUser),
		Parts: []geminiPart{{Text: utterance}},
	})
	if g.cfg.Temperature > 0 || g.cfg.MaxOutputTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     g.cfg.Temperature,
			MaxOutputTokens: g.cfg.MaxOutputTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "build request").WithCause(err)
	}
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, err.Error()).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		g.logger.Warn("completion failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", g.cfg.Model),
			zap.Duration("latency", time.Since(start)))
		return "", mapStatus(resp.StatusCode, msg)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", types.NewError(types.ErrUpstreamError, "decode response").WithRetryable(true).WithCause(err)
	}
	if len(gr.Candidates) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "no candidates in response").WithRetryable(true)
	}

	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	g.logger.Debug("completion ok",
		zap.String("model", g.cfg.Model),
		zap.Int("reply_chars", sb.Len()),
		zap.Duration("latency", time.Since(start)))
	return sb.String(), nil
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var er geminiErrorResp
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", er.Error.Message, er.Error.Status)
	}
	return string(data)
}

// mapStatus maps an HTTP error status onto the completion error taxonomy.
// Quota exhaustion hides behind 400 on this API, detected by message text.
func mapStatus(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case http.StatusBadRequest:
		if strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
			return types.NewError(types.ErrQuotaExceeded, msg)
		}
		return types.NewError(types.ErrInvalidRequest, msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
}
