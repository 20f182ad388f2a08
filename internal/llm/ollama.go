package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codemap/internal/summarize"
)

// defaultNumCtx is the Ollama context window requested per call.
const defaultNumCtx = 6144

// Ollama summarizes entities through a local Ollama server's /api/generate
// endpoint.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a summarizer targeting the given Ollama instance and model.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Name identifies this backend in persisted summary records.
func (o *Ollama) Name() string { return "ollama" }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Summarize sends the entity prompt to Ollama and returns the model output
// with a forced trailing coverage line.
func (o *Ollama) Summarize(ctx context.Context, req summarize.Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: req.PromptBody(),
		System: summarize.SystemPrompt,
		Stream: false,
		Options: map[string]any{
			"temperature": 0.2,
			"num_predict": 180,
			"num_ctx":     defaultNumCtx,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama generate returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}

	return forceCoverage(result.Response, req.Truncated), nil
}

// forceCoverage pins the trailing coverage line; a truncated prompt can
// never claim full coverage.
func forceCoverage(text string, truncated bool) string {
	text = strings.TrimSpace(text)
	coverage := "full"
	if truncated {
		coverage = "partial"
	}
	lines := strings.Split(text, "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); strings.HasPrefix(last, "Coverage:") {
		lines[len(lines)-1] = "Coverage: " + coverage
	} else {
		lines = append(lines, "Coverage: "+coverage)
	}
	return strings.Join(lines, "\n")
}
