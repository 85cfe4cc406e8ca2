package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dotsetgreg/bmo/pkg/config"
)

const (
	defaultOllamaAPIBase = "http://localhost:11434"
	defaultOllamaModel   = "llama3.2:1b"
)

func init() {
	RegisterFactory(ProviderOllama, newOllamaProviderFromConfig, nil, ollamaCredentialStatus)
}

// ollamaProvider talks to Ollama's native /api/chat endpoint, which takes
// the system prompt as a top-level field and sampling under "options".
type ollamaProvider struct {
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	System   string         `json:"system,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func NewOllamaProvider(apiBase, defaultModel string) *ollamaProvider {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = defaultOllamaAPIBase
	}
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = defaultOllamaModel
	}
	client, _ := newHTTPClient(ProviderOllama, "")
	return &ollamaProvider{apiBase: apiBase, defaultModel: defaultModel, httpClient: client}
}

func ollamaCredentialStatus(cfg *config.Config) (bool, string) {
	return true, "none"
}

func newOllamaProviderFromConfig(cfg *config.Config) (CompletionProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewOllamaProvider(cfg.Providers.Ollama.APIBase, cfg.Agent.Model), nil
}

func (p *ollamaProvider) GetDefaultModel() string { return p.defaultModel }

func (p *ollamaProvider) Complete(ctx context.Context, creq CompletionRequest) (*CompletionResponse, error) {
	model := strings.TrimSpace(creq.Model)
	if model == "" {
		model = p.defaultModel
	}
	options := map[string]any{}
	if creq.Options.Temperature > 0 {
		options["temperature"] = creq.Options.Temperature
	}
	if creq.Options.TopP > 0 {
		options["top_p"] = creq.Options.TopP
	}
	if creq.Options.MaxTokens > 0 {
		options["num_predict"] = creq.Options.MaxTokens
	}

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: creq.Messages,
		System:   creq.System,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send ollama request: %w", ErrCompletionUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read ollama response: %w", ErrCompletionUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := augmentProviderError(ProviderOllama, extractAPIError(body))
		return nil, fmt.Errorf("%w: ollama request failed: status=%d error=%s", ErrCompletionUnavailable, resp.StatusCode, msg)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: parse ollama response: %w", ErrCompletionUnavailable, err)
	}
	if out.Model == "" {
		out.Model = model
	}
	return &CompletionResponse{
		Text:         out.Message.Content,
		Model:        out.Model,
		FinishReason: out.DoneReason,
		Usage: &UsageInfo{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}
