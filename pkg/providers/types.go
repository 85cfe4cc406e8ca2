package providers

import (
	"context"
	"errors"
)

// ErrCompletionUnavailable wraps every failure to obtain a completion:
// transport errors, non-2xx responses, timeouts and undecodable bodies.
var ErrCompletionUnavailable = errors.New("completion unavailable")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionOptions struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// CompletionRequest carries the system instruction separately from the
// conversation; providers decide how to place it on the wire.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []Message
	Options  CompletionOptions
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type CompletionResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        *UsageInfo
}

// CompletionProvider is the external language-model collaborator.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	GetDefaultModel() string
}
