package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/bmo/pkg/config"
)

func TestCreateProvider_Ollama_DefaultSelection(t *testing.T) {
	var seen ollamaChatRequest
	var seenPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2:1b","message":{"role":"assistant","content":"3aslema!"},"done_reason":"stop","prompt_eval_count":10,"eval_count":4}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ""
	cfg.Providers.Ollama.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		System:   "You are BMO.",
		Messages: []Message{{Role: "user", Content: "salam"}},
		Options:  CompletionOptions{Temperature: 0.8, TopP: 0.9, MaxTokens: 300},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "3aslema!" {
		t.Fatalf("expected reply text, got %q", resp.Text)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 14 {
		t.Fatalf("expected usage total 14, got %+v", resp.Usage)
	}
	if seenPath != "/api/chat" {
		t.Fatalf("expected /api/chat path, got %q", seenPath)
	}
	if seen.Stream {
		t.Fatalf("expected stream=false")
	}
	if seen.System != "You are BMO." {
		t.Fatalf("expected top-level system prompt, got %q", seen.System)
	}
	if seen.Model != "llama3.2:1b" {
		t.Fatalf("expected configured model, got %q", seen.Model)
	}
	if got := seen.Options["num_predict"]; got != float64(300) {
		t.Fatalf("expected num_predict 300, got %v", got)
	}
	if got := seen.Options["top_p"]; got != 0.9 {
		t.Fatalf("expected top_p 0.9, got %v", got)
	}
}

func TestOllamaProvider_ErrorStatusWrapsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"missing\" not found, try pulling it first"}`))
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "missing")
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("expected ErrCompletionUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "ollama pull") {
		t.Fatalf("expected pull hint in error, got %v", err)
	}
}

func TestOllamaProvider_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := NewOllamaProvider(server.URL, "")
	if p.GetDefaultModel() != defaultOllamaModel {
		t.Fatalf("expected default model, got %q", p.GetDefaultModel())
	}
	_, err := p.Complete(ctx, CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("expected ErrCompletionUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestCreateProvider_OpenRouter(t *testing.T) {
	var seenAuth string
	var seenPath string
	var seenMessages []Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seenMessages = req.Messages
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenRouter
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		System:   "persona",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("expected response content ok, got %q", resp.Text)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter auth bearer, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
	if len(seenMessages) != 2 || seenMessages[0].Role != "system" || seenMessages[0].Content != "persona" {
		t.Fatalf("expected system message first, got %+v", seenMessages)
	}
}

func TestCreateProvider_OpenAI_WithAPIKeyAndHeaders(t *testing.T) {
	var seenAuth, seenOrg, seenProject string
	var seenModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenOrg = r.Header.Get("OpenAI-Organization")
		seenProject = r.Header.Get("OpenAI-Project")
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seenModel, _ = req["model"].(string)
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org-1"
	cfg.Providers.OpenAI.Project = "proj-1"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Model:    "gpt-4.1",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "ab" {
		t.Fatalf("expected flattened content, got %q", resp.Text)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("expected usage, got %+v", resp.Usage)
	}
	if seenModel != "gpt-4.1" {
		t.Fatalf("expected model override, got %q", seenModel)
	}
	if seenAuth != "Bearer sk-test" || seenOrg != "org-1" || seenProject != "proj-1" {
		t.Fatalf("unexpected headers auth=%q org=%q project=%q", seenAuth, seenOrg, seenProject)
	}
}

func TestCreateProvider_OpenAI_UsesAPIKeyFile(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "openai.key")
	if err := os.WriteFile(keyFile, []byte("sk-from-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKeyFile = keyFile
	cfg.Providers.OpenAI.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if _, err := provider.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if seenAuth != "Bearer sk-from-file" {
		t.Fatalf("expected bearer from key file, got %q", seenAuth)
	}
}

func TestChatCompletions_ErrorStatusWrapsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-bad"
	cfg.Providers.OpenAI.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	_, err = provider.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("expected ErrCompletionUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestResolveOpenAIAuthConfig_RejectsMultipleCredentialSources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.OpenAI.APIKeyFile = "/tmp/openai.key"

	_, _, err := resolveOpenAIAuthConfig(cfg)
	if err == nil {
		t.Fatalf("expected multiple credential sources error")
	}
	if !strings.Contains(err.Error(), "set exactly one") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateProviderConfig_MissingKeyFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKeyFile = filepath.Join(t.TempDir(), "missing.key")

	if err := ValidateProviderConfig(cfg); err == nil {
		t.Fatalf("expected missing key file error")
	}
}

func TestCreateProvider_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Provider = "does-not-exist"

	if _, err := CreateProvider(cfg); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestValidateProviderConfig_MissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenAI

	if err := ValidateProviderConfig(cfg); err == nil {
		t.Fatalf("expected missing credentials error for openai")
	}

	cfg.Agent.Provider = ProviderOpenRouter
	if err := ValidateProviderConfig(cfg); err == nil {
		t.Fatalf("expected missing credentials error for openrouter")
	}

	cfg.Agent.Provider = ProviderOllama
	if err := ValidateProviderConfig(cfg); err != nil {
		t.Fatalf("ollama needs no credentials: %v", err)
	}
}

func TestProviderCredentialStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	name, configured, mode, err := ProviderCredentialStatus(cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if name != ProviderOllama || !configured || mode != "none" {
		t.Fatalf("unexpected ollama status: %s %v %s", name, configured, mode)
	}

	cfg.Agent.Provider = ProviderOpenRouter
	_, configured, _, err = ProviderCredentialStatus(cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if configured {
		t.Fatalf("expected openrouter to be unconfigured without a key")
	}
}

func TestSupportedProviders(t *testing.T) {
	got := strings.Join(SupportedProviders(), ",")
	if got != "ollama,openai,openrouter" {
		t.Fatalf("unexpected providers %q", got)
	}
}

func TestRegisterFactory_InvalidRegistrationDoesNotPanic(t *testing.T) {
	factoryMu.RLock()
	origFactories := make(map[string]providerFactory, len(factories))
	for k, v := range factories {
		origFactories[k] = v
	}
	origErr := registrationErr
	factoryMu.RUnlock()

	defer func() {
		factoryMu.Lock()
		factories = origFactories
		registrationErr = origErr
		factoryMu.Unlock()
	}()

	didPanic := false
	func() {
		defer func() {
			if recover() != nil {
				didPanic = true
			}
		}()
		RegisterFactory("ollama", nil, nil, nil)
	}()
	if didPanic {
		t.Fatalf("RegisterFactory should not panic on invalid registration")
	}

	cfg := config.DefaultConfig()
	if _, err := CreateProvider(cfg); err == nil {
		t.Fatalf("expected provider creation to fail after invalid registration")
	}
}
