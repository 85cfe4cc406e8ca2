package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Embedding EmbeddingConfig `json:"embedding"`
	Store     StoreConfig     `json:"store"`
	Corpus    CorpusConfig    `json:"corpus"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	mu        sync.RWMutex
}

type AgentConfig struct {
	PersonaName              string  `json:"persona_name" env:"BMO_AGENT_PERSONA_NAME"`
	Provider                 string  `json:"provider" env:"BMO_AGENT_PROVIDER"`
	Model                    string  `json:"model" env:"BMO_AGENT_MODEL"`
	Temperature              float64 `json:"temperature" env:"BMO_AGENT_TEMPERATURE"`
	TopP                     float64 `json:"top_p" env:"BMO_AGENT_TOP_P"`
	MaxTokens                int     `json:"max_tokens" env:"BMO_AGENT_MAX_TOKENS"`
	HistoryWindow            int     `json:"history_window" env:"BMO_AGENT_HISTORY_WINDOW"`
	ExampleCount             int     `json:"example_count" env:"BMO_AGENT_EXAMPLE_COUNT"`
	CompletionTimeoutSeconds int     `json:"completion_timeout_seconds" env:"BMO_AGENT_COMPLETION_TIMEOUT_SECONDS"`
	LogLevel                 string  `json:"log_level" env:"BMO_AGENT_LOG_LEVEL"`
}

type ProvidersConfig struct {
	Ollama     OllamaConfig   `json:"ollama"`
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenAI     OpenAIConfig   `json:"openai"`
}

type OllamaConfig struct {
	APIBase string `json:"api_base" env:"BMO_PROVIDERS_OLLAMA_API_BASE"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"BMO_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"BMO_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"BMO_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey       string `json:"api_key" env:"BMO_PROVIDERS_OPENAI_API_KEY"`
	APIKeyFile   string `json:"api_key_file,omitempty" env:"BMO_PROVIDERS_OPENAI_API_KEY_FILE"`
	APIBase      string `json:"api_base" env:"BMO_PROVIDERS_OPENAI_API_BASE"`
	Organization string `json:"organization,omitempty" env:"BMO_PROVIDERS_OPENAI_ORGANIZATION"`
	Project      string `json:"project,omitempty" env:"BMO_PROVIDERS_OPENAI_PROJECT"`
	Proxy        string `json:"proxy,omitempty" env:"BMO_PROVIDERS_OPENAI_PROXY"`
}

type EmbeddingConfig struct {
	Provider       string `json:"provider" env:"BMO_EMBEDDING_PROVIDER"` // ollama | openai | hash
	Model          string `json:"model" env:"BMO_EMBEDDING_MODEL"`
	APIBase        string `json:"api_base" env:"BMO_EMBEDDING_API_BASE"`
	APIKey         string `json:"api_key" env:"BMO_EMBEDDING_API_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"BMO_EMBEDDING_TIMEOUT_SECONDS"`
	CacheSize      int    `json:"cache_size" env:"BMO_EMBEDDING_CACHE_SIZE"`
}

type StoreConfig struct {
	Backend    string `json:"backend" env:"BMO_STORE_BACKEND"` // redis | sqlite | memory
	RedisURL   string `json:"redis_url" env:"BMO_STORE_REDIS_URL"`
	SQLitePath string `json:"sqlite_path" env:"BMO_STORE_SQLITE_PATH"`
	SweepCron  string `json:"sweep_cron" env:"BMO_STORE_SWEEP_CRON"`
}

type CorpusConfig struct {
	DialogueURL         string `json:"dialogue_url" env:"BMO_CORPUS_DIALOGUE_URL"`
	ProverbsURL         string `json:"proverbs_url" env:"BMO_CORPUS_PROVERBS_URL"`
	ScanLimit           int    `json:"scan_limit" env:"BMO_CORPUS_SCAN_LIMIT"`
	MaxEntries          int    `json:"max_entries" env:"BMO_CORPUS_MAX_ENTRIES"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds" env:"BMO_CORPUS_FETCH_TIMEOUT_SECONDS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"BMO_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"BMO_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"BMO_CHANNELS_DISCORD_ALLOW_FROM"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"BMO_GATEWAY_HOST"`
	Port int    `json:"port" env:"BMO_GATEWAY_PORT"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			PersonaName:              "BMO",
			Provider:                 "ollama",
			Model:                    "llama3.2:1b",
			Temperature:              0.8,
			TopP:                     0.9,
			MaxTokens:                300,
			HistoryWindow:            6,
			ExampleCount:             2,
			CompletionTimeoutSeconds: 30,
			LogLevel:                 "info",
		},
		Providers: ProvidersConfig{
			Ollama: OllamaConfig{
				APIBase: "http://localhost:11434",
			},
			OpenRouter: ProviderConfig{},
			OpenAI:     OpenAIConfig{},
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "all-minilm",
			TimeoutSeconds: 30,
			CacheSize:      4096,
		},
		Store: StoreConfig{
			Backend:    "redis",
			RedisURL:   "redis://localhost:6379/0",
			SQLitePath: "~/.bmo/state/sessions.db",
			SweepCron:  "*/15 * * * *",
		},
		Corpus: CorpusConfig{
			DialogueURL:         "",
			ProverbsURL:         "",
			ScanLimit:           50,
			MaxEntries:          500,
			FetchTimeoutSeconds: 30,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   false,
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18801,
		},
	}
}

// LoadConfig reads path (a missing file yields defaults) and then applies
// BMO_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Store.SQLitePath)
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIBase != "" {
		return c.Providers.OpenRouter.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
