package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotsetgreg/bmo/pkg/config"
	"github.com/dotsetgreg/bmo/pkg/logger"
)

// Status reports which path produced a vector.
type Status int

const (
	StatusPrimary Status = iota
	StatusFallback
)

func (s Status) String() string {
	if s == StatusFallback {
		return "fallback"
	}
	return "primary"
}

// Embedding is a vector plus how it was obtained.
type Embedding struct {
	Vector []float32
	Status Status
	Model  string
	// Err is the backend failure that forced the fallback, if any.
	Err error
}

func (e Embedding) Degraded() bool { return e.Status == StatusFallback }

// Embedder is the contract consumed by retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) Embedding
}

const (
	defaultTimeout   = 30 * time.Second
	defaultCacheSize = 4096
)

type Options struct {
	Timeout   time.Duration
	CacheSize int
	// OnFallback is called once per degraded embedding.
	OnFallback func(err error)
}

// Service embeds text with a primary backend and falls back to a local hash
// embedding on any failure. Successful primary vectors are cached by text.
type Service struct {
	primary    Backend
	fallback   *HashEmbedder
	timeout    time.Duration
	cache      *lru.Cache[string, []float32]
	onFallback func(err error)
}

func NewService(primary Backend, opts Options) (*Service, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Service{
		primary:    primary,
		fallback:   NewHashEmbedder(FallbackDims),
		timeout:    opts.Timeout,
		cache:      cache,
		onFallback: opts.OnFallback,
	}, nil
}

// NewFromConfig selects the backend named by cfg.Embedding.Provider.
func NewFromConfig(cfg *config.Config, onFallback func(error)) (*Service, error) {
	ec := cfg.Embedding
	var backend Backend
	switch strings.ToLower(strings.TrimSpace(ec.Provider)) {
	case "", "ollama":
		base := ec.APIBase
		if base == "" {
			base = cfg.Providers.Ollama.APIBase
		}
		backend = NewOllamaBackend(base, ec.Model)
	case "openai":
		key := ec.APIKey
		if key == "" {
			key = cfg.Providers.OpenAI.APIKey
		}
		backend = NewOpenAIBackend(ec.APIBase, key, ec.Model)
	case "hash":
		backend = NewHashEmbedder(FallbackDims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}
	return NewService(backend, Options{
		Timeout:    time.Duration(ec.TimeoutSeconds) * time.Second,
		CacheSize:  ec.CacheSize,
		OnFallback: onFallback,
	})
}

// Embed never fails; a degraded result carries Status fallback.
func (s *Service) Embed(ctx context.Context, text string) Embedding {
	if s.primary == nil {
		return s.degrade(text, fmt.Errorf("no embedding backend configured"))
	}
	if vec, ok := s.cache.Get(text); ok {
		return Embedding{Vector: vec, Status: StatusPrimary, Model: s.primary.Model()}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.primary.Embed(callCtx, text)
	if err == nil && !validVector(vec) {
		err = fmt.Errorf("malformed embedding from %s (len=%d)", s.primary.Model(), len(vec))
	}
	if err != nil {
		return s.degrade(text, err)
	}
	s.cache.Add(text, vec)
	return Embedding{Vector: vec, Status: StatusPrimary, Model: s.primary.Model()}
}

func (s *Service) degrade(text string, cause error) Embedding {
	logger.WarnCF("embedding", "Embedding backend unavailable, using hash fallback", map[string]interface{}{
		"error": cause.Error(),
	})
	if s.onFallback != nil {
		s.onFallback(cause)
	}
	return Embedding{
		Vector: s.fallback.Vector(text),
		Status: StatusFallback,
		Model:  s.fallback.Model(),
		Err:    cause,
	}
}
