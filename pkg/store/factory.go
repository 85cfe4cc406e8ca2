package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/bmo/pkg/config"
	"github.com/dotsetgreg/bmo/pkg/logger"
)

// Open builds the configured backend. Redis reachability is checked up
// front so a misconfigured gateway fails at startup rather than mid-turn.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	switch backend {
	case "", "redis":
		s, err := NewRedisStore(cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.InfoCF("store", "Session store ready", map[string]interface{}{
			"backend": "redis",
		})
		return s, nil
	case "sqlite":
		path := cfg.SQLitePath()
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		logger.InfoCF("store", "Session store ready", map[string]interface{}{
			"backend": "sqlite",
			"path":    path,
		})
		return s, nil
	case "memory":
		logger.WarnC("store", "Using in-memory session store; state will not survive restarts")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
