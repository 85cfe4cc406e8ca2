// Package store is the session key-value adapter: a durable mapping from a
// namespaced key to a serialized value with per-key expiry.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable wraps every backend failure so callers can tell a missing
// key (ok=false, err=nil) apart from an unreachable store.
var ErrUnavailable = errors.New("session store unavailable")

// Store provides key-value persistence with expiry.
type Store interface {
	// Get returns the value for key. A missing or expired key returns
	// ok=false with a nil error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Purger is implemented by backends that keep expired rows until swept.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

const (
	conversationPrefix = "conversation:"
	profilePrefix      = "user_profile:"
)

func ConversationKey(sessionID string) string {
	return conversationPrefix + sessionID
}

func ProfileKey(sessionID string) string {
	return profilePrefix + sessionID
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, key, err)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("store key is empty")
	}
	return nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
