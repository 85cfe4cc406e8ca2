package agent

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

const sessionKeyVersion = "s1"

// SessionIdentity names the conversation a channel message belongs to.
// Each actor in a chat gets its own session.
type SessionIdentity struct {
	Channel        string
	ConversationID string
	ActorID        string
}

func (id SessionIdentity) Validate() error {
	if strings.TrimSpace(id.Channel) == "" {
		return fmt.Errorf("missing channel")
	}
	if strings.TrimSpace(id.ConversationID) == "" {
		return fmt.Errorf("missing conversation id")
	}
	if strings.TrimSpace(id.ActorID) == "" {
		return fmt.Errorf("missing actor id")
	}
	return nil
}

func (id SessionIdentity) Canonical() string {
	return strings.ToLower(strings.TrimSpace(id.Channel)) + "|" +
		strings.TrimSpace(id.ConversationID) + "|" +
		strings.TrimSpace(id.ActorID)
}

func (id SessionIdentity) SessionKey() string {
	sum := sha1.Sum([]byte(id.Canonical()))
	return sessionKeyVersion + ":" + hex.EncodeToString(sum[:16])
}

// resolveSessionKey prefers an explicit key and otherwise derives one from
// the message identity.
func resolveSessionKey(explicitKey, channel, conversationID, actorID string) (string, error) {
	if k := strings.TrimSpace(explicitKey); k != "" {
		return k, nil
	}
	identity := SessionIdentity{
		Channel:        strings.TrimSpace(channel),
		ConversationID: strings.TrimSpace(conversationID),
		ActorID:        strings.TrimSpace(actorID),
	}
	if err := identity.Validate(); err != nil {
		return "", fmt.Errorf("resolve session identity: %w", err)
	}
	return identity.SessionKey(), nil
}
