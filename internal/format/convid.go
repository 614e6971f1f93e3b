package format

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"
)

const (
	conversationIDCacheSize = 500
	conversationIDCacheTTL  = 24 * time.Hour
)

// ConversationIDs maps a caller-supplied session identifier (OpenAI's
// "user" field, Anthropic's metadata.user_id) to a stable conversation id,
// capped at 500 entries (spec §4.2 "Conversation id").
type ConversationIDs struct {
	cache *otter.Cache[string, string]
}

// NewConversationIDs creates a ConversationIDs cache.
func NewConversationIDs() *ConversationIDs {
	c, err := otter.New[string, string](&otter.Options[string, string]{
		MaximumSize:      conversationIDCacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, string](conversationIDCacheTTL),
	})
	if err != nil {
		panic(err)
	}
	return &ConversationIDs{cache: c}
}

// Resolve returns the conversation id for sessionID, minting and caching a
// new one on first sighting. An empty sessionID always mints a fresh
// random id (no caching, since there is nothing to key on).
func (c *ConversationIDs) Resolve(sessionID string) string {
	if sessionID == "" {
		return uuid.Must(uuid.NewV7()).String()
	}
	key := fingerprintSession(sessionID)
	if id, ok := c.cache.GetIfPresent(key); ok {
		return id
	}
	id := uuid.Must(uuid.NewV7()).String()
	c.cache.Set(key, id)
	return id
}

func fingerprintSession(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}
