package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const registryTTL = 5 * time.Minute

// Registry resolves conversation metadata (participants, group flag, name)
// for the router. It is a read-through cache in front of the store: Redis
// holds recently resolved conversations with a TTL, the store stays the only
// source of truth. A nil Redis client degrades to store-only lookups.
type Registry struct {
	store Store
	cache *redis.Client
	log   *slog.Logger
}

func NewRegistry(store Store, cache *redis.Client, log *slog.Logger) *Registry {
	return &Registry{store: store, cache: cache, log: log}
}

// Get returns the conversation, or nil when it does not exist. Cache
// failures are logged and treated as misses; they never fail the lookup.
func (r *Registry) Get(ctx context.Context, id string) (*Conversation, error) {
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, cacheKey(id)).Bytes()
		if err == nil {
			conv := &Conversation{}
			if err := json.Unmarshal(raw, conv); err == nil {
				return conv, nil
			}
			// Unreadable entry, fall through to the store.
			r.Invalidate(ctx, id)
		} else if !errors.Is(err, redis.Nil) {
			r.log.Warn("registry cache get", "conversation_id", id, "error", err)
		}
	}

	conv, err := r.store.GetConversation(ctx, id)
	if err != nil || conv == nil {
		return conv, err
	}

	if r.cache != nil {
		if raw, err := json.Marshal(conv); err == nil {
			if err := r.cache.Set(ctx, cacheKey(id), raw, registryTTL).Err(); err != nil {
				r.log.Warn("registry cache set", "conversation_id", id, "error", err)
			}
		}
	}
	return conv, nil
}

// Invalidate drops the cached entry. Called on delete and whenever the
// conversation row changes (activity bumps).
func (r *Registry) Invalidate(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(id)).Err(); err != nil {
		r.log.Warn("registry cache del", "conversation_id", id, "error", err)
	}
}

func cacheKey(conversationID string) string {
	return "conv:" + conversationID
}
