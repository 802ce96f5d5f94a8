package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/redis"
)

const (
	redisInvalidateChannel = "greatx:worker:invalidate"
	redisConversationKey   = "greatx:conversation:"
	redisStateTTL          = 30 * time.Minute
)

const (
	scopeUser         = "user"
	scopeConversation = "conversation"
)

type invalidateMessage struct {
	Origin         string `json:"origin"`
	OwnerID        int64  `json:"owner_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Scope          string `json:"scope"`
}

type cachedConversation struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
}

// stateRedis mirrors conversation state into redis so another instance (or
// this one after eviction) can pick it up without the database, and fans
// out invalidations. A nil client disables all of it.
type stateRedis struct {
	client *redis.Client
	logger *zap.Logger
}

func newStateCache(client *redis.Client, logger *zap.Logger) *stateRedis {
	return &stateRedis{client: client, logger: logger}
}

func (r *stateRedis) enabled() bool {
	return r != nil && r.client.Enabled()
}

// startListener subscribes to invalidations and feeds them to handler until
// the returned stop func is called.
func (r *stateRedis) startListener(handler func(invalidateMessage)) (stop func()) {
	if !r.enabled() || handler == nil {
		return func() {}
	}
	pubsub := r.client.Subscribe(context.Background(), redisInvalidateChannel)
	if pubsub == nil {
		return func() {}
	}
	go func() {
		for msg := range pubsub.Channel() {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				r.logger.Warn("decode worker invalidation", zap.Error(err))
				continue
			}
			handler(inv)
		}
	}()
	return func() { _ = pubsub.Close() }
}

// publishInvalidation broadcasts msg to every instance
func (r *stateRedis) publishInvalidation(ctx context.Context, msg invalidateMessage) {
	if !r.enabled() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("encode worker invalidation", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, redisInvalidateChannel, string(payload)); err != nil {
		r.logger.Warn("publish worker invalidation", zap.String("scope", msg.Scope), zap.Error(err))
	}
}

func (r *stateRedis) storeConversation(ctx context.Context, conv models.Conversation, messages []models.Message) {
	if !r.enabled() || conv.ID == "" {
		return
	}
	data, err := json.Marshal(cachedConversation{Conversation: conv, Messages: messages})
	if err != nil {
		r.logger.Warn("encode cached conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, redisConversationKey+conv.ID, data, redisStateTTL); err != nil {
		r.logger.Warn("cache conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

// loadConversation returns the cached conversation when it exists and
// belongs to ownerID.
func (r *stateRedis) loadConversation(ctx context.Context, ownerID int64, id string) (*cachedConversation, bool) {
	if !r.enabled() || id == "" {
		return nil, false
	}
	raw, err := r.client.Get(ctx, redisConversationKey+id)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.logger.Warn("load cached conversation", zap.String("conversation_id", id), zap.Error(err))
		}
		return nil, false
	}
	var cached cachedConversation
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		r.logger.Warn("decode cached conversation", zap.String("conversation_id", id), zap.Error(err))
		return nil, false
	}
	if cached.Conversation.ID != id || cached.Conversation.OwnerID != ownerID {
		return nil, false
	}
	return &cached, true
}

func (r *stateRedis) invalidateConversations(ctx context.Context, ids ...string) {
	if !r.enabled() || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisConversationKey + id
	}
	if err := r.client.Del(ctx, keys...); err != nil {
		r.logger.Warn("drop cached conversations", zap.Int("count", len(keys)), zap.Error(err))
	}
}
