package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orbit-chat/internal/model"
)

const (
	conversationKeyPrefix = "orbit:conversation:"
	conversationIndexKey  = "orbit:conversations"
)

// RedisStorage stores each conversation as one JSON value and keeps the
// set of IDs in a separate index key. TTL of zero means no expiry; a
// positive TTL is refreshed on every write.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStorage(addr string, db int, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		ttl: ttl,
	}
}

func (r *RedisStorage) Init() error {
	ctx, cancel := r.opCtx()
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrStorageInit, err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) CreateConversation(conv *model.Conversation) error {
	return r.write(conv)
}

func (r *RedisStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	val, err := r.client.Get(ctx, r.key(conversationID)).Result()
	if err == redis.Nil {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal([]byte(val), &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &conv, nil
}

func (r *RedisStorage) UpdateConversation(conv *model.Conversation) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	exists, err := r.client.Exists(ctx, r.key(conv.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrConversationNotFound
	}
	return r.write(conv)
}

func (r *RedisStorage) DeleteConversation(conversationID string) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	deleted, err := r.client.Del(ctx, r.key(conversationID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrConversationNotFound
	}
	return r.client.SRem(ctx, conversationIndexKey, conversationID).Err()
}

func (r *RedisStorage) ListConversations() ([]*model.Conversation, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	ids, err := r.client.SMembers(ctx, conversationIndexKey).Result()
	if err != nil {
		return nil, err
	}

	conversations := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := r.GetConversation(id)
		if err == ErrConversationNotFound {
			// Expired value still referenced by the index.
			r.client.SRem(ctx, conversationIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func (r *RedisStorage) write(conv *model.Conversation) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	val, err := json.Marshal(conv)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(conv.ID), val, r.ttl)
	pipe.SAdd(ctx, conversationIndexKey, conv.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStorage) key(id string) string {
	return conversationKeyPrefix + id
}

func (r *RedisStorage) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
