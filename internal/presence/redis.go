package presence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares presence between replicas using one hash per conversation.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + ":" + conversationID
}

func (s *RedisStore) Enter(ctx context.Context, conversationID, userID string) error {
	return s.rdb.HIncrBy(ctx, s.key(conversationID), userID, 1).Err()
}

func (s *RedisStore) Leave(ctx context.Context, conversationID, userID string) error {
	n, err := s.rdb.HIncrBy(ctx, s.key(conversationID), userID, -1).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.rdb.HDel(ctx, s.key(conversationID), userID).Err()
	}
	return nil
}

func (s *RedisStore) IsInside(ctx context.Context, conversationID, userID string) (bool, error) {
	n, err := s.rdb.HGet(ctx, s.key(conversationID), userID).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var (
	_ Store = (*LocalStore)(nil)
	_ Store = (*RedisStore)(nil)
)
