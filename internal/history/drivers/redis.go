package drivers

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/nadzzz/voicerelay/internal/history"
)

const (
	// Redis key prefix for history lists
	historyKeyPrefix = "voicerelay:history:"
	// Default TTL for history keys (24 hours)
	defaultTTL = 24 * time.Hour
)

// RedisStore keeps each session's history in a Redis list of JSON messages.
// Every read and write refreshes the key's TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-based history store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Load implements history.Store.
func (s *RedisStore) Load(ctx context.Context, session string) ([]history.Message, error) {
	key := s.key(session)
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	msgs := make([]history.Message, 0, len(vals))
	for _, v := range vals {
		var m history.Message
		if err := sonic.UnmarshalString(v, &m); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		msgs = append(msgs, m)
	}

	if len(vals) > 0 {
		// Refresh TTL on read
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return msgs, nil
}

// Append implements history.Store. The push and the TTL refresh run in one
// MULTI/EXEC transaction.
func (s *RedisStore) Append(ctx context.Context, session string, msgs ...history.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		v, err := sonic.MarshalString(m)
		if err != nil {
			return fmt.Errorf("encoding history entry: %w", err)
		}
		vals = append(vals, v)
	}

	key := s.key(session)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, vals...)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// Reset implements history.Store.
func (s *RedisStore) Reset(ctx context.Context, session string) error {
	return s.client.Del(ctx, s.key(session)).Err()
}

// Ping implements history.Pinger.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements history.Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// key constructs the Redis key for a session ID.
func (s *RedisStore) key(session string) string {
	return historyKeyPrefix + session
}
