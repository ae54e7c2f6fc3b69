package handles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "personalize:handle:"

// RedisStore backs the handle store with a networked expiring map. Expiry is
// Redis-native (SET EX), so no sweeper runs; Take claims atomically via GETDEL,
// which also makes Discard a no-op for already-claimed handles.
type RedisStore struct {
	rdb *goredis.Client
	log zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping
func NewRedisStore(addr string, log zerolog.Logger) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{rdb: rdb, log: log}, nil
}

// Put stashes a payload and returns the new handle
func (s *RedisStore) Put(ctx context.Context, payload Payload, ttl time.Duration) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal handle payload: %w", err)
	}

	if err := s.rdb.Set(ctx, redisKeyPrefix+id, raw, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}

	return id, nil
}

// Take claims the payload for a handle
func (s *RedisStore) Take(ctx context.Context, id string) (Payload, error) {
	raw, err := s.rdb.GetDel(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, fmt.Errorf("redis getdel: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.log.Error().Err(err).Str("handle", id).Msg("Corrupt handle payload in redis")
		return Payload{}, ErrNotFound
	}

	return payload, nil
}

// Discard evicts the handle
func (s *RedisStore) Discard(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+id).Err()
}

// Ping reports whether the store is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
