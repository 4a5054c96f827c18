package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// RedisStore keeps tokens in Redis, for deployments where several processes on one host
// share a session (a kiosk and its helper daemon, for example).
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) redisKey(key Key) string {
	return r.prefix + string(key)
}

func (r *RedisStore) Get(ctx context.Context, key Key) (string, bool, error) {
	value, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[RedisStore.Get] %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key Key, value string) error {
	if err := r.client.Set(ctx, r.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("[RedisStore.Set] %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("[RedisStore.Remove] %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
