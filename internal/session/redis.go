package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"

	"github.com/docurag/docurag/pkg/config"
)

const (
	redisSessionKeyPrefix = "docurag:session:"
	redisSessionIndexKey  = "docurag:sessions"
)

// RedisBackend keeps sessions as JSON values plus a set index for
// Clear. Sessions are not expired; pruning bounds their size and Reset
// removes them.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, cfg config.StorageConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrapErr("redis", "ping", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (Session, bool, error) {
	payload, err := b.client.Get(ctx, redisSessionKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, wrapErr("redis", "get", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Session{}, false, wrapErr("redis", "get", err)
	}
	return s, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, s Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return wrapErr("redis", "put", err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, redisSessionKeyPrefix+s.ID, payload, 0)
	pipe.SAdd(ctx, redisSessionIndexKey, s.ID)
	_, err = pipe.Exec(ctx)
	return wrapErr("redis", "put", err)
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, redisSessionKeyPrefix+id)
	pipe.SRem(ctx, redisSessionIndexKey, id)
	_, err := pipe.Exec(ctx)
	return wrapErr("redis", "delete", err)
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	ids, err := b.client.SMembers(ctx, redisSessionIndexKey).Result()
	if err != nil {
		return wrapErr("redis", "clear", err)
	}
	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, redisSessionKeyPrefix+id)
	}
	pipe.Del(ctx, redisSessionIndexKey)
	_, err = pipe.Exec(ctx)
	return wrapErr("redis", "clear", err)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
