package store

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	redisChunkKeyPrefix = "docurag:chunk:"
	redisDocKeyPrefix   = "docurag:doc:"
	redisChunkIndexKey  = "docurag:chunks"
)

// RedisStore keeps chunks as JSON values with two set indexes: one per
// document for cascade deletes, one global for scans. Similarity search
// fetches candidates with MGET and scores them locally; the store is
// meant for sharing a corpus between processes, not for ANN-scale
// search.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.StorageConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrapErr("redis", "ping", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) UpsertChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	pipe := s.client.TxPipeline()
	for _, c := range chunks {
		payload, err := json.Marshal(c)
		if err != nil {
			return wrapErr("redis", "upsert", err)
		}
		pipe.Set(ctx, redisChunkKeyPrefix+c.ID, payload, 0)
		pipe.SAdd(ctx, redisDocKeyPrefix+c.DocumentID, c.ID)
		pipe.SAdd(ctx, redisChunkIndexKey, c.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("redis", "upsert", err)
	}
	return nil
}

func (s *RedisStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ids, err := s.client.SMembers(ctx, redisDocKeyPrefix+documentID).Result()
	if err != nil {
		return wrapErr("redis", "delete_by_document", err)
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, redisChunkKeyPrefix+id)
		pipe.SRem(ctx, redisChunkIndexKey, id)
	}
	pipe.Del(ctx, redisDocKeyPrefix+documentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("redis", "delete_by_document", err)
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, query types.Vector, topK int, minScore float32) ([]SearchHit, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return scanSearch(all, query, topK, minScore), nil
}

func (s *RedisStore) GetChunks(ctx context.Context, ids []string) ([]types.DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisChunkKeyPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr("redis", "get_chunks", err)
	}
	out := make([]types.DocumentChunk, 0, len(ids))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // unknown ID
		}
		var c types.DocumentChunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, wrapErr("redis", "get_chunks", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) All(ctx context.Context) ([]types.DocumentChunk, error) {
	ids, err := s.client.SMembers(ctx, redisChunkIndexKey).Result()
	if err != nil {
		return nil, wrapErr("redis", "all", err)
	}
	return s.GetChunks(ctx, ids)
}

func (s *RedisStore) Count(ctx context.Context) (int, int, error) {
	all, err := s.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	embedded := 0
	for _, c := range all {
		if len(c.Embedding) > 0 {
			embedded++
		}
	}
	return len(all), embedded, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, redisChunkIndexKey).Result()
	if err != nil {
		return wrapErr("redis", "clear", err)
	}
	pipe := s.client.TxPipeline()
	docs := make(map[string]struct{})
	chunks, err := s.GetChunks(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
	}
	for _, id := range ids {
		pipe.Del(ctx, redisChunkKeyPrefix+id)
	}
	for doc := range docs {
		pipe.Del(ctx, redisDocKeyPrefix+doc)
	}
	pipe.Del(ctx, redisChunkIndexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("redis", "clear", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ChunkStore = (*RedisStore)(nil)
