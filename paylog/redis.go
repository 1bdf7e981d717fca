package paylog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	settlementKeyPrefix = "paylog:settlement:"
	indexKey            = "paylog:index"

	// indexCap bounds the recency index; settlement bodies expire with it.
	indexCap = 10000
)

// RedisStore persists settlements in Redis: one JSON value per settlement
// plus a capped recency list for lookups.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Record writes the settlement body and pushes its id onto the index.
func (r *RedisStore) Record(ctx context.Context, s Settlement) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settlement: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, settlementKeyPrefix+s.ID, body, 0)
	pipe.LPush(ctx, indexKey, s.ID)
	pipe.LTrim(ctx, indexKey, 0, indexCap-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record settlement %s: %w", s.ID, err)
	}
	return nil
}

// Recent loads up to limit settlements, newest first. Ids whose bodies have
// been evicted are skipped.
func (r *RedisStore) Recent(ctx context.Context, limit int) ([]Settlement, error) {
	if limit <= 0 || limit > indexCap {
		limit = indexCap
	}

	ids, err := r.client.LRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = settlementKeyPrefix + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read settlements: %w", err)
	}

	out := make([]Settlement, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s Settlement
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
