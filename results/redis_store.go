package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "embedtune:results:summaries"

// RedisStore implements Store using a Redis sorted set scored by time, value = JSON Summary.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store that uses the given Redis client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, s Summary) error {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	score := float64(s.At.UnixNano()) / 1e9
	if err := r.client.ZAdd(ctx, r.key, redis.Z{Score: score, Member: string(raw)}).Err(); err != nil {
		return fmt.Errorf("results: record: %w", err)
	}
	return nil
}

// Query implements Store by reading the time range newest first and filtering in memory.
func (r *RedisStore) Query(ctx context.Context, q Query) ([]Summary, error) {
	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = strconv.FormatFloat(float64(q.From.UnixNano())/1e9, 'f', -1, 64)
	}
	if !q.To.IsZero() {
		max = strconv.FormatFloat(float64(q.To.UnixNano())/1e9, 'f', -1, 64)
	}
	const batch = 1000
	out := make([]Summary, 0)
	for offset := int64(0); ; offset += batch {
		vals, err := r.client.ZRevRangeByScore(ctx, r.key, &redis.ZRangeBy{
			Min: min, Max: max, Offset: offset, Count: batch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("results: query: %w", err)
		}
		for _, mem := range vals {
			var s Summary
			if err := json.Unmarshal([]byte(mem), &s); err != nil {
				continue
			}
			if !q.match(s) {
				continue
			}
			out = append(out, s)
			if len(out) == q.limit() {
				return out, nil
			}
		}
		if len(vals) < batch {
			return out, nil
		}
	}
}
