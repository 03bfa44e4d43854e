package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const windowKeyPrefix = "flowguard:detector:window:"

// RedisWindowStore shares detector windows between worker instances. Each
// service window is a Redis list of JSON-encoded vectors.
type RedisWindowStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisWindowStore creates a RedisWindowStore. Windows untouched for ttl
// expire; a zero ttl keeps them forever.
func NewRedisWindowStore(client *redis.Client, ttl time.Duration) *RedisWindowStore {
	return &RedisWindowStore{redis: client, ttl: ttl}
}

// Append pushes v, trims the list and reads it back in one MULTI/EXEC.
func (s *RedisWindowStore) Append(ctx context.Context, service string, v Vector, limit int) ([]Vector, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vector: %w", err)
	}

	key := windowKeyPrefix + service
	var rangeCmd *redis.StringSliceCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if limit > 0 {
			pipe.LTrim(ctx, key, int64(-limit), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		rangeCmd = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append to detector window: %w", err)
	}

	raw, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read detector window: %w", err)
	}

	window := make([]Vector, 0, len(raw))
	for _, item := range raw {
		var vec Vector
		if err := json.Unmarshal([]byte(item), &vec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
		}
		window = append(window, vec)
	}
	return window, nil
}
