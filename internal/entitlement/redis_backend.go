package entitlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	redisOverridesKey     = "memoria:feature_overrides"
	redisOverridesChannel = "memoria:feature_overrides:changed"
)

// RedisBackend stores overrides in a redis hash and announces every write on
// a pub/sub channel so that other processes reload.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Load(ctx context.Context) (map[string]PlanSet, error) {
	raw, err := b.client.HGetAll(ctx, redisOverridesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[string]PlanSet, len(raw))
	for feature, encoded := range raw {
		var plans PlanSet
		if err := json.Unmarshal([]byte(encoded), &plans); err != nil {
			return nil, fmt.Errorf("decode override %s: %w", feature, err)
		}
		out[feature] = plans
	}
	return out, nil
}

func (b *RedisBackend) Save(ctx context.Context, feature string, plans PlanSet) error {
	encoded, err := json.Marshal(plans)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	if err := b.client.HSet(ctx, redisOverridesKey, feature, encoded).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return b.client.Publish(ctx, redisOverridesChannel, feature).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, feature string) error {
	if err := b.client.HDel(ctx, redisOverridesKey, feature).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return b.client.Publish(ctx, redisOverridesChannel, feature).Err()
}

// Watch calls onChange for every override change published by any process.
func (b *RedisBackend) Watch(ctx context.Context, onChange func()) error {
	sub := b.client.Subscribe(ctx, redisOverridesChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", redisOverridesChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			onChange()
		}
	}
}
