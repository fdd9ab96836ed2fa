package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisRateKeyPrefix  = "fxquote:rate:"
	redisDerivedSetKey  = "fxquote:rate:derived"
	redisPurgeBatchSize = 256
)

type redisRateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRateCache returns a rate cache shared by every replica.
func NewRedisRateCache(client *redis.Client, ttl time.Duration) (RateCache, error) {
	if client == nil {
		return nil, errors.New("redis rate cache requires a client")
	}
	if ttl <= 0 {
		ttl = defaultRateTTL
	}
	return &redisRateCache{client: client, ttl: ttl}, nil
}

func (c *redisRateCache) Get(ctx context.Context, base, target string) (RateEntry, bool, error) {
	raw, err := c.client.Get(ctx, redisRateKey(base, target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RateEntry{}, false, nil
	}
	if err != nil {
		return RateEntry{}, false, err
	}

	var entry RateEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return RateEntry{}, false, fmt.Errorf("decode cached rate: %w", err)
	}
	return entry, true, nil
}

func (c *redisRateCache) Set(ctx context.Context, base, target string, entry RateEntry) error {
	if !entry.Value.IsPositive() {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := redisRateKey(base, target)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, c.ttl)
		if entry.Derived {
			pipe.SAdd(ctx, redisDerivedSetKey, key)
		} else {
			pipe.SRem(ctx, redisDerivedSetKey, key)
		}
		return nil
	})
	return err
}

func (c *redisRateCache) Delete(ctx context.Context, base, target string) error {
	key := redisRateKey(base, target)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, redisDerivedSetKey, key)
		return nil
	})
	return err
}

func (c *redisRateCache) PurgeDerived(ctx context.Context) (int, error) {
	purged := 0
	for {
		keys, err := c.client.SPopN(ctx, redisDerivedSetKey, redisPurgeBatchSize).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return purged, err
		}
		if len(keys) == 0 {
			return purged, nil
		}
		removed, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return purged, err
		}
		purged += int(removed)
	}
}

func redisRateKey(base, target string) string {
	return redisRateKeyPrefix + pairKey(base, target)
}
