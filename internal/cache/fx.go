package cache

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxquote/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var Module = fx.Module("cache",
	fx.Provide(NewRateCache),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// NewRateCache selects the rate cache backend from CACHE_BACKEND.
func NewRateCache(p Params) (RateCache, error) {
	log := p.Log.Named("cache")
	switch p.Cfg.Cache.Backend {
	case "", BackendMemory:
		log.Info("rate cache backend", zap.String("backend", BackendMemory), zap.Duration("ttl", p.Cfg.Cache.TTL))
		return NewMemoryRateCache(p.Cfg.Cache.TTL), nil
	case BackendRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("cache backend %q requires REDIS_ADDR", BackendRedis)
		}
		log.Info("rate cache backend", zap.String("backend", BackendRedis), zap.Duration("ttl", p.Cfg.Cache.TTL))
		return NewRedisRateCache(p.Redis, p.Cfg.Cache.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", p.Cfg.Cache.Backend)
	}
}
