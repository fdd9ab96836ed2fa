package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxquote/internal/config"
	"github.com/smallbiznis/fxquote/internal/observability/metrics"
	"go.uber.org/zap"
)

const keyQuoteClient = "fxquote:ratelimit:quotes:%s"

// Allower decides whether one more request for key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// QuoteLimiter throttles quote creation per client address.
type QuoteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewQuoteLimiter returns nil when limiting is disabled or Redis is not
// configured.
func NewQuoteLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *QuoteLimiter {
	limitCfg := cfg.RateLimit
	if limitCfg.QuoteRate <= 0 {
		return nil
	}
	if client == nil {
		log.Warn("quote rate limit configured without redis, limiter disabled")
		return nil
	}
	burst := limitCfg.QuoteBurst
	if burst <= 0 {
		burst = int(limitCfg.QuoteRate)
		if burst < 1 {
			burst = 1
		}
	}
	return &QuoteLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.QuoteRate,
		burst:  burst,
	}
}

func (l *QuoteLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyQuoteClient, strings.TrimSpace(key)), l.rate, l.burst)
}

// Middleware rejects requests over the limit with 429. Limiter errors fail
// open.
func Middleware(limiter Allower, endpoint string, m *metrics.Metrics, log *zap.Logger, onDenied func(*gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			m.RecordRateLimitDenied(c.Request.Context(), endpoint)
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds()+0.999)))
			onDenied(c)
			return
		}
		c.Next()
	}
}
