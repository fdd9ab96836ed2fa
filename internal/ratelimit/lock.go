package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockNotConfigured = errors.New("lock_not_configured")
	errLockKeyEmpty      = errors.New("lock key is empty")
	errLockTTL           = errors.New("lock ttl must be positive")
)

// releaseOwned deletes KEYS[1] only while it still carries the caller's
// token, so an expired holder cannot drop a lock taken over by another
// replica.
var releaseOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived Redis leases keyed by job name. A nil
// *Locker is valid and refuses every lease.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock takes the lease when free. acquired is false without an error
// when another holder owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, ErrLockNotConfigured
	case key == "":
		return "", false, errLockKeyEmpty
	case ttl <= 0:
		return "", false, errLockTTL
	}

	token = uuid.NewString()
	acquired, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	if err := releaseOwned.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
