package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dkovalenko/crpt-relay/internal/ratelimit"
)

const (
	gateKeyPrefix = "gate:crpt"
	backoffStep   = 10 * time.Millisecond
	backoffMax    = 50 * time.Millisecond
)

// admitScript counts admissions per window key and rejects past capacity.
// INCR+EXPIRE in one script keeps the window key from leaking when the first
// caller crashes between the two commands.
var admitScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.Gate = (*RedisGate)(nil)

// RedisGate is a fixed-window admission gate whose quota is shared by every
// relay instance pointing at the same Redis. Window resolution is whole
// seconds: replenishment rides on key expiry instead of an in-process timer.
type RedisGate struct {
	client        *goredis.Client
	capacity      int64
	windowSeconds int64
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	script        *goredis.Script
}

func NewRedisGate(client *goredis.Client, window time.Duration, capacity int) (*RedisGate, error) {
	return newRedisGate(client, window, int64(capacity), time.Now, sleepWithContext)
}

func newRedisGate(
	client *goredis.Client,
	window time.Duration,
	capacity int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisGate, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be positive (got %d)", capacity)
	}
	if window <= 0 {
		return nil, fmt.Errorf("gate window must be positive (got %s)", window)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	windowSeconds := int64(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	return &RedisGate{
		client:        client,
		capacity:      capacity,
		windowSeconds: windowSeconds,
		now:           nowFn,
		sleep:         sleepFn,
		script:        admitScript,
	}, nil
}

// Acquire blocks with bounded-backoff polling until the current window has a
// free admission slot or ctx is done.
func (g *RedisGate) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		admitted, err := g.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if admitted {
			return nil
		}

		if err := g.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("admission wait canceled: %w", err)
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (g *RedisGate) tryAcquire(ctx context.Context) (bool, error) {
	if g == nil || g.client == nil || g.script == nil {
		return false, fmt.Errorf("redis gate is not initialized")
	}

	window := g.now().UTC().Unix() / g.windowSeconds
	key := fmt.Sprintf("%s:%d", gateKeyPrefix, window)

	result, err := g.script.Run(ctx, g.client, []string{key}, g.capacity, g.windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate admission script: %w", err)
	}

	return result == 1, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
