package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	backoffStep = 50 * time.Millisecond
	pacerPrefix = "pacer:"
)

// Returns 0 when the slot was taken, otherwise the milliseconds until it frees up.
var pacerScript = goredis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
  return 0
end
return redis.call("PTTL", KEYS[1])
`)

var _ ratelimit.Pacer = (*RedisPacer)(nil)

// RedisPacer is a distributed Pacer: one dispatch per interval per key across
// every process sharing the Redis instance.
type RedisPacer struct {
	client   *goredis.Client
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	script   *goredis.Script
}

func NewRedisPacer(client *goredis.Client, interval time.Duration) (*RedisPacer, error) {
	return newRedisPacer(client, interval, sleepWithContext)
}

func newRedisPacer(
	client *goredis.Client,
	interval time.Duration,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisPacer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisPacer{
		client:   client,
		interval: interval,
		sleep:    sleepFn,
		script:   pacerScript,
	}, nil
}

func (p *RedisPacer) Wait(ctx context.Context, key string) error {
	for {
		remaining, err := p.take(ctx, key)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}

		if err := p.sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// take tries to claim the next slot and reports how long until one is free.
func (p *RedisPacer) take(ctx context.Context, key string) (time.Duration, error) {
	if p == nil || p.client == nil || p.script == nil {
		return 0, fmt.Errorf("pacer is not initialized")
	}

	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return 0, fmt.Errorf("pacer key is required")
	}

	ms, err := p.script.Run(ctx, p.client, []string{pacerPrefix + normalized}, p.interval.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate pacer: %w", err)
	}
	if ms == 0 {
		return 0, nil
	}
	if ms < 0 {
		return backoffStep, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
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
