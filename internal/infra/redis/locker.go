package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultLockTTL = 15 * time.Minute
	lockPrefix     = "lock:"
)

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ ratelimit.Locker = (*BatchLocker)(nil)

// BatchLocker is a distributed Locker. Locks expire after ttl so a crashed
// holder cannot block a batch forever.
type BatchLocker struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewBatchLocker(client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*BatchLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchLocker{client: client, ttl: ttl, logger: logger}, nil
}

func (l *BatchLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	redisKey := lockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked by another run", domain.ErrConflict, key)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release batch lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
