package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockPrefix = "catalog-exchange:lock:"
	minLockBackoff    = 5 * time.Millisecond
	maxLockBackoff    = 200 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisEntityLocker serializes writers per key across server instances.
// A lock expires after ttl so a crashed holder cannot wedge an entity.
type RedisEntityLocker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisEntityLocker creates a locker whose leases last ttl
func NewRedisEntityLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisEntityLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisEntityLocker{
		client:    client,
		keyPrefix: defaultLockPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// Lock retries SET NX PX with exponential backoff until it wins or ctx is done
func (l *RedisEntityLocker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}
	redisKey := l.keyPrefix + key

	backoff := minLockBackoff
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxLockBackoff)
	}

	return func() {
		// The caller's ctx may already be cancelled; release must still run.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release entity lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func newLockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var _ erpsync.EntityLocker = (*RedisEntityLocker)(nil)
