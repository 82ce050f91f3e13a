package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend bundles the coordination primitives the sync server needs
type Backend struct {
	Idempotency shared.IdempotencyStore
	Locker      erpsync.EntityLocker
	// Distributed is false when the primitives only cover this process
	Distributed bool

	client redis.UniversalClient
}

// Close releases the stores and the redis client when there is one
func (b *Backend) Close() error {
	err := b.Idempotency.Close()
	if b.client != nil {
		if cerr := b.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// BackendOption configures NewBackend
type BackendOption func(*backendOptions)

type backendOptions struct {
	logger                *zap.Logger
	allowInMemoryFallback bool
	pingTimeout           time.Duration
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) BackendOption {
	return func(o *backendOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInMemoryFallback controls whether an unreachable redis degrades to
// in-process primitives. Default is true.
func WithInMemoryFallback(allow bool) BackendOption {
	return func(o *backendOptions) {
		o.allowInMemoryFallback = allow
	}
}

// NewBackend connects to redis when it is enabled, otherwise it returns
// in-memory primitives
func NewBackend(redisCfg config.RedisConfig, lockTTL time.Duration, opts ...BackendOption) (*Backend, error) {
	o := backendOptions{
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		pingTimeout:           5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !redisCfg.Enabled {
		o.logger.Info("redis disabled, using in-memory locks and replay protection")
		return NewInMemoryBackend(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), o.pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !o.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required but unavailable: %w", err)
		}
		o.logger.Warn("redis unavailable, falling back to in-memory locks and replay protection; "+
			"replays and concurrent writers are only detected per instance",
			zap.String("addr", redisCfg.Addr()),
			zap.Error(err),
		)
		return NewInMemoryBackend(), nil
	}

	o.logger.Info("using redis locks and replay protection", zap.String("addr", redisCfg.Addr()))
	return NewRedisBackend(client, lockTTL, o.logger), nil
}

// NewRedisBackend builds the primitives on an existing client. The Backend
// takes ownership of the client.
func NewRedisBackend(client redis.UniversalClient, lockTTL time.Duration, logger *zap.Logger) *Backend {
	return &Backend{
		Idempotency: NewRedisIdempotencyStore(client, ""),
		Locker:      NewRedisEntityLocker(client, lockTTL, logger),
		Distributed: true,
		client:      client,
	}
}

// NewInMemoryBackend builds single-instance primitives
func NewInMemoryBackend() *Backend {
	return &Backend{
		Idempotency: NewInMemoryIdempotencyStore(),
		Locker:      NewKeyedLocker(),
	}
}
