package shared

import (
	"context"
	"time"
)

// DefaultReplayTTL is how long an applied request key is remembered
const DefaultReplayTTL = 24 * time.Hour

// IdempotencyStore remembers request keys (correlation ids) that were
// already applied, so a replayed batch is rejected instead of written twice.
type IdempotencyStore interface {
	// MarkProcessed claims key for ttl. It returns false when the key was
	// already claimed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key is currently claimed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release forgets key so the request can be applied again. Releasing an
	// unknown key is not an error.
	Release(ctx context.Context, key string) error

	Close() error
}
