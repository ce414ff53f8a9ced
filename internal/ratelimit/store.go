package ratelimit

import (
	"context"
	"time"
)

// Store keeps a sliding log of admitted request timestamps per key.
type Store interface {
	// Admit drops timestamps at least window old, then records the current
	// time only if fewer than limit remain. The returned count includes the
	// new timestamp when admitted. A rejected request is not recorded.
	Admit(ctx context.Context, key string, limit int64, window time.Duration) (allowed bool, count int64, err error)

	// Count returns the number of timestamps younger than window without
	// changing any state.
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
}
