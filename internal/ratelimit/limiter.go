package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultLimit  = 30
	DefaultWindow = time.Minute
)

// Status is the quota left for a key.
type Status struct {
	Remaining int64
	Limit     int64
	Window    time.Duration
}

type Limiter interface {
	// Allow admits or rejects one request for key.
	Allow(ctx context.Context, key string) (allowed bool, err error)
	// Status reports the remaining quota for key without consuming any.
	Status(ctx context.Context, key string) (Status, error)
}

// SlidingWindowLimiter admits at most limit requests per key in any trailing
// window.
type SlidingWindowLimiter struct {
	store  Store
	limit  int64
	window time.Duration
}

// NewSlidingWindowLimiter creates a limiter admitting limit requests per window.
func NewSlidingWindowLimiter(store Store, limit int64, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := l.store.Admit(ctx, key, l.limit, l.window)
	if err != nil {
		return false, err
	}

	return allowed, nil
}

func (l *SlidingWindowLimiter) Status(ctx context.Context, key string) (Status, error) {
	count, err := l.store.Count(ctx, key, l.window)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Remaining: max(l.limit-count, 0),
		Limit:     l.limit,
		Window:    l.window,
	}, nil
}
