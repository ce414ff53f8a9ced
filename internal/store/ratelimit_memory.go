package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/nillion-storage-api/internal/ratelimit"
)

// RateLimitMemoryStore is an in-process ratelimit.Store. One mutex guards
// every key, so prune, check and append happen as one step.
type RateLimitMemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	requests map[string][]time.Time
}

type MemoryOption func(*RateLimitMemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *RateLimitMemoryStore) {
		s.now = now
	}
}

// NewRateLimitMemoryStore creates an in-process sliding window store.
func NewRateLimitMemoryStore(opts ...MemoryOption) *RateLimitMemoryStore {
	s := &RateLimitMemoryStore{
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RateLimitMemoryStore) Admit(
	_ context.Context, key string, limit int64, window time.Duration,
) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := prune(s.requests[key], now, window)

	if int64(len(live)) >= limit {
		s.store(key, live)

		return false, int64(len(live)), nil
	}

	live = append(live, now)
	s.requests[key] = live

	return true, int64(len(live)), nil
}

func (s *RateLimitMemoryStore) Count(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var n int64

	for _, ts := range s.requests[key] {
		if now.Sub(ts) < window {
			n++
		}
	}

	return n, nil
}

// Keys is the number of clients with live entries.
func (s *RateLimitMemoryStore) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.requests)
}

func (s *RateLimitMemoryStore) store(key string, live []time.Time) {
	if len(live) == 0 {
		delete(s.requests, key)

		return
	}

	s.requests[key] = live
}

// prune keeps timestamps younger than window. Timestamps are appended in
// order, so the first live one ends the scan.
func prune(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	for i, ts := range timestamps {
		if now.Sub(ts) < window {
			return timestamps[i:]
		}
	}

	return nil
}

// Compile-time check.
var _ ratelimit.Store = (*RateLimitMemoryStore)(nil)
