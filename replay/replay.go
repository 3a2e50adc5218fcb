// Package replay provides the anti-replay stores shared by the TAP and AP2
// verifiers. A store remembers a key for a bounded time and answers, in one
// atomic step, whether the key was already present.
package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidTTL is returned when a key is marked with a non-positive lifetime.
var ErrInvalidTTL = errors.New("replay: ttl must be positive")

// Store records single-use keys.
type Store interface {
	// CheckAndMark marks key as used for ttl and reports true when the key
	// was not already marked. Two concurrent calls for the same key must
	// never both observe true.
	CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StoreFunc lifts bare functions into [Store].
type StoreFunc func(ctx context.Context, key string, ttl time.Duration) (bool, error)

// CheckAndMark delegates to the wrapped function.
func (f StoreFunc) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return f(ctx, key, ttl)
}

// MemoryStore is an in-process [Store]. Entries are dropped lazily once they
// expire; it is suitable for tests and single-replica deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
	sweeps  int
}

// MemoryOption customizes a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithClock overrides the store clock.
func WithClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sweepEvery bounds how many writes may pass between full expiry sweeps.
const sweepEvery = 1024

// CheckAndMark implements [Store].
func (s *MemoryStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.entries[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	s.sweeps++
	if s.sweeps >= sweepEvery {
		s.sweeps = 0
		for k, expiresAt := range s.entries {
			if !now.Before(expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	return true, nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, expiresAt := range s.entries {
		if now.Before(expiresAt) {
			n++
		}
	}
	return n
}

// RedisStore is a [Store] backed by SET NX PX, shared across replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps a go-redis client. Keys are namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// CheckAndMark implements [Store].
func (s *RedisStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
