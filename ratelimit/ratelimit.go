// Package ratelimit implements the per-agent request budget consulted by the
// AP2 chain verifier.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether an agent may proceed.
type Limiter interface {
	Allow(ctx context.Context, agentID string) (bool, error)
}

// LimiterFunc lifts bare functions into [Limiter].
type LimiterFunc func(ctx context.Context, agentID string) (bool, error)

// Allow delegates to the wrapped function.
func (f LimiterFunc) Allow(ctx context.Context, agentID string) (bool, error) {
	return f(ctx, agentID)
}

// Unlimited allows every agent.
var Unlimited Limiter = LimiterFunc(func(context.Context, string) (bool, error) { return true, nil })

// Policy is a fixed-window budget.
type Policy struct {
	Limit  int64
	Window time.Duration
}

func (p Policy) validate() error {
	if p.Limit <= 0 {
		return errors.New("ratelimit: limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	return nil
}

type window struct {
	start time.Time
	count int64
}

// MemoryLimiter is an in-process fixed-window [Limiter].
type MemoryLimiter struct {
	policy  Policy
	clock   func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter builds a limiter for policy. clock may be nil.
func NewMemoryLimiter(policy Policy, clock func() time.Time) (*MemoryLimiter, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{policy: policy, clock: clock, windows: make(map[string]*window)}, nil
}

// Allow implements [Limiter].
func (l *MemoryLimiter) Allow(ctx context.Context, agentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[agentID]
	if !ok || now.Sub(w.start) >= l.policy.Window {
		w = &window{start: now}
		l.windows[agentID] = w
	}
	if w.count >= l.policy.Limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// allowScript increments the window counter and starts its expiry on the
// first hit, atomically.
var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a fixed-window [Limiter] shared across replicas.
type RedisLimiter struct {
	client redis.Scripter
	policy Policy
	prefix string
}

// NewRedisLimiter builds a Redis-backed limiter. Keys are namespaced with prefix.
func NewRedisLimiter(client redis.Scripter, policy Policy, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{client: client, policy: policy, prefix: prefix}, nil
}

// Allow implements [Limiter].
func (l *RedisLimiter) Allow(ctx context.Context, agentID string) (bool, error) {
	count, err := allowScript.Run(ctx, l.client, []string{l.prefix + agentID}, l.policy.Window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= l.policy.Limit, nil
}
