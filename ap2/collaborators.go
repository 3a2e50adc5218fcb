package ap2

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// SignatureVerifier checks a mandate proof. The byte-level scheme is owned by
// the implementation; tap.Ed25519KeyRing satisfies it.
type SignatureVerifier interface {
	VerifySignature(message, signature []byte, keyID, algorithm string) bool
}

// SignatureVerifierFunc lifts bare functions into [SignatureVerifier].
type SignatureVerifierFunc func(message, signature []byte, keyID, algorithm string) bool

// VerifySignature delegates to the wrapped function.
func (f SignatureVerifierFunc) VerifySignature(message, signature []byte, keyID, algorithm string) bool {
	return f(message, signature, keyID, algorithm)
}

// DomainAuthorizer resolves an agent and reports whether it may transact with
// a merchant domain. An error means the agent could not be resolved.
type DomainAuthorizer interface {
	IsAuthorized(ctx context.Context, agentID, domain string) (bool, error)
}

// DomainAuthorizerFunc lifts bare functions into [DomainAuthorizer].
type DomainAuthorizerFunc func(ctx context.Context, agentID, domain string) (bool, error)

// IsAuthorized delegates to the wrapped function.
func (f DomainAuthorizerFunc) IsAuthorized(ctx context.Context, agentID, domain string) (bool, error) {
	return f(ctx, agentID, domain)
}

// RateLimiter is satisfied by ratelimit.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, agentID string) (bool, error)
}

// SecurityPolicy may lock a transaction for the issuing agent, for example
// after repeated failures or a manual freeze.
type SecurityPolicy interface {
	Locked(ctx context.Context, agentID string, chain Chain) (bool, error)
}

// SecurityPolicyFunc lifts bare functions into [SecurityPolicy].
type SecurityPolicyFunc func(ctx context.Context, agentID string, chain Chain) (bool, error)

// Locked delegates to the wrapped function.
func (f SecurityPolicyFunc) Locked(ctx context.Context, agentID string, chain Chain) (bool, error) {
	return f(ctx, agentID, chain)
}

// ErrUnknownAgent is returned by authorizers that have no record of an agent.
var ErrUnknownAgent = errors.New("ap2: unknown agent")

// StaticDomainAuthorizer authorizes agents against a fixed allow-list.
type StaticDomainAuthorizer struct {
	mu      sync.RWMutex
	domains map[string]map[string]struct{}
}

// NewStaticDomainAuthorizer builds an authorizer from agent → domains.
func NewStaticDomainAuthorizer(grants map[string][]string) *StaticDomainAuthorizer {
	a := &StaticDomainAuthorizer{domains: make(map[string]map[string]struct{}, len(grants))}
	for agent, domains := range grants {
		for _, d := range domains {
			a.Grant(agent, d)
		}
	}
	return a
}

// Grant authorizes agentID for domain.
func (a *StaticDomainAuthorizer) Grant(agentID, domain string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.domains[agentID]
	if !ok {
		set = make(map[string]struct{})
		a.domains[agentID] = set
	}
	set[strings.ToLower(domain)] = struct{}{}
}

// IsAuthorized implements [DomainAuthorizer].
func (a *StaticDomainAuthorizer) IsAuthorized(_ context.Context, agentID, domain string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set, ok := a.domains[agentID]
	if !ok {
		return false, ErrUnknownAgent
	}
	_, ok = set[strings.ToLower(domain)]
	return ok, nil
}

// LockList is a [SecurityPolicy] over an in-memory set of locked agents.
type LockList struct {
	mu     sync.RWMutex
	locked map[string]struct{}
}

// NewLockList builds an empty lock list.
func NewLockList() *LockList {
	return &LockList{locked: make(map[string]struct{})}
}

// Lock blocks every transaction of agentID.
func (l *LockList) Lock(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked[agentID] = struct{}{}
}

// Unlock lifts a lock.
func (l *LockList) Unlock(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locked, agentID)
}

// Locked implements [SecurityPolicy].
func (l *LockList) Locked(_ context.Context, agentID string, _ Chain) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.locked[agentID]
	return ok, nil
}
