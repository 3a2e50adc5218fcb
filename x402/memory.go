package x402

import (
	"context"
	"sync"
	"time"
)

// MemoryChallengeStore is an in-process [ChallengeStore].
type MemoryChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]Challenge
}

// NewMemoryChallengeStore builds an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]Challenge)}
}

// Save implements [ChallengeStore].
func (s *MemoryChallengeStore) Save(_ context.Context, c *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.PaymentID] = *c
	return nil
}

// Get implements [ChallengeStore].
func (s *MemoryChallengeStore) Get(_ context.Context, paymentID string) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[paymentID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &c, nil
}

// Purge drops challenges that expired before cutoff and reports how many
// were removed. Answers to a purged challenge fail with
// [ErrChallengeNotFound]; their settlement records are kept.
func (s *MemoryChallengeStore) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.challenges {
		if c.ExpiresAt.Before(cutoff) {
			delete(s.challenges, id)
			n++
		}
	}
	return n
}

// Len reports the number of stored challenges.
func (s *MemoryChallengeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.challenges)
}

// MemorySettlementStore is an in-process [SettlementStore].
type MemorySettlementStore struct {
	mu          sync.Mutex
	settlements map[string]*Settlement
}

// NewMemorySettlementStore builds an empty store.
func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{settlements: make(map[string]*Settlement)}
}

// Create implements [SettlementStore].
func (s *MemorySettlementStore) Create(_ context.Context, record *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[record.PaymentID]; ok {
		return ErrSettlementExists
	}
	s.settlements[record.PaymentID] = record.clone()
	return nil
}

// Get implements [SettlementStore].
func (s *MemorySettlementStore) Get(_ context.Context, paymentID string) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.settlements[paymentID]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	return record.clone(), nil
}

// Transition implements [SettlementStore].
func (s *MemorySettlementStore) Transition(_ context.Context, record *Settlement, from SettlementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.settlements[record.PaymentID]
	if !ok {
		return ErrSettlementNotFound
	}
	if current.Status != from {
		return ErrStatusConflict
	}
	s.settlements[record.PaymentID] = record.clone()
	return nil
}
