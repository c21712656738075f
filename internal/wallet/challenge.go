package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// Challenge is a one-shot sign-in message bound to an account.
type Challenge struct {
	Account   id.Address
	Message   string
	ExpiresAt time.Time
}

// ChallengeStore keeps at most one outstanding challenge per account.
type ChallengeStore interface {
	Save(ctx context.Context, c Challenge) error
	// Consume returns and removes the account's challenge. Missing or expired
	// challenges yield sentinel.ErrNotFound or sentinel.ErrExpired.
	Consume(ctx context.Context, account id.Address, now time.Time) (Challenge, error)
}

// InMemoryChallengeStore is the single-process challenge store.
type InMemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[id.Address]Challenge
}

func NewInMemoryChallengeStore() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{challenges: make(map[id.Address]Challenge)}
}

func (s *InMemoryChallengeStore) Save(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.Account] = c
	return nil
}

func (s *InMemoryChallengeStore) Consume(_ context.Context, account id.Address, now time.Time) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[account]
	if !ok {
		return Challenge{}, fmt.Errorf("challenge for %s: %w", account, sentinel.ErrNotFound)
	}
	delete(s.challenges, account)
	if !now.Before(c.ExpiresAt) {
		return Challenge{}, fmt.Errorf("challenge for %s: %w", account, sentinel.ErrExpired)
	}
	return c, nil
}
