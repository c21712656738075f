package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

const challengeKeyPrefix = "certledger:challenge:"

// RedisChallengeStore shares challenges across replicas. Consume uses GETDEL so a
// challenge is redeemable exactly once.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

type storedChallenge struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisChallengeStore) Save(ctx context.Context, c Challenge) error {
	raw, err := json.Marshal(storedChallenge{Message: c.Message, ExpiresAt: c.ExpiresAt})
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, challengeKeyPrefix+c.Account.String(), raw, ttl).Err()
}

func (s *RedisChallengeStore) Consume(ctx context.Context, account id.Address, now time.Time) (Challenge, error) {
	raw, err := s.client.GetDel(ctx, challengeKeyPrefix+account.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, fmt.Errorf("challenge for %s: %w", account, sentinel.ErrNotFound)
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	var stored storedChallenge
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if !now.Before(stored.ExpiresAt) {
		return Challenge{}, fmt.Errorf("challenge for %s: %w", account, sentinel.ErrExpired)
	}
	return Challenge{Account: account, Message: stored.Message, ExpiresAt: stored.ExpiresAt}, nil
}
