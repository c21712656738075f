// Package wallet authenticates ledger callers by account signature.
//
// A client asks for a challenge, signs it with the account key (EIP-191
// personal_sign) and trades the signature for a short-lived session token. The
// token is what the HTTP layer resolves to a caller address.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// Session is an issued bearer token.
type Session struct {
	Account   id.Address
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	challenges   ChallengeStore
	tokens       *TokenService
	chainID      uint64
	registry     id.Address
	challengeTTL time.Duration
	sessionTTL   time.Duration
	logger       *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTTLs(challengeTTL, sessionTTL time.Duration) Option {
	return func(s *Service) {
		if challengeTTL > 0 {
			s.challengeTTL = challengeTTL
		}
		if sessionTTL > 0 {
			s.sessionTTL = sessionTTL
		}
	}
}

func NewService(challenges ChallengeStore, tokens *TokenService, chainID uint64, registry id.Address, opts ...Option) *Service {
	s := &Service{
		challenges:   challenges,
		tokens:       tokens,
		chainID:      chainID,
		registry:     registry,
		challengeTTL: 5 * time.Minute,
		sessionTTL:   time.Hour,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// IssueChallenge stores a fresh sign-in message for account, replacing any
// outstanding one.
func (s *Service) IssueChallenge(ctx context.Context, account id.Address) (Challenge, error) {
	if account.IsZero() {
		return Challenge{}, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	now := requestcontext.Now(ctx).UTC()
	c := Challenge{
		Account:   account,
		Message:   ChallengeMessage(account, s.chainID, s.registry, uuid.NewString(), now),
		ExpiresAt: now.Add(s.challengeTTL),
	}
	if err := s.challenges.Save(ctx, c); err != nil {
		return Challenge{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store challenge")
	}
	return c, nil
}

// ChallengeMessage renders the text the wallet signs.
func ChallengeMessage(account id.Address, chainID uint64, registry id.Address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("certledger sign-in\n\nAccount: %s\nRegistry: %s\nChain ID: %d\nNonce: %s\nIssued At: %s",
		account, registry, chainID, nonce, issuedAt.Format(time.RFC3339))
}

// CreateSession redeems the account's challenge. The signature must recover to
// the same account.
func (s *Service) CreateSession(ctx context.Context, account id.Address, signature string) (Session, error) {
	if account.IsZero() {
		return Session{}, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	c, err := s.challenges.Consume(ctx, account, requestcontext.Now(ctx))
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return Session{}, dErrors.New(dErrors.CodeUnauthorized, "no outstanding challenge for address")
	case errors.Is(err, sentinel.ErrExpired):
		return Session{}, dErrors.New(dErrors.CodeUnauthorized, "challenge has expired")
	case err != nil:
		return Session{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load challenge")
	}

	signer, err := RecoverSigner(c.Message, signature)
	if err != nil {
		return Session{}, err
	}
	if signer != account {
		s.logger.WarnContext(ctx, "challenge signed by another account",
			"request_id", requestcontext.RequestID(ctx),
			"address", account.String(),
			"signer", signer.String(),
		)
		return Session{}, dErrors.New(dErrors.CodeUnauthorized, "signature does not match address")
	}

	token, expiresAt, err := s.tokens.Issue(account, s.sessionTTL)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "wallet session created",
		"request_id", requestcontext.RequestID(ctx),
		"address", account.String(),
	)
	return Session{Account: account, Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateSession makes Service usable by the auth middleware directly.
func (s *Service) ValidateSession(token string) (id.Address, error) {
	return s.tokens.ValidateSession(token)
}
