package wallet

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// SessionClaims are the claims of a wallet session token. Subject is the
// checksummed account address.
type SessionClaims struct {
	ChainID string `json:"chain_id"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 session tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	chainID    uint64
	now        func() time.Time
}

func NewTokenService(signingKey, issuer string, chainID uint64) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		chainID:    chainID,
		now:        time.Now,
	}
}

// Issue mints a session token for account that expires after ttl.
func (s *TokenService) Issue(account id.Address, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		ChainID: strconv.FormatUint(s.chainID, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session token")
	}
	return signed, expiresAt, nil
}

// ValidateSession resolves a token to its account. Tokens minted for another
// chain or issuer are rejected.
func (s *TokenService) ValidateSession(tokenString string) (id.Address, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.Address{}, dErrors.New(dErrors.CodeUnauthorized, "session has expired")
		}
		return id.Address{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return id.Address{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	if claims.ChainID != strconv.FormatUint(s.chainID, 10) {
		return id.Address{}, dErrors.New(dErrors.CodeUnauthorized, "session token is for another chain")
	}
	account, err := id.ParseAddress(claims.Subject)
	if err != nil {
		return id.Address{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session subject")
	}
	return account, nil
}
