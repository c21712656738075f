// Package cache keeps recently verified certificates close to the read path.
// Entries are dropped by the service on revoke and extend; the TTL bounds how long a
// missed invalidation can linger.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
)

const certificateKeyPrefix = "certledger:cert:"

// RedisCache shares verified certificates across server replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisCacheOption func(*RedisCache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{client: client, ttl: 5 * time.Minute}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func certificateKey(certID id.CertificateID) string {
	return certificateKeyPrefix + certID.String()
}

func (c *RedisCache) Get(ctx context.Context, certID id.CertificateID) (models.Certificate, bool, error) {
	raw, err := c.client.Get(ctx, certificateKey(certID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Certificate{}, false, nil
	}
	if err != nil {
		return models.Certificate{}, false, fmt.Errorf("read cached certificate: %w", err)
	}
	var entry cachedCertificate
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.Certificate{}, false, fmt.Errorf("decode cached certificate: %w", err)
	}
	return entry.toModel(), true, nil
}

func (c *RedisCache) Set(ctx context.Context, cert models.Certificate) error {
	raw, err := json.Marshal(fromModel(cert))
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	return c.client.Set(ctx, certificateKey(cert.ID), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, certID id.CertificateID) error {
	return c.client.Del(ctx, certificateKey(certID)).Err()
}

// cachedCertificate is the public projection of a certificate. Handles are left
// out so the cache never serves them.
type cachedCertificate struct {
	ID             uint64     `json:"id"`
	RequestID      uint64     `json:"request_id"`
	Holder         id.Address `json:"holder"`
	Profession     string     `json:"profession"`
	IsValid        bool       `json:"is_valid"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	IssuerName     string     `json:"issuer_name"`
	CredentialHash string     `json:"credential_hash"`
}

func fromModel(cert models.Certificate) cachedCertificate {
	return cachedCertificate{
		ID:             uint64(cert.ID),
		RequestID:      uint64(cert.RequestID),
		Holder:         cert.Holder,
		Profession:     cert.Profession,
		IsValid:        cert.IsValid,
		IssuedAt:       cert.IssuedAt,
		ExpiresAt:      cert.ExpiresAt,
		IssuerName:     cert.IssuerName,
		CredentialHash: cert.CredentialHash,
	}
}

func (c cachedCertificate) toModel() models.Certificate {
	return models.Certificate{
		ID:             id.CertificateID(c.ID),
		RequestID:      id.RequestID(c.RequestID),
		Holder:         c.Holder,
		Profession:     c.Profession,
		IsValid:        c.IsValid,
		IssuedAt:       c.IssuedAt,
		ExpiresAt:      c.ExpiresAt,
		IssuerName:     c.IssuerName,
		CredentialHash: c.CredentialHash,
	}
}
