package cache

import (
	"context"
	"log/slog"
	"sync"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/circuit"
)

// Backend is a verify cache implementation.
type Backend interface {
	Get(ctx context.Context, certID id.CertificateID) (models.Certificate, bool, error)
	Set(ctx context.Context, cert models.Certificate) error
	Invalidate(ctx context.Context, certID id.CertificateID) error
}

// GuardedCache fronts a shared cache with an in-process fallback. While the
// breaker is open, reads are answered from the fallback. Invalidations the
// primary missed are replayed before its answers are trusted again.
type GuardedCache struct {
	primary  Backend
	fallback *InMemoryCache
	breaker  *circuit.Breaker
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[id.CertificateID]struct{}
}

func NewGuardedCache(primary Backend, fallback *InMemoryCache, breaker *circuit.Breaker, logger *slog.Logger) *GuardedCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedCache{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   logger,
		pending:  make(map[id.CertificateID]struct{}),
	}
}

func (c *GuardedCache) Get(ctx context.Context, certID id.CertificateID) (models.Certificate, bool, error) {
	pending := c.isPending(certID)
	cert, ok, err := c.primary.Get(ctx, certID)
	if err != nil {
		c.failed(ctx, "get", err)
		return c.fallback.Get(ctx, certID)
	}
	if !c.succeeded(ctx) || pending {
		return c.fallback.Get(ctx, certID)
	}
	return cert, ok, nil
}

func (c *GuardedCache) Set(ctx context.Context, cert models.Certificate) error {
	_ = c.fallback.Set(ctx, cert)
	if c.isPending(cert.ID) {
		return nil
	}
	if err := c.primary.Set(ctx, cert); err != nil {
		c.failed(ctx, "set", err)
		return nil
	}
	c.succeeded(ctx)
	return nil
}

func (c *GuardedCache) Invalidate(ctx context.Context, certID id.CertificateID) error {
	_ = c.fallback.Invalidate(ctx, certID)
	if err := c.primary.Invalidate(ctx, certID); err != nil {
		c.mu.Lock()
		c.pending[certID] = struct{}{}
		c.mu.Unlock()
		c.failed(ctx, "invalidate", err)
		return nil
	}
	c.succeeded(ctx)
	return nil
}

func (c *GuardedCache) isPending(certID id.CertificateID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[certID]
	return ok
}

func (c *GuardedCache) failed(ctx context.Context, op string, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "verify cache circuit opened, serving from local fallback",
			"breaker", c.breaker.Name(),
			"operation", op,
			"error", err,
		)
	}
}

// succeeded records a primary success and reports whether its answers are
// trusted. Pending invalidations are replayed first.
func (c *GuardedCache) succeeded(ctx context.Context) bool {
	usePrimary, change := c.breaker.RecordSuccess()
	if change.Closed {
		c.logger.InfoContext(ctx, "verify cache circuit closed", "breaker", c.breaker.Name())
	}
	if usePrimary {
		c.replayInvalidations(ctx)
	}
	return usePrimary
}

func (c *GuardedCache) replayInvalidations(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for certID := range c.pending {
		if err := c.primary.Invalidate(ctx, certID); err != nil {
			return
		}
		delete(c.pending, certID)
	}
}
