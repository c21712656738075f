package cache

import (
	"context"
	"sync"
	"time"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
)

// InMemoryCache is the single-process fallback when Redis is not configured.
type InMemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[id.CertificateID]memoryEntry
}

type memoryEntry struct {
	cert      models.Certificate
	expiresAt time.Time
}

func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &InMemoryCache{ttl: ttl, now: time.Now, entries: make(map[id.CertificateID]memoryEntry)}
}

func (c *InMemoryCache) Get(_ context.Context, certID id.CertificateID) (models.Certificate, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[certID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return models.Certificate{}, false, nil
	}
	return entry.cert, true, nil
}

func (c *InMemoryCache) Set(_ context.Context, cert models.Certificate) error {
	public := fromModel(cert).toModel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cert.ID] = memoryEntry{cert: public, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *InMemoryCache) Invalidate(_ context.Context, certID id.CertificateID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, certID)
	return nil
}
