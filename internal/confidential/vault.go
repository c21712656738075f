package confidential

import (
	"context"
	"fmt"
	"sync"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// Vault holds sealed values and their grants. Handles stored in the ledger stay
// usable for as long as the vault keeps them, so a durable ledger needs a durable
// vault.
type Vault interface {
	PutSealed(ctx context.Context, h Handle, blob []byte) error
	// Sealed returns sentinel.ErrNotFound for an unknown handle.
	Sealed(ctx context.Context, h Handle) ([]byte, error)
	// Grant returns sentinel.ErrNotFound for an unknown handle.
	Grant(ctx context.Context, h Handle, account id.Address) error
	// Granted returns sentinel.ErrNotFound for an unknown handle.
	Granted(ctx context.Context, h Handle, account id.Address) (bool, error)
}

// MemoryVault keeps sealed values in process memory. Its writes are not part of
// any ledger transaction.
type MemoryVault struct {
	mu     sync.RWMutex
	sealed map[Handle][]byte
	acl    map[Handle]map[id.Address]struct{}
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		sealed: make(map[Handle][]byte),
		acl:    make(map[Handle]map[id.Address]struct{}),
	}
}

func (v *MemoryVault) PutSealed(_ context.Context, h Handle, blob []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.sealed[h]; ok {
		return fmt.Errorf("handle %s: %w", h, sentinel.ErrConflict)
	}
	v.sealed[h] = blob
	v.acl[h] = make(map[id.Address]struct{})
	return nil
}

func (v *MemoryVault) Sealed(_ context.Context, h Handle) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	blob, ok := v.sealed[h]
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", h, sentinel.ErrNotFound)
	}
	return blob, nil
}

func (v *MemoryVault) Grant(_ context.Context, h Handle, account id.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	grants, ok := v.acl[h]
	if !ok {
		return fmt.Errorf("handle %s: %w", h, sentinel.ErrNotFound)
	}
	grants[account] = struct{}{}
	return nil
}

func (v *MemoryVault) Granted(_ context.Context, h Handle, account id.Address) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	grants, ok := v.acl[h]
	if !ok {
		return false, fmt.Errorf("handle %s: %w", h, sentinel.ErrNotFound)
	}
	_, allowed := grants[account]
	return allowed, nil
}
