// Package confidential is the boundary to the confidential-computation network.
//
// The registry never sees plaintext after submission. It converts inputs into opaque
// handles, grants handle access to accounts, and stores the handles. There is no
// decrypt operation on this side of the boundary.
package confidential

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks certledger/internal/confidential Engine

import (
	"context"
	"encoding/hex"
	"strings"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// handleBytes is the size of a handle reference.
const handleBytes = 32

// Handle is an opaque reference to a sealed 64-bit value.
type Handle string

// Engine is the capability the registry consumes: encrypt, grant, and check grants.
//
// The registry calls Encrypt and Allow inside its ledger transaction. Whether those
// effects roll back with a failed write depends on the engine's Vault: PostgresVault
// joins the transaction, MemoryVault does not and keeps orphaned handles (with their
// grants) that no ledger row refers to.
type Engine interface {
	// Encrypt seals value and returns a fresh handle with an empty ACL.
	Encrypt(ctx context.Context, value uint64) (Handle, error)
	// Allow grants account the right to reference h.
	Allow(ctx context.Context, h Handle, account id.Address) error
	// AllowThis grants the registry itself the right to reference h.
	AllowThis(ctx context.Context, h Handle) error
	// IsAllowed reports whether account may reference h.
	IsAllowed(ctx context.Context, h Handle, account id.Address) (bool, error)
}

// ParseHandle checks the wire form: 0x followed by 64 hex characters.
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	raw, ok := strings.CutPrefix(s, "0x")
	if !ok || len(raw) != handleBytes*2 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid ciphertext handle")
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid ciphertext handle")
	}
	return Handle(strings.ToLower(s)), nil
}

func (h Handle) String() string { return string(h) }

// IsZero reports an unset handle.
func (h Handle) IsZero() bool { return h == "" }
