package confidential

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/insecurecleartextkeyset"
	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/subtle/random"
	"github.com/google/tink/go/tink"

	id "certledger/pkg/domain"
)

// TinkEngine stands in for the confidential network in standalone deployments.
// Values are sealed with a Tink AEAD primitive and bound to their handle as
// associated data. Sealed blobs and grants live in a Vault.
type TinkEngine struct {
	primitive tink.AEAD
	self      id.Address
	vault     Vault
}

type EngineOption func(*TinkEngine)

// WithVault sets where sealed values and grants are kept. The default is a
// MemoryVault.
func WithVault(v Vault) EngineOption {
	return func(e *TinkEngine) {
		e.vault = v
	}
}

// NewTinkEngine builds an engine for the registry account self. keysetJSON is a
// cleartext JSON keyset; when empty an ephemeral AES-256-GCM keyset is generated.
func NewTinkEngine(self id.Address, keysetJSON string, opts ...EngineOption) (*TinkEngine, error) {
	kh, err := loadKeyset(keysetJSON)
	if err != nil {
		return nil, err
	}
	primitive, err := aead.New(kh)
	if err != nil {
		return nil, fmt.Errorf("build aead primitive: %w", err)
	}
	e := &TinkEngine{primitive: primitive, self: self}
	for _, opt := range opts {
		opt(e)
	}
	if e.vault == nil {
		e.vault = NewMemoryVault()
	}
	return e, nil
}

func loadKeyset(keysetJSON string) (*keyset.Handle, error) {
	if strings.TrimSpace(keysetJSON) == "" {
		kh, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
		if err != nil {
			return nil, fmt.Errorf("generate keyset: %w", err)
		}
		return kh, nil
	}
	kh, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(strings.NewReader(keysetJSON)))
	if err != nil {
		return nil, fmt.Errorf("read keyset: %w", err)
	}
	return kh, nil
}

func (e *TinkEngine) Encrypt(ctx context.Context, value uint64) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := Handle("0x" + hex.EncodeToString(random.GetRandomBytes(handleBytes)))

	var plaintext [8]byte
	binary.BigEndian.PutUint64(plaintext[:], value)
	blob, err := e.primitive.Encrypt(plaintext[:], []byte(h))
	if err != nil {
		return "", fmt.Errorf("seal value: %w", err)
	}
	if err := e.vault.PutSealed(ctx, h, blob); err != nil {
		return "", err
	}
	return h, nil
}

func (e *TinkEngine) Allow(ctx context.Context, h Handle, account id.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.vault.Grant(ctx, h, account); err != nil {
		return fmt.Errorf("allow %s: %w", h, err)
	}
	return nil
}

func (e *TinkEngine) AllowThis(ctx context.Context, h Handle) error {
	return e.Allow(ctx, h, e.self)
}

func (e *TinkEngine) IsAllowed(ctx context.Context, h Handle, account id.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	allowed, err := e.vault.Granted(ctx, h, account)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", h, err)
	}
	return allowed, nil
}

// unseal is the network-side decrypt, kept unexported so only tests in this package
// can prove the sealed value round-trips.
func (e *TinkEngine) unseal(ctx context.Context, h Handle) (uint64, error) {
	blob, err := e.vault.Sealed(ctx, h)
	if err != nil {
		return 0, err
	}
	plaintext, err := e.primitive.Decrypt(blob, []byte(h))
	if err != nil {
		return 0, fmt.Errorf("unseal value: %w", err)
	}
	return binary.BigEndian.Uint64(plaintext), nil
}
