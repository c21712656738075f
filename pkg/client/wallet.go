package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	id "certledger/pkg/domain"
)

// Wallet is the account the client acts as.
type Wallet interface {
	Address() id.Address
	// SignMessage returns a 0x-hex EIP-191 personal_sign signature.
	SignMessage(ctx context.Context, message string) (string, error)
}

// KeyWallet signs with an in-process secp256k1 key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address id.Address
}

// NewKeyWallet loads a hex private key, with or without 0x prefix.
func NewKeyWallet(hexKey string) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	return NewKeyWalletFromKey(key), nil
}

func NewKeyWalletFromKey(key *ecdsa.PrivateKey) *KeyWallet {
	return &KeyWallet{key: key, address: id.Address(crypto.PubkeyToAddress(key.PublicKey))}
}

func (w *KeyWallet) Address() id.Address { return w.address }

func (w *KeyWallet) SignMessage(_ context.Context, message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
