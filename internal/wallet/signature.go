package wallet

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// RecoverSigner returns the account that produced an EIP-191 personal_sign
// signature over message. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverSigner(message, signatureHex string) (id.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return id.Address{}, dErrors.New(dErrors.CodeInvalidInput, "malformed signature")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return id.Address{}, dErrors.New(dErrors.CodeUnauthorized, "signature does not recover")
	}
	return id.Address(crypto.PubkeyToAddress(*pub)), nil
}
