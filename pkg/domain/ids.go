package domain

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "certledger/pkg/domain-errors"
)

// Address identifies an account on the ledger (applicant, issuer, owner, registry).
// The zero address is never a valid caller.
type Address common.Address

// ParseAddress validates a 0x-prefixed hex account address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if !common.IsHexAddress(s) {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "invalid address format")
	}
	addr := Address(common.HexToAddress(s))
	if addr.IsZero() {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "zero address is not allowed")
	}
	return addr, nil
}

// String returns the EIP-55 checksummed form.
func (a Address) String() string {
	return common.Address(a).Hex()
}

// Bytes returns the raw 20 address bytes.
func (a Address) Bytes() []byte {
	return common.Address(a).Bytes()
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// RequestID is the ledger index of a certification request. Ids start at 1.
type RequestID uint64

// CertificateID is the ledger index of a certificate. Ids start at 1.
type CertificateID uint64

// ParseRequestID parses a positive decimal request id.
func ParseRequestID(s string) (RequestID, error) {
	n, err := parsePositiveID(s, "request id")
	return RequestID(n), err
}

// ParseCertificateID parses a positive decimal certificate id.
func ParseCertificateID(s string) (CertificateID, error) {
	n, err := parsePositiveID(s, "certificate id")
	return CertificateID(n), err
}

func (id RequestID) String() string     { return strconv.FormatUint(uint64(id), 10) }
func (id CertificateID) String() string { return strconv.FormatUint(uint64(id), 10) }

func parsePositiveID(s, field string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, field+" must be positive")
	}
	return n, nil
}
