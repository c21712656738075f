package models

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	id "certledger/pkg/domain"
)

// CredentialHash digests holder, profession, issue time and certificate id with
// Keccak-256 over their packed encoding (20-byte address, raw string bytes, two
// 32-byte big-endian words). It is a lookup convenience and does not commit to
// the encrypted score or level.
func CredentialHash(holder id.Address, profession string, issuedAt time.Time, certID id.CertificateID) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(holder.Bytes())
	h.Write([]byte(profession))
	h.Write(uint256Word(uint64(issuedAt.Unix())))
	h.Write(uint256Word(uint64(certID)))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func uint256Word(v uint64) []byte {
	word := make([]byte, 32)
	binary.BigEndian.PutUint64(word[24:], v)
	return word
}
