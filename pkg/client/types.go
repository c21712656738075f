package client

import (
	"fmt"
	"time"
)

// ChainInfo identifies the ledger the client is connected to.
type ChainInfo struct {
	ChainID         uint64 `json:"chain_id"`
	RegistryAddress string `json:"registry_address"`
	Owner           string `json:"owner"`
}

type Submission struct {
	Profession string `json:"profession"`
	Score      int    `json:"score"`
	Level      int    `json:"level"`
	Evidence   string `json:"evidence"`
}

type Request struct {
	ID            uint64     `json:"id"`
	Applicant     string     `json:"applicant"`
	Profession    string     `json:"profession"`
	Status        string     `json:"status"`
	Evidence      string     `json:"evidence"`
	ScoreHandle   string     `json:"score_handle"`
	LevelHandle   string     `json:"level_handle"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ProcessedBy   string     `json:"processed_by,omitempty"`
	CertificateID uint64     `json:"certificate_id,omitempty"`
}

type Certificate struct {
	ID               uint64     `json:"id"`
	RequestID        uint64     `json:"request_id"`
	Holder           string     `json:"holder"`
	Profession       string     `json:"profession"`
	IsValid          bool       `json:"is_valid"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	IssuerName       string     `json:"issuer_name"`
	CredentialHash   string     `json:"credential_hash"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

type ProcessOutcome struct {
	Request     Request      `json:"request"`
	Approved    bool         `json:"approved"`
	Reason      string       `json:"reason,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty"`
}

type Requirement struct {
	Profession string    `json:"profession"`
	MinScore   int       `json:"min_score"`
	MinLevel   int       `json:"min_level"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Issuer struct {
	Address      string    `json:"address"`
	Authorized   bool      `json:"authorized"`
	Organization string    `json:"organization,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Stats struct {
	CertificateCount uint64 `json:"certificate_count"`
	RequestCount     uint64 `json:"request_count"`
}

type Event struct {
	Seq           uint64    `json:"seq"`
	Type          string    `json:"type"`
	RequestID     uint64    `json:"request_id,omitempty"`
	CertificateID uint64    `json:"certificate_id,omitempty"`
	Account       string    `json:"account,omitempty"`
	Profession    string    `json:"profession,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// APIError is a non-2xx response from the ledger.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("certledger: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("certledger: %d %s: %s", e.Status, e.Code, e.Description)
}
