package models

import (
	"time"

	"certledger/internal/confidential"
	id "certledger/pkg/domain"
)

// RequestStatus is the externally visible state of a certification request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Registry is the singleton ledger header. Owner is fixed when the registry is
// created and never transferred.
type Registry struct {
	Owner     id.Address
	Address   id.Address
	CreatedAt time.Time
}

// CertificationRequest is an applicant's submission. It is mutated exactly once,
// when an issuer processes it, and never deleted.
type CertificationRequest struct {
	ID          id.RequestID
	Applicant   id.Address
	Profession  string
	ScoreHandle confidential.Handle
	LevelHandle confidential.Handle
	Processed   bool
	Approved    bool
	SubmittedAt time.Time
	Evidence    string

	ProcessedAt   *time.Time
	ProcessedBy   id.Address
	CertificateID id.CertificateID // zero unless approved
}

// Status derives the request state from the processed and approved flags.
func (r CertificationRequest) Status() RequestStatus {
	switch {
	case !r.Processed:
		return RequestStatusPending
	case r.Approved:
		return RequestStatusApproved
	default:
		return RequestStatusRejected
	}
}

// Certificate is minted from an approved request. IsValid only ever moves from
// true to false.
type Certificate struct {
	ID             id.CertificateID
	RequestID      id.RequestID
	Holder         id.Address
	Profession     string
	ScoreHandle    confidential.Handle
	LevelHandle    confidential.Handle
	IsValid        bool
	IssuedAt       time.Time
	ExpiresAt      time.Time
	IssuerName     string
	CredentialHash string

	RevokedAt        *time.Time
	RevocationReason string
}

// IsValidAt reports whether the certificate is unrevoked and unexpired at now.
// Expiry is exclusive: a certificate is expired at its expiry instant.
func (c Certificate) IsValidAt(now time.Time) bool {
	return c.IsValid && now.Before(c.ExpiresAt)
}

// IssuerAuthorization records whether an address may act as an issuer.
type IssuerAuthorization struct {
	Issuer       id.Address
	Authorized   bool
	Organization string
	UpdatedAt    time.Time
}

// ProfessionRequirement is the per-profession minimum the registry advertises.
type ProfessionRequirement struct {
	Profession string
	MinScore   int
	MinLevel   int
	UpdatedAt  time.Time
}

// DefaultRequirements is seeded when a registry is created.
func DefaultRequirements(at time.Time) []ProfessionRequirement {
	return []ProfessionRequirement{
		{Profession: "Software Engineer", MinScore: 70, MinLevel: 3, UpdatedAt: at},
		{Profession: "Data Scientist", MinScore: 75, MinLevel: 4, UpdatedAt: at},
		{Profession: "Security Analyst", MinScore: 80, MinLevel: 5, UpdatedAt: at},
		{Profession: "Project Manager", MinScore: 65, MinLevel: 3, UpdatedAt: at},
	}
}
