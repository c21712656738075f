package handler

import (
	"time"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

type ChainResponse struct {
	ChainID         uint64 `json:"chain_id"`
	RegistryAddress string `json:"registry_address"`
	Owner           string `json:"owner"`
}

type SubmitRequest struct {
	Profession string `json:"profession"`
	Score      *int   `json:"score"`
	Level      *int   `json:"level"`
	Evidence   string `json:"evidence"`
}

func (r *SubmitRequest) Validate() error {
	if r.Score == nil {
		return dErrors.New(dErrors.CodeValidation, "score is required")
	}
	if r.Level == nil {
		return dErrors.New(dErrors.CodeValidation, "level is required")
	}
	return models.ValidateSubmission(r.Profession, *r.Score, *r.Level, r.Evidence)
}

type ProcessRequest struct {
	IssuerName string `json:"issuer_name"`
}

func (r *ProcessRequest) Validate() error {
	return models.ValidateIssuerName(r.IssuerName)
}

type RevokeRequest struct {
	Reason string `json:"reason"`
}

func (r *RevokeRequest) Validate() error {
	return models.ValidateReason(r.Reason)
}

type ExtendRequest struct {
	AdditionalDays int `json:"additional_days"`
}

// Validate checks only the lower bound; the configured cap is the service's call.
func (r *ExtendRequest) Validate() error {
	return models.ValidateExtension(r.AdditionalDays, 0)
}

type AuthorizeIssuerRequest struct {
	Address      string `json:"address"`
	Organization string `json:"organization"`

	issuer id.Address
}

func (r *AuthorizeIssuerRequest) Validate() error {
	issuer, err := id.ParseAddress(r.Address)
	if err != nil {
		return err
	}
	if err := models.ValidateOrganization(r.Organization); err != nil {
		return err
	}
	r.issuer = issuer
	return nil
}

type RequirementRequest struct {
	MinScore *int `json:"min_score"`
	MinLevel *int `json:"min_level"`
}

func (r *RequirementRequest) Validate() error {
	if r.MinScore == nil || r.MinLevel == nil {
		return dErrors.New(dErrors.CodeValidation, "min_score and min_level are required")
	}
	return nil
}

type RequestResponse struct {
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

func toRequestResponse(req models.CertificationRequest) RequestResponse {
	resp := RequestResponse{
		ID:            uint64(req.ID),
		Applicant:     req.Applicant.String(),
		Profession:    req.Profession,
		Status:        string(req.Status()),
		Evidence:      req.Evidence,
		ScoreHandle:   req.ScoreHandle.String(),
		LevelHandle:   req.LevelHandle.String(),
		SubmittedAt:   req.SubmittedAt,
		ProcessedAt:   req.ProcessedAt,
		CertificateID: uint64(req.CertificateID),
	}
	if !req.ProcessedBy.IsZero() {
		resp.ProcessedBy = req.ProcessedBy.String()
	}
	return resp
}

type RequestListResponse struct {
	Requests []RequestResponse `json:"requests"`
}

type ProcessResponse struct {
	Request     RequestResponse      `json:"request"`
	Approved    bool                 `json:"approved"`
	Reason      string               `json:"reason,omitempty"`
	Certificate *CertificateResponse `json:"certificate,omitempty"`
}

// CertificateResponse never carries the encrypted handles; those have their own
// access-checked endpoints.
type CertificateResponse struct {
	ID             uint64     `json:"id"`
	RequestID      uint64     `json:"request_id"`
	Holder         string     `json:"holder"`
	Profession     string     `json:"profession"`
	IsValid        bool       `json:"is_valid"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	IssuerName     string     `json:"issuer_name"`
	CredentialHash string     `json:"credential_hash"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	Reason         string     `json:"revocation_reason,omitempty"`
}

func toCertificateResponse(cert models.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:             uint64(cert.ID),
		RequestID:      uint64(cert.RequestID),
		Holder:         cert.Holder.String(),
		Profession:     cert.Profession,
		IsValid:        cert.IsValid,
		IssuedAt:       cert.IssuedAt,
		ExpiresAt:      cert.ExpiresAt,
		IssuerName:     cert.IssuerName,
		CredentialHash: cert.CredentialHash,
		RevokedAt:      cert.RevokedAt,
		Reason:         cert.RevocationReason,
	}
}

type CertificateIDsResponse struct {
	CertificateIDs []uint64 `json:"certificate_ids"`
}

func toCertificateIDs(ids []id.CertificateID) CertificateIDsResponse {
	out := make([]uint64, 0, len(ids))
	for _, certID := range ids {
		out = append(out, uint64(certID))
	}
	return CertificateIDsResponse{CertificateIDs: out}
}

type HandleResponse struct {
	CertificateID uint64 `json:"certificate_id"`
	Handle        string `json:"handle"`
}

type StatsResponse struct {
	CertificateCount uint64 `json:"certificate_count"`
	RequestCount     uint64 `json:"request_count"`
}

type RequirementResponse struct {
	Profession string    `json:"profession"`
	MinScore   int       `json:"min_score"`
	MinLevel   int       `json:"min_level"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toRequirementResponse(req models.ProfessionRequirement) RequirementResponse {
	return RequirementResponse{
		Profession: req.Profession,
		MinScore:   req.MinScore,
		MinLevel:   req.MinLevel,
		UpdatedAt:  req.UpdatedAt,
	}
}

type IssuerResponse struct {
	Address      string    `json:"address"`
	Authorized   bool      `json:"authorized"`
	Organization string    `json:"organization,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toIssuerResponse(auth models.IssuerAuthorization) IssuerResponse {
	return IssuerResponse{
		Address:      auth.Issuer.String(),
		Authorized:   auth.Authorized,
		Organization: auth.Organization,
		UpdatedAt:    auth.UpdatedAt,
	}
}

type EventResponse struct {
	Seq           uint64    `json:"seq"`
	Type          string    `json:"type"`
	RequestID     uint64    `json:"request_id,omitempty"`
	CertificateID uint64    `json:"certificate_id,omitempty"`
	Account       string    `json:"account,omitempty"`
	Profession    string    `json:"profession,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
}

func toEventList(events []models.Event) EventListResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		resp := EventResponse{
			Seq:           ev.Seq,
			Type:          string(ev.Type),
			RequestID:     uint64(ev.RequestID),
			CertificateID: uint64(ev.CertificateID),
			Profession:    ev.Profession,
			Detail:        ev.Detail,
			OccurredAt:    ev.OccurredAt,
		}
		if !ev.Account.IsZero() {
			resp.Account = ev.Account.String()
		}
		out = append(out, resp)
	}
	return EventListResponse{Events: out}
}
