package service

import (
	"context"
	"strings"

	"certledger/internal/confidential"
	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/requestcontext"
)

// RegistryInfo returns the ledger header: owner and registry address.
func (s *Service) RegistryInfo(ctx context.Context) (models.Registry, error) {
	return s.registry(ctx)
}

// VerifyCertificate returns the public fields of a certificate that exists, is
// unrevoked and is unexpired. Handles are never part of the result.
func (s *Service) VerifyCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, error) {
	now := requestcontext.Now(ctx)
	if cert, ok := s.cachedCertificate(ctx, certID); ok {
		if err := checkValidAt(cert, now); err != nil {
			return models.Certificate{}, err
		}
		return cert, nil
	}

	cert, err := s.validUnexpired(ctx, certID, now)
	if err != nil {
		return models.Certificate{}, err
	}
	cert = publicView(cert)
	s.fillCache(ctx, cert)
	return cert, nil
}

// fillCache stores cert and then re-reads the ledger. A revoke or extend that
// committed between the first read and the Set has already run its invalidation,
// so the entry just written would outlive it; the re-read drops it instead.
func (s *Service) fillCache(ctx context.Context, cert models.Certificate) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cert); err != nil {
		s.logger.WarnContext(ctx, "failed to cache certificate",
			"certificate_id", cert.ID.String(),
			"error", err,
		)
		return
	}
	current, err := s.store.FindCertificate(ctx, cert.ID)
	if err != nil || current.IsValid != cert.IsValid || !current.ExpiresAt.Equal(cert.ExpiresAt) {
		s.invalidate(ctx, cert.ID)
	}
}

func (s *Service) cachedCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, bool) {
	if s.cache == nil {
		return models.Certificate{}, false
	}
	cert, ok, err := s.cache.Get(ctx, certID)
	if err != nil {
		s.logger.WarnContext(ctx, "certificate cache read failed",
			"certificate_id", certID.String(),
			"error", err,
		)
		return models.Certificate{}, false
	}
	s.metrics.IncCache(ok)
	return cert, ok
}

func publicView(cert models.Certificate) models.Certificate {
	cert.ScoreHandle = ""
	cert.LevelHandle = ""
	return cert
}

// GetHolderCertificates lists every certificate id ever minted for holder, in
// issuance order, including revoked and expired ones.
func (s *Service) GetHolderCertificates(ctx context.Context, holder id.Address) ([]id.CertificateID, error) {
	if holder.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder address is required")
	}
	ids, err := s.store.ListHolderCertificates(ctx, holder)
	if err != nil {
		return nil, translate(err, "holder not found")
	}
	return ids, nil
}

func (s *Service) GetCertificateCount(ctx context.Context) (uint64, error) {
	n, err := s.store.CountCertificates(ctx)
	return n, translate(err, "certificates not found")
}

func (s *Service) GetRequestCount(ctx context.Context) (uint64, error) {
	n, err := s.store.CountRequests(ctx)
	return n, translate(err, "requests not found")
}

func (s *Service) GetProfessionRequirements(ctx context.Context, profession string) (models.ProfessionRequirement, error) {
	profession = strings.TrimSpace(profession)
	if err := models.ValidateProfession(profession); err != nil {
		return models.ProfessionRequirement{}, err
	}
	req, err := s.store.FindRequirement(ctx, profession)
	if err != nil {
		return models.ProfessionRequirement{}, translate(err, "no requirements set for profession")
	}
	return req, nil
}

// GetEncryptedScore returns the score handle of a valid certificate to its holder,
// an authorized issuer, or the owner.
func (s *Service) GetEncryptedScore(ctx context.Context, caller id.Address, certID id.CertificateID) (confidential.Handle, error) {
	cert, err := s.readableCertificate(ctx, caller, certID)
	if err != nil {
		return "", err
	}
	return cert.ScoreHandle, nil
}

// GetEncryptedLevel is GetEncryptedScore for the level handle.
func (s *Service) GetEncryptedLevel(ctx context.Context, caller id.Address, certID id.CertificateID) (confidential.Handle, error) {
	cert, err := s.readableCertificate(ctx, caller, certID)
	if err != nil {
		return "", err
	}
	return cert.LevelHandle, nil
}

func (s *Service) readableCertificate(ctx context.Context, caller id.Address, certID id.CertificateID) (models.Certificate, error) {
	if err := requireCaller(caller); err != nil {
		return models.Certificate{}, err
	}
	cert, err := s.validUnexpired(ctx, certID, requestcontext.Now(ctx))
	if err != nil {
		return models.Certificate{}, err
	}
	if err := s.requireHandleReader(ctx, caller, cert); err != nil {
		return models.Certificate{}, err
	}
	return cert, nil
}

// GetRequest shows a request to its applicant, authorized issuers and the owner.
func (s *Service) GetRequest(ctx context.Context, caller id.Address, reqID id.RequestID) (models.CertificationRequest, error) {
	if err := requireCaller(caller); err != nil {
		return models.CertificationRequest{}, err
	}
	req, err := s.store.FindRequest(ctx, reqID)
	if err != nil {
		return models.CertificationRequest{}, translate(err, "certification request not found")
	}
	if req.Applicant == caller {
		return req, nil
	}
	ok, err := s.isAuthorizedIssuer(ctx, caller)
	if err != nil {
		return models.CertificationRequest{}, err
	}
	if !ok {
		return models.CertificationRequest{}, dErrors.New(dErrors.CodeForbidden, "caller may not view this request")
	}
	return req, nil
}

// ListPendingRequests is the issuer work queue, oldest first.
func (s *Service) ListPendingRequests(ctx context.Context, caller id.Address, limit int) ([]models.CertificationRequest, error) {
	if err := s.requireIssuer(ctx, caller); err != nil {
		return nil, err
	}
	reqs, err := s.store.ListPendingRequests(ctx, pageSize(limit))
	if err != nil {
		return nil, translate(err, "requests not found")
	}
	return reqs, nil
}

// ListEvents returns ledger events with sequence numbers after afterSeq.
func (s *Service) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]models.Event, error) {
	events, err := s.store.ListEvents(ctx, afterSeq, pageSize(limit))
	if err != nil {
		return nil, translate(err, "events not found")
	}
	return events, nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
