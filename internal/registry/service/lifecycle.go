package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"certledger/internal/confidential"
	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// SubmitCommand carries an applicant's plaintext inputs. Score and level leave
// this struct only as ciphertext handles.
type SubmitCommand struct {
	Profession string
	Score      int
	Level      int
	Evidence   string
}

// ProcessResult reports the decision and, on approval, the minted certificate.
type ProcessResult struct {
	Request     models.CertificationRequest
	Certificate *models.Certificate
	Decision    Decision
}

const defaultRejectionReason = "requirements not met"

// RequestCertification encrypts the score and level, grants the applicant and the
// registry access to both handles, and appends a pending request. Sealing runs in
// the ledger transaction so a vault that joins it rolls back with the request.
func (s *Service) RequestCertification(ctx context.Context, caller id.Address, cmd SubmitCommand) (req models.CertificationRequest, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "RequestCertification", attribute.String("profession", cmd.Profession))
	defer func() { s.finish(span, "submit", start, err) }()

	if err := requireCaller(caller); err != nil {
		return models.CertificationRequest{}, err
	}
	cmd.Profession = strings.TrimSpace(cmd.Profession)
	if err := models.ValidateSubmission(cmd.Profession, cmd.Score, cmd.Level, cmd.Evidence); err != nil {
		return models.CertificationRequest{}, err
	}

	now := requestcontext.Now(ctx)
	req = models.CertificationRequest{
		Applicant:   caller,
		Profession:  cmd.Profession,
		SubmittedAt: now,
		Evidence:    cmd.Evidence,
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if req.ScoreHandle, err = s.sealFor(ctx, uint64(cmd.Score), caller); err != nil {
			return err
		}
		if req.LevelHandle, err = s.sealFor(ctx, uint64(cmd.Level), caller); err != nil {
			return err
		}
		reqID, err := s.store.AppendRequest(ctx, req)
		if err != nil {
			return err
		}
		req.ID = reqID
		_, err = s.store.AppendEvent(ctx, models.CertificationRequested(reqID, caller, req.Profession, now))
		return err
	})
	if err != nil {
		return models.CertificationRequest{}, translate(err, "request not found")
	}

	s.metrics.IncSubmitted()
	s.logger.InfoContext(ctx, "certification requested",
		"request_id", requestcontext.RequestID(ctx),
		"certification_request", req.ID.String(),
		"applicant", caller.String(),
		"profession", req.Profession,
	)
	return req, nil
}

// sealFor encrypts value and grants account and the registry access to the handle.
func (s *Service) sealFor(ctx context.Context, value uint64, account id.Address) (confidential.Handle, error) {
	h, err := s.engine.Encrypt(ctx, value)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "confidential engine unavailable")
	}
	if err := s.engine.Allow(ctx, h, account); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "confidential engine unavailable")
	}
	if err := s.engine.AllowThis(ctx, h); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "confidential engine unavailable")
	}
	return h, nil
}

// ProcessCertificationRequest moves a pending request to processed. On approval a
// certificate is minted for the applicant in the same transaction.
func (s *Service) ProcessCertificationRequest(ctx context.Context, caller id.Address, reqID id.RequestID, issuerName string) (result ProcessResult, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "ProcessCertificationRequest", attribute.Int64("certification_request", int64(reqID)))
	defer func() { s.finish(span, "process", start, err) }()

	issuerName = strings.TrimSpace(issuerName)
	if err := models.ValidateIssuerName(issuerName); err != nil {
		return ProcessResult{}, err
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireIssuer(ctx, caller); err != nil {
			return err
		}
		req, err := s.store.FindRequest(ctx, reqID)
		if err != nil {
			return translate(err, "certification request not found")
		}
		if req.Processed {
			return dErrors.New(dErrors.CodeInvalidState, "certification request already processed")
		}

		minimum, err := s.store.FindRequirement(ctx, req.Profession)
		hasMinimum := err == nil
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return translate(err, "profession requirement not found")
		}
		decision, err := s.policy.Decide(ctx, req, minimum, hasMinimum)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "approval decision failed")
		}

		var certID id.CertificateID
		if decision.Approved {
			cert, err := s.mint(ctx, req, issuerName, now)
			if err != nil {
				return err
			}
			certID = cert.ID
			result.Certificate = &cert
		}
		if err := s.store.MarkRequestProcessed(ctx, reqID, decision.Approved, caller, now, certID); err != nil {
			return translate(err, "certification request not found")
		}

		ev := models.CertificationApproved(reqID, certID, now)
		if !decision.Approved {
			if decision.Reason == "" {
				decision.Reason = defaultRejectionReason
			}
			ev = models.CertificationRejected(reqID, decision.Reason, now)
		}
		if _, err := s.store.AppendEvent(ctx, ev); err != nil {
			return err
		}

		req.Processed = true
		req.Approved = decision.Approved
		req.ProcessedAt = &now
		req.ProcessedBy = caller
		req.CertificateID = certID
		result.Request = req
		result.Decision = decision
		return nil
	})
	if err != nil {
		return ProcessResult{}, translate(err, "certification request not found")
	}

	s.metrics.IncProcessed(result.Decision.Approved)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"certification_request", reqID.String(),
		"issuer", caller.String(),
		"approved", result.Decision.Approved,
	}
	if result.Certificate != nil {
		attrs = append(attrs, "certificate_id", result.Certificate.ID.String())
	}
	s.logger.InfoContext(ctx, "certification request processed", attrs...)
	return result, nil
}

// mint appends a certificate copied from req and grants the holder access to its
// handles. It must run inside the processing transaction.
func (s *Service) mint(ctx context.Context, req models.CertificationRequest, issuerName string, now time.Time) (models.Certificate, error) {
	certID, err := s.store.NextCertificateID(ctx)
	if err != nil {
		return models.Certificate{}, err
	}
	cert := models.Certificate{
		ID:             certID,
		RequestID:      req.ID,
		Holder:         req.Applicant,
		Profession:     req.Profession,
		ScoreHandle:    req.ScoreHandle,
		LevelHandle:    req.LevelHandle,
		IsValid:        true,
		IssuedAt:       now,
		ExpiresAt:      now.Add(CertificateValidity),
		IssuerName:     issuerName,
		CredentialHash: models.CredentialHash(req.Applicant, req.Profession, now, certID),
	}
	if err := s.store.InsertCertificate(ctx, cert); err != nil {
		return models.Certificate{}, err
	}
	for _, h := range []confidential.Handle{cert.ScoreHandle, cert.LevelHandle} {
		if err := s.engine.Allow(ctx, h, cert.Holder); err != nil {
			return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "confidential engine unavailable")
		}
	}
	return cert, nil
}
