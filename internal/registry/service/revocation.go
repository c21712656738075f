package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	"certledger/pkg/requestcontext"
)

// RevokeCertificate invalidates a valid, unexpired certificate. Revocation is
// permanent.
func (s *Service) RevokeCertificate(ctx context.Context, caller id.Address, certID id.CertificateID, reason string) (cert models.Certificate, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "RevokeCertificate", attribute.Int64("certificate_id", int64(certID)))
	defer func() { s.finish(span, "revoke", start, err) }()

	reason = strings.TrimSpace(reason)
	if err := models.ValidateReason(reason); err != nil {
		return models.Certificate{}, err
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireIssuer(ctx, caller); err != nil {
			return err
		}
		current, err := s.validUnexpired(ctx, certID, now)
		if err != nil {
			return err
		}
		cert = current
		cert.IsValid = false
		cert.RevokedAt = &now
		cert.RevocationReason = reason
		if err := s.store.UpdateCertificate(ctx, cert); err != nil {
			return err
		}
		_, err = s.store.AppendEvent(ctx, models.CertificateRevoked(certID, reason, now))
		return err
	})
	if err != nil {
		return models.Certificate{}, translate(err, "certificate not found")
	}

	s.invalidate(ctx, certID)
	s.metrics.IncRevoked()
	s.logger.InfoContext(ctx, "certificate revoked",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID.String(),
		"issuer", caller.String(),
		"reason", reason,
	)
	return cert, nil
}

// ExtendCertificateValidity pushes the expiry of a valid, unexpired certificate
// out by additionalDays.
func (s *Service) ExtendCertificateValidity(ctx context.Context, caller id.Address, certID id.CertificateID, additionalDays int) (cert models.Certificate, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "ExtendCertificateValidity",
		attribute.Int64("certificate_id", int64(certID)),
		attribute.Int("additional_days", additionalDays),
	)
	defer func() { s.finish(span, "extend", start, err) }()

	if err := models.ValidateExtension(additionalDays, s.maxExtensionDays); err != nil {
		return models.Certificate{}, err
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireIssuer(ctx, caller); err != nil {
			return err
		}
		current, err := s.validUnexpired(ctx, certID, now)
		if err != nil {
			return err
		}
		cert = current
		cert.ExpiresAt = cert.ExpiresAt.AddDate(0, 0, additionalDays)
		if err := s.store.UpdateCertificate(ctx, cert); err != nil {
			return err
		}
		_, err = s.store.AppendEvent(ctx, models.CertificateExtended(certID, additionalDays, now))
		return err
	})
	if err != nil {
		return models.Certificate{}, translate(err, "certificate not found")
	}

	s.invalidate(ctx, certID)
	s.metrics.IncExtended()
	s.logger.InfoContext(ctx, "certificate validity extended",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID.String(),
		"issuer", caller.String(),
		"additional_days", additionalDays,
		"expires_at", cert.ExpiresAt,
	)
	return cert, nil
}

// invalidate drops a cached verification. The write already committed, so a cache
// failure is logged and left to the entry TTL.
func (s *Service) invalidate(ctx context.Context, certID id.CertificateID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, certID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cached certificate",
			"certificate_id", certID.String(),
			"error", err,
		)
	}
}
