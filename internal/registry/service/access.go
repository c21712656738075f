package service

import (
	"context"
	"errors"
	"time"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

func (s *Service) registry(ctx context.Context) (models.Registry, error) {
	reg, err := s.store.Registry(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.Registry{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "registry is not initialized")
	}
	if err != nil {
		return models.Registry{}, translate(err, "registry not found")
	}
	return reg, nil
}

func (s *Service) isOwner(ctx context.Context, caller id.Address) (bool, error) {
	reg, err := s.registry(ctx)
	if err != nil {
		return false, err
	}
	return !caller.IsZero() && caller == reg.Owner, nil
}

// isAuthorizedIssuer is true for flagged issuers and for the owner.
func (s *Service) isAuthorizedIssuer(ctx context.Context, caller id.Address) (bool, error) {
	if caller.IsZero() {
		return false, nil
	}
	owner, err := s.isOwner(ctx, caller)
	if err != nil || owner {
		return owner, err
	}
	auth, err := s.store.FindIssuer(ctx, caller)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, translate(err, "issuer not found")
	}
	return auth.Authorized, nil
}

func requireCaller(caller id.Address) error {
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, caller id.Address) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	ok, err := s.isOwner(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "only the registry owner may perform this operation")
	}
	return nil
}

func (s *Service) requireIssuer(ctx context.Context, caller id.Address) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	ok, err := s.isAuthorizedIssuer(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "caller is not an authorized issuer")
	}
	return nil
}

// validUnexpired loads a certificate that exists, is unrevoked, and has not
// reached its expiry at now.
func (s *Service) validUnexpired(ctx context.Context, certID id.CertificateID, now time.Time) (models.Certificate, error) {
	cert, err := s.store.FindCertificate(ctx, certID)
	if err != nil {
		return models.Certificate{}, translate(err, "certificate not found")
	}
	return cert, checkValidAt(cert, now)
}

func checkValidAt(cert models.Certificate, now time.Time) error {
	if !cert.IsValid {
		return dErrors.New(dErrors.CodeExpired, "certificate has been revoked")
	}
	if !now.Before(cert.ExpiresAt) {
		return dErrors.New(dErrors.CodeExpired, "certificate has expired")
	}
	return nil
}

// requireHandleReader admits the holder, any authorized issuer, and the owner.
func (s *Service) requireHandleReader(ctx context.Context, caller id.Address, cert models.Certificate) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if caller == cert.Holder {
		return nil
	}
	ok, err := s.isAuthorizedIssuer(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "caller may not read this certificate's encrypted fields")
	}
	return nil
}
