package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// AuthorizeIssuer flags issuer as allowed to process, revoke and extend.
func (s *Service) AuthorizeIssuer(ctx context.Context, caller, issuer id.Address, organization string) (auth models.IssuerAuthorization, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "AuthorizeIssuer", attribute.String("issuer", issuer.String()))
	defer func() { s.finish(span, "authorize_issuer", start, err) }()

	if issuer.IsZero() {
		return models.IssuerAuthorization{}, dErrors.New(dErrors.CodeValidation, "issuer address is required")
	}
	organization = strings.TrimSpace(organization)
	if err := models.ValidateOrganization(organization); err != nil {
		return models.IssuerAuthorization{}, err
	}

	now := requestcontext.Now(ctx)
	auth = models.IssuerAuthorization{Issuer: issuer, Authorized: true, Organization: organization, UpdatedAt: now}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireOwner(ctx, caller); err != nil {
			return err
		}
		if err := s.store.SaveIssuer(ctx, auth); err != nil {
			return err
		}
		_, err := s.store.AppendEvent(ctx, models.IssuerAuthorized(issuer, organization, now))
		return err
	})
	if err != nil {
		return models.IssuerAuthorization{}, translate(err, "issuer not found")
	}

	s.metrics.IncIssuerChange("authorize")
	s.logger.InfoContext(ctx, "issuer authorized",
		"request_id", requestcontext.RequestID(ctx),
		"issuer", issuer.String(),
		"organization", organization,
	)
	return auth, nil
}

// RevokeIssuer clears the issuer flag. The owner keeps issuer rights regardless.
func (s *Service) RevokeIssuer(ctx context.Context, caller, issuer id.Address) (auth models.IssuerAuthorization, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "RevokeIssuer", attribute.String("issuer", issuer.String()))
	defer func() { s.finish(span, "revoke_issuer", start, err) }()

	if issuer.IsZero() {
		return models.IssuerAuthorization{}, dErrors.New(dErrors.CodeValidation, "issuer address is required")
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireOwner(ctx, caller); err != nil {
			return err
		}
		prior, err := s.store.FindIssuer(ctx, issuer)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		auth = models.IssuerAuthorization{Issuer: issuer, Organization: prior.Organization, UpdatedAt: now}
		if err := s.store.SaveIssuer(ctx, auth); err != nil {
			return err
		}
		_, err = s.store.AppendEvent(ctx, models.IssuerRevoked(issuer, now))
		return err
	})
	if err != nil {
		return models.IssuerAuthorization{}, translate(err, "issuer not found")
	}

	s.metrics.IncIssuerChange("revoke")
	s.logger.InfoContext(ctx, "issuer revoked",
		"request_id", requestcontext.RequestID(ctx),
		"issuer", issuer.String(),
	)
	return auth, nil
}

// SetProfessionRequirements sets the advertised minimum for profession.
func (s *Service) SetProfessionRequirements(ctx context.Context, caller id.Address, profession string, minScore, minLevel int) (req models.ProfessionRequirement, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "SetProfessionRequirements", attribute.String("profession", profession))
	defer func() { s.finish(span, "set_requirements", start, err) }()

	profession = strings.TrimSpace(profession)
	if err := models.ValidateRequirement(profession, minScore, minLevel); err != nil {
		return models.ProfessionRequirement{}, err
	}

	req = models.ProfessionRequirement{
		Profession: profession,
		MinScore:   minScore,
		MinLevel:   minLevel,
		UpdatedAt:  requestcontext.Now(ctx),
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireOwner(ctx, caller); err != nil {
			return err
		}
		return s.store.SaveRequirement(ctx, req)
	})
	if err != nil {
		return models.ProfessionRequirement{}, translate(err, "profession requirement not found")
	}

	s.logger.InfoContext(ctx, "profession requirements updated",
		"request_id", requestcontext.RequestID(ctx),
		"profession", profession,
		"min_score", minScore,
		"min_level", minLevel,
	)
	return req, nil
}
