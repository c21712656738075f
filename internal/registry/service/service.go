// Package service is the certification ledger's lifecycle controller.
//
// Every write follows the same shape: validate inputs, then inside one store
// transaction run the access guard and apply all state changes together with the
// emitted event. A rejected call never touches the ledger.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/confidential"
	"certledger/internal/registry/metrics"
	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// Store is the ledger persistence the controller owns.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	Registry(ctx context.Context) (models.Registry, error)
	InitRegistry(ctx context.Context, reg models.Registry, defaults []models.ProfessionRequirement) (models.Registry, error)

	AppendRequest(ctx context.Context, req models.CertificationRequest) (id.RequestID, error)
	FindRequest(ctx context.Context, reqID id.RequestID) (models.CertificationRequest, error)
	MarkRequestProcessed(ctx context.Context, reqID id.RequestID, approved bool, by id.Address, at time.Time, certID id.CertificateID) error
	ListPendingRequests(ctx context.Context, limit int) ([]models.CertificationRequest, error)
	CountRequests(ctx context.Context) (uint64, error)

	NextCertificateID(ctx context.Context) (id.CertificateID, error)
	InsertCertificate(ctx context.Context, cert models.Certificate) error
	FindCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, error)
	UpdateCertificate(ctx context.Context, cert models.Certificate) error
	ListHolderCertificates(ctx context.Context, holder id.Address) ([]id.CertificateID, error)
	CountCertificates(ctx context.Context) (uint64, error)

	FindIssuer(ctx context.Context, issuer id.Address) (models.IssuerAuthorization, error)
	SaveIssuer(ctx context.Context, auth models.IssuerAuthorization) error

	FindRequirement(ctx context.Context, profession string) (models.ProfessionRequirement, error)
	SaveRequirement(ctx context.Context, req models.ProfessionRequirement) error

	AppendEvent(ctx context.Context, ev models.Event) (uint64, error)
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]models.Event, error)
}

// VerificationCache holds public certificate projections for VerifyCertificate.
type VerificationCache interface {
	Get(ctx context.Context, certID id.CertificateID) (models.Certificate, bool, error)
	Set(ctx context.Context, cert models.Certificate) error
	Invalidate(ctx context.Context, certID id.CertificateID) error
}

const (
	// CertificateValidity is the lifetime of a freshly minted certificate.
	CertificateValidity = 365 * 24 * time.Hour

	defaultPageSize = 50
	maxPageSize     = 500
)

// Service implements the request lifecycle, revocation, administration and the
// read side of the ledger.
type Service struct {
	store   Store
	engine  confidential.Engine
	policy  ApprovalPolicy
	cache   VerificationCache
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	maxExtensionDays int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithApprovalPolicy replaces the default approve-everything decision.
func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithCache(c VerificationCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMaxExtensionDays caps a single validity extension; zero leaves it unbounded.
func WithMaxExtensionDays(days int) Option {
	return func(s *Service) {
		if days >= 0 {
			s.maxExtensionDays = days
		}
	}
}

func New(store Store, engine confidential.Engine, opts ...Option) *Service {
	s := &Service{
		store:  store,
		engine: engine,
		policy: ApproveAll{},
		logger: slog.Default(),
		tracer: otel.Tracer("certledger/registry"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Init creates the registry on first start, seeding the default profession
// requirements. On later starts the stored owner wins over the configured one.
func (s *Service) Init(ctx context.Context, owner, registryAddress id.Address, now time.Time) (models.Registry, error) {
	if owner.IsZero() {
		return models.Registry{}, dErrors.New(dErrors.CodeInvalidInput, "registry owner is required")
	}
	if registryAddress.IsZero() {
		return models.Registry{}, dErrors.New(dErrors.CodeInvalidInput, "registry address is required")
	}
	reg, err := s.store.InitRegistry(ctx, models.Registry{
		Owner:     owner,
		Address:   registryAddress,
		CreatedAt: now,
	}, models.DefaultRequirements(now))
	if err != nil {
		return models.Registry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to initialize registry")
	}
	if reg.Owner != owner {
		s.logger.WarnContext(ctx, "configured owner ignored, registry already owned",
			"configured_owner", owner.String(),
			"owner", reg.Owner.String(),
		)
	}
	return reg, nil
}

func (s *Service) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "registry."+operation, trace.WithAttributes(attrs...))
}

// finish records the outcome of operation on its span and metrics.
func (s *Service) finish(span trace.Span, operation string, start time.Time, err error) {
	defer span.End()
	s.metrics.ObserveOperation(operation, start)
	if err == nil {
		return
	}
	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	if code != dErrors.CodeInternal {
		s.metrics.IncRejection(operation, string(code))
	}
}
