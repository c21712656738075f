package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certledger/internal/confidential"
	"certledger/internal/confidential/mocks"
	"certledger/internal/registry/cache"
	"certledger/internal/registry/metrics"
	"certledger/internal/registry/models"
	"certledger/internal/registry/store"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/requestcontext"
)

var (
	owner     = mustAddress("0x1111111111111111111111111111111111111111")
	applicant = mustAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	issuer    = mustAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	stranger  = mustAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	registry  = mustAddress("0x00000000000000000000000000000000000C3471")
)

func mustAddress(s string) id.Address {
	addr, err := id.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

type ServiceSuite struct {
	suite.Suite
	store  *store.InMemoryStore
	engine *confidential.TinkEngine
	cache  *cache.InMemoryCache
	svc    *Service
	now    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = store.NewInMemoryStore()
	s.engine, err = confidential.NewTinkEngine(registry, "")
	s.Require().NoError(err)
	s.cache = cache.NewInMemoryCache(time.Hour)
	s.svc = New(s.store, s.engine,
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithCache(s.cache),
		WithMaxExtensionDays(730),
	)
	_, err = s.svc.Init(context.Background(), owner, registry, s.now)
	s.Require().NoError(err)
	_, err = s.svc.AuthorizeIssuer(s.ctx(), owner, issuer, "Acme")
	s.Require().NoError(err)
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func validSubmission() SubmitCommand {
	return SubmitCommand{Profession: "Software Engineer", Score: 80, Level: 4, Evidence: "portfolio-link"}
}

func (s *ServiceSuite) submit() models.CertificationRequest {
	req, err := s.svc.RequestCertification(s.ctx(), applicant, validSubmission())
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) issue() models.Certificate {
	req := s.submit()
	res, err := s.svc.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.Require().NoError(err)
	s.Require().NotNil(res.Certificate)
	return *res.Certificate
}

func (s *ServiceSuite) events() []models.Event {
	events, err := s.svc.ListEvents(context.Background(), 0, 0)
	s.Require().NoError(err)
	return events
}

func (s *ServiceSuite) eventsAfterSetup() []models.Event {
	// SetupTest authorizes one issuer
	return s.events()[1:]
}

func (s *ServiceSuite) assertCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "error: %v", err)
}

func (s *ServiceSuite) TestSubmitThenApproveScenario() {
	req, err := s.svc.RequestCertification(s.ctx(), applicant, validSubmission())
	s.Require().NoError(err)
	s.Equal(id.RequestID(1), req.ID)

	events := s.eventsAfterSetup()
	s.Require().Len(events, 1)
	s.Equal(models.EventCertificationRequested, events[0].Type)
	s.Equal(id.RequestID(1), events[0].RequestID)
	s.Equal(applicant, events[0].Account)
	s.Equal("Software Engineer", events[0].Profession)

	res, err := s.svc.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.Require().NoError(err)
	s.True(res.Decision.Approved)
	s.Require().NotNil(res.Certificate)
	s.Equal(id.CertificateID(1), res.Certificate.ID)

	events = s.eventsAfterSetup()
	s.Require().Len(events, 2)
	s.Equal(models.EventCertificationApproved, events[1].Type)
	s.Equal(id.RequestID(1), events[1].RequestID)
	s.Equal(id.CertificateID(1), events[1].CertificateID)

	cert, err := s.svc.VerifyCertificate(s.ctx(), 1)
	s.Require().NoError(err)
	s.Equal(applicant, cert.Holder)
	s.Equal("Software Engineer", cert.Profession)
	s.True(cert.IsValid)
	s.Equal(s.now, cert.IssuedAt)
	s.Equal(s.now.Add(365*24*time.Hour), cert.ExpiresAt)
	s.Equal("Acme Certifiers", cert.IssuerName)
	s.Equal(models.CredentialHash(applicant, "Software Engineer", s.now, 1), cert.CredentialHash)
	s.True(cert.ScoreHandle.IsZero(), "verification never exposes handles")

	ids, err := s.svc.GetHolderCertificates(s.ctx(), applicant)
	s.Require().NoError(err)
	s.Equal([]id.CertificateID{1}, ids)
}

func (s *ServiceSuite) TestSubmissionSealsInputsAndGrantsAccess() {
	req := s.submit()

	s.NotEqual(req.ScoreHandle, req.LevelHandle)
	for _, h := range []confidential.Handle{req.ScoreHandle, req.LevelHandle} {
		allowed, err := s.engine.IsAllowed(context.Background(), h, applicant)
		s.Require().NoError(err)
		s.True(allowed, "applicant can reference the handle")
		allowed, err = s.engine.IsAllowed(context.Background(), h, registry)
		s.Require().NoError(err)
		s.True(allowed, "registry can reference the handle")
		allowed, err = s.engine.IsAllowed(context.Background(), h, stranger)
		s.Require().NoError(err)
		s.False(allowed)
	}
}

func (s *ServiceSuite) TestInvalidSubmissionStoresNothing() {
	cmd := validSubmission()
	cmd.Score = 150
	_, err := s.svc.RequestCertification(s.ctx(), applicant, cmd)
	s.assertCode(err, dErrors.CodeValidation)

	count, err := s.svc.GetRequestCount(s.ctx())
	s.Require().NoError(err)
	s.Zero(count)
	s.Empty(s.eventsAfterSetup())
}

func (s *ServiceSuite) TestAnonymousSubmissionRejected() {
	_, err := s.svc.RequestCertification(s.ctx(), id.Address{}, validSubmission())
	s.assertCode(err, dErrors.CodeUnauthorized)
}

func (s *ServiceSuite) TestRequestIDsStrictlyIncrease() {
	var last id.RequestID
	for range 5 {
		req := s.submit()
		s.Greater(req.ID, last)
		last = req.ID
	}
	count, err := s.svc.GetRequestCount(s.ctx())
	s.Require().NoError(err)
	s.Equal(uint64(5), count)
}

func (s *ServiceSuite) TestNonIssuerCannotProcess() {
	req := s.submit()

	_, err := s.svc.ProcessCertificationRequest(s.ctx(), stranger, req.ID, "X")
	s.assertCode(err, dErrors.CodeForbidden)

	stored, err := s.svc.GetRequest(s.ctx(), applicant, req.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusPending, stored.Status())

	count, err := s.svc.GetCertificateCount(s.ctx())
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *ServiceSuite) TestOwnerActsAsIssuer() {
	req := s.submit()
	res, err := s.svc.ProcessCertificationRequest(s.ctx(), owner, req.ID, "Registry Owner")
	s.Require().NoError(err)
	s.True(res.Decision.Approved)
}

func (s *ServiceSuite) TestRequestProcessedAtMostOnce() {
	req := s.submit()
	_, err := s.svc.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.Require().NoError(err)
	eventsBefore := len(s.events())

	_, err = s.svc.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.assertCode(err, dErrors.CodeInvalidState)

	count, err := s.svc.GetCertificateCount(s.ctx())
	s.Require().NoError(err)
	s.Equal(uint64(1), count)
	s.Len(s.events(), eventsBefore, "a failed operation appends no event")
}

func (s *ServiceSuite) TestProcessUnknownRequest() {
	_, err := s.svc.ProcessCertificationRequest(s.ctx(), issuer, 99, "Acme Certifiers")
	s.assertCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestCertificateIDsStrictlyIncrease() {
	first := s.issue()
	second := s.issue()
	s.Equal(id.CertificateID(1), first.ID)
	s.Equal(id.CertificateID(2), second.ID)

	ids, err := s.svc.GetHolderCertificates(s.ctx(), applicant)
	s.Require().NoError(err)
	s.Equal([]id.CertificateID{1, 2}, ids)
}

func (s *ServiceSuite) TestVerifyFailures() {
	_, err := s.svc.VerifyCertificate(s.ctx(), 1)
	s.assertCode(err, dErrors.CodeNotFound)

	cert := s.issue()
	_, err = s.svc.VerifyCertificate(s.ctxAt(cert.ExpiresAt), cert.ID)
	s.assertCode(err, dErrors.CodeExpired)

	_, err = s.svc.RevokeCertificate(s.ctx(), issuer, cert.ID, "fraud")
	s.Require().NoError(err)
	_, err = s.svc.VerifyCertificate(s.ctx(), cert.ID)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestRevocationIsPermanent() {
	cert := s.issue()
	revoked, err := s.svc.RevokeCertificate(s.ctx(), issuer, cert.ID, "fraud")
	s.Require().NoError(err)
	s.False(revoked.IsValid)

	events := s.events()
	last := events[len(events)-1]
	s.Equal(models.EventCertificateRevoked, last.Type)
	s.Equal(cert.ID, last.CertificateID)
	s.Equal("fraud", last.Detail)

	_, err = s.svc.RevokeCertificate(s.ctx(), issuer, cert.ID, "again")
	s.assertCode(err, dErrors.CodeExpired)
	_, err = s.svc.ExtendCertificateValidity(s.ctx(), issuer, cert.ID, 30)
	s.assertCode(err, dErrors.CodeExpired)

	stored, err := s.store.FindCertificate(context.Background(), cert.ID)
	s.Require().NoError(err)
	s.False(stored.IsValid)
}

func (s *ServiceSuite) TestRevokeWithEmptyReason() {
	cert := s.issue()
	_, err := s.svc.RevokeCertificate(s.ctx(), issuer, cert.ID, "")
	s.NoError(err)
}

func (s *ServiceSuite) TestExtendValidity() {
	cert := s.issue()
	extended, err := s.svc.ExtendCertificateValidity(s.ctx(), issuer, cert.ID, 30)
	s.Require().NoError(err)
	s.Equal(cert.ExpiresAt.AddDate(0, 0, 30), extended.ExpiresAt)

	// still valid past the original expiry
	_, err = s.svc.VerifyCertificate(s.ctxAt(cert.ExpiresAt.Add(time.Hour)), cert.ID)
	s.NoError(err)

	events := s.events()
	s.Equal(models.EventCertificateExtended, events[len(events)-1].Type)

	_, err = s.svc.ExtendCertificateValidity(s.ctx(), issuer, cert.ID, 0)
	s.assertCode(err, dErrors.CodeValidation)
	_, err = s.svc.ExtendCertificateValidity(s.ctx(), issuer, cert.ID, 731)
	s.assertCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestExpiredCertificateCannotBeExtended() {
	cert := s.issue()
	_, err := s.svc.ExtendCertificateValidity(s.ctxAt(cert.ExpiresAt), issuer, cert.ID, 30)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestNonIssuerCannotRevokeOrExtend() {
	cert := s.issue()
	_, err := s.svc.RevokeCertificate(s.ctx(), applicant, cert.ID, "mine")
	s.assertCode(err, dErrors.CodeForbidden)
	_, err = s.svc.ExtendCertificateValidity(s.ctx(), stranger, cert.ID, 10)
	s.assertCode(err, dErrors.CodeForbidden)

	verified, err := s.svc.VerifyCertificate(s.ctx(), cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.ExpiresAt, verified.ExpiresAt)
}

func (s *ServiceSuite) TestOnlyOwnerAdministers() {
	_, err := s.svc.AuthorizeIssuer(s.ctx(), issuer, stranger, "Shady")
	s.assertCode(err, dErrors.CodeForbidden)
	_, err = s.svc.RevokeIssuer(s.ctx(), stranger, issuer)
	s.assertCode(err, dErrors.CodeForbidden)
	_, err = s.svc.SetProfessionRequirements(s.ctx(), issuer, "Software Engineer", 10, 1)
	s.assertCode(err, dErrors.CodeForbidden)

	req, err := s.svc.GetProfessionRequirements(s.ctx(), "Software Engineer")
	s.Require().NoError(err)
	s.Equal(70, req.MinScore)
	s.Equal(3, req.MinLevel)
}

func (s *ServiceSuite) TestRevokedIssuerLosesRights() {
	req := s.submit()
	_, err := s.svc.RevokeIssuer(s.ctx(), owner, issuer)
	s.Require().NoError(err)

	events := s.events()
	s.Equal(models.EventIssuerRevoked, events[len(events)-1].Type)
	s.Equal(issuer, events[len(events)-1].Account)

	_, err = s.svc.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.assertCode(err, dErrors.CodeForbidden)
}

func (s *ServiceSuite) TestSetProfessionRequirements() {
	_, err := s.svc.SetProfessionRequirements(s.ctx(), owner, "Astronaut", 95, 9)
	s.Require().NoError(err)
	req, err := s.svc.GetProfessionRequirements(s.ctx(), "Astronaut")
	s.Require().NoError(err)
	s.Equal(95, req.MinScore)
	s.Equal(9, req.MinLevel)

	_, err = s.svc.SetProfessionRequirements(s.ctx(), owner, "Astronaut", 101, 9)
	s.assertCode(err, dErrors.CodeValidation)

	_, err = s.svc.GetProfessionRequirements(s.ctx(), "Juggler")
	s.assertCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestEncryptedAccessors() {
	cert := s.issue()

	for _, caller := range []id.Address{applicant, issuer, owner} {
		h, err := s.svc.GetEncryptedScore(s.ctx(), caller, cert.ID)
		s.Require().NoError(err)
		s.Equal(cert.ScoreHandle, h)
		h, err = s.svc.GetEncryptedLevel(s.ctx(), caller, cert.ID)
		s.Require().NoError(err)
		s.Equal(cert.LevelHandle, h)
	}

	_, err := s.svc.GetEncryptedScore(s.ctx(), stranger, cert.ID)
	s.assertCode(err, dErrors.CodeForbidden)

	_, err = s.svc.GetEncryptedLevel(s.ctxAt(cert.ExpiresAt), applicant, cert.ID)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestGetRequestVisibility() {
	req := s.submit()
	_, err := s.svc.GetRequest(s.ctx(), issuer, req.ID)
	s.NoError(err)
	_, err = s.svc.GetRequest(s.ctx(), stranger, req.ID)
	s.assertCode(err, dErrors.CodeForbidden)
}

func (s *ServiceSuite) TestPendingQueueForIssuers() {
	first := s.submit()
	second := s.submit()
	_, err := s.svc.ProcessCertificationRequest(s.ctx(), issuer, first.ID, "Acme Certifiers")
	s.Require().NoError(err)

	pending, err := s.svc.ListPendingRequests(s.ctx(), issuer, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second.ID, pending[0].ID)

	_, err = s.svc.ListPendingRequests(s.ctx(), applicant, 10)
	s.assertCode(err, dErrors.CodeForbidden)
}

func (s *ServiceSuite) TestRevokeInvalidatesCachedVerification() {
	cert := s.issue()
	_, err := s.svc.VerifyCertificate(s.ctx(), cert.ID)
	s.Require().NoError(err)
	_, cached, _ := s.cache.Get(context.Background(), cert.ID)
	s.True(cached)

	_, err = s.svc.RevokeCertificate(s.ctx(), issuer, cert.ID, "fraud")
	s.Require().NoError(err)
	_, cached, _ = s.cache.Get(context.Background(), cert.ID)
	s.False(cached)

	_, err = s.svc.VerifyCertificate(s.ctx(), cert.ID)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestEventSequenceStrictlyIncreases() {
	cert := s.issue()
	_, err := s.svc.ExtendCertificateValidity(s.ctx(), issuer, cert.ID, 1)
	s.Require().NoError(err)

	var last uint64
	for _, ev := range s.events() {
		s.Greater(ev.Seq, last)
		last = ev.Seq
	}

	page, err := s.svc.ListEvents(s.ctx(), 2, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(uint64(3), page[0].Seq)
}

func (s *ServiceSuite) TestInitKeepsOriginalOwner() {
	reg, err := s.svc.Init(context.Background(), stranger, registry, s.now)
	s.Require().NoError(err)
	s.Equal(owner, reg.Owner)

	_, err = s.svc.AuthorizeIssuer(s.ctx(), stranger, stranger, "")
	s.assertCode(err, dErrors.CodeForbidden)
}

type rejectBelow struct{ reason string }

func (p rejectBelow) Decide(_ context.Context, _ models.CertificationRequest, _ models.ProfessionRequirement, hasMinimum bool) (Decision, error) {
	if !hasMinimum {
		return Decision{Approved: true}, nil
	}
	return Decision{Approved: false, Reason: p.reason}, nil
}

func TestRejectionPolicy(t *testing.T) {
	st := store.NewInMemoryStore()
	engine, err := confidential.NewTinkEngine(registry, "")
	if err != nil {
		t.Fatal(err)
	}
	svc := New(st, engine, WithApprovalPolicy(rejectBelow{reason: "score below minimum"}))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	if _, err := svc.Init(ctx, owner, registry, now); err != nil {
		t.Fatal(err)
	}

	req, err := svc.RequestCertification(ctx, applicant, validSubmission())
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.ProcessCertificationRequest(ctx, owner, req.ID, "Registry Owner")
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Approved || res.Certificate != nil {
		t.Fatalf("expected rejection, got %+v", res)
	}
	if res.Request.Status() != models.RequestStatusRejected {
		t.Fatalf("expected rejected status, got %s", res.Request.Status())
	}

	events, _ := svc.ListEvents(ctx, 0, 0)
	last := events[len(events)-1]
	if last.Type != models.EventCertificationRejected || last.Detail != "score below minimum" {
		t.Fatalf("unexpected last event %+v", last)
	}
	if n, _ := svc.GetCertificateCount(ctx); n != 0 {
		t.Fatalf("no certificate expected, count %d", n)
	}
	if _, err := svc.ProcessCertificationRequest(ctx, owner, req.ID, "Registry Owner"); !dErrors.HasCode(err, dErrors.CodeInvalidState) {
		t.Fatalf("rejected request must stay processed, got %v", err)
	}
}

func TestEngineFailureLeavesLedgerUntouched(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	engine.EXPECT().Encrypt(gomock.Any(), uint64(80)).Return(confidential.Handle(""), errors.New("network down"))

	st := store.NewInMemoryStore()
	svc := New(st, engine)
	ctx := context.Background()
	if _, err := svc.Init(ctx, owner, registry, time.Now()); err != nil {
		t.Fatal(err)
	}

	_, err := svc.RequestCertification(ctx, applicant, validSubmission())
	if !dErrors.HasCode(err, dErrors.CodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if n, _ := st.CountRequests(ctx); n != 0 {
		t.Fatalf("expected no stored request, got %d", n)
	}
}

func TestMintGrantsHolderAccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	score := confidential.Handle("0x" + string(bytes.Repeat([]byte("01"), 32)))
	level := confidential.Handle("0x" + string(bytes.Repeat([]byte("02"), 32)))

	gomock.InOrder(
		engine.EXPECT().Encrypt(gomock.Any(), uint64(80)).Return(score, nil),
		engine.EXPECT().Allow(gomock.Any(), score, applicant).Return(nil),
		engine.EXPECT().AllowThis(gomock.Any(), score).Return(nil),
		engine.EXPECT().Encrypt(gomock.Any(), uint64(4)).Return(level, nil),
		engine.EXPECT().Allow(gomock.Any(), level, applicant).Return(nil),
		engine.EXPECT().AllowThis(gomock.Any(), level).Return(nil),
		engine.EXPECT().Allow(gomock.Any(), score, applicant).Return(nil),
		engine.EXPECT().Allow(gomock.Any(), level, applicant).Return(nil),
	)

	svc := New(store.NewInMemoryStore(), engine)
	ctx := context.Background()
	if _, err := svc.Init(ctx, owner, registry, time.Now()); err != nil {
		t.Fatal(err)
	}
	req, err := svc.RequestCertification(ctx, applicant, validSubmission())
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.ProcessCertificationRequest(ctx, owner, req.ID, "Registry Owner")
	if err != nil {
		t.Fatal(err)
	}
	if res.Certificate.ScoreHandle != score || res.Certificate.LevelHandle != level {
		t.Fatalf("certificate must copy the request handles")
	}
}
