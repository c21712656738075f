package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/confidential"
	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// ledgerStore is the surface both implementations share.
type ledgerStore interface {
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
	ListUnpublishedEvents(ctx context.Context, limit int) ([]models.Event, error)
	MarkEventsPublished(ctx context.Context, seqs []uint64, at time.Time) error
}

// ledgerSuite holds behavior every store must satisfy. Embedding suites set store
// in SetupTest.
type ledgerSuite struct {
	suite.Suite
	store ledgerStore
	now   time.Time
}

var (
	owner     = mustAddress("0x1111111111111111111111111111111111111111")
	applicant = mustAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	issuer    = mustAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	registry  = mustAddress("0x00000000000000000000000000000000000C3471")
)

func mustAddress(s string) id.Address {
	addr, err := id.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func handle(b byte) confidential.Handle {
	const hexdigits = "0123456789abcdef"
	out := []byte("0x")
	for range 32 {
		out = append(out, hexdigits[b>>4], hexdigits[b&0x0f])
	}
	return confidential.Handle(out)
}

func (s *ledgerSuite) initRegistry() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.store.InitRegistry(context.Background(),
		models.Registry{Owner: owner, Address: registry, CreatedAt: s.now},
		models.DefaultRequirements(s.now))
	s.Require().NoError(err)
}

func (s *ledgerSuite) newRequest() models.CertificationRequest {
	return models.CertificationRequest{
		Applicant:   applicant,
		Profession:  "Software Engineer",
		ScoreHandle: handle(0x01),
		LevelHandle: handle(0x02),
		SubmittedAt: s.now,
		Evidence:    "portfolio-link",
	}
}

func (s *ledgerSuite) mint(reqID id.RequestID) models.Certificate {
	ctx := context.Background()
	var cert models.Certificate
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		certID, err := s.store.NextCertificateID(ctx)
		if err != nil {
			return err
		}
		cert = models.Certificate{
			ID:             certID,
			RequestID:      reqID,
			Holder:         applicant,
			Profession:     "Software Engineer",
			ScoreHandle:    handle(0x01),
			LevelHandle:    handle(0x02),
			IsValid:        true,
			IssuedAt:       s.now,
			ExpiresAt:      s.now.Add(365 * 24 * time.Hour),
			IssuerName:     "Acme Certifiers",
			CredentialHash: models.CredentialHash(applicant, "Software Engineer", s.now, certID),
		}
		if err := s.store.InsertCertificate(ctx, cert); err != nil {
			return err
		}
		return s.store.MarkRequestProcessed(ctx, reqID, true, issuer, s.now, certID)
	})
	s.Require().NoError(err)
	return cert
}

func (s *ledgerSuite) TestInitRegistryIsIdempotent() {
	ctx := context.Background()
	reg, err := s.store.InitRegistry(ctx, models.Registry{Owner: issuer, Address: registry, CreatedAt: s.now}, nil)
	s.Require().NoError(err)
	s.Equal(owner, reg.Owner, "owner is fixed at creation")

	req, err := s.store.FindRequirement(ctx, "Data Scientist")
	s.Require().NoError(err)
	s.Equal(75, req.MinScore)
	s.Equal(4, req.MinLevel)
}

func (s *ledgerSuite) TestRequestIDsAreMonotonicFromOne() {
	ctx := context.Background()
	for want := id.RequestID(1); want <= 3; want++ {
		got, err := s.store.AppendRequest(ctx, s.newRequest())
		s.Require().NoError(err)
		s.Equal(want, got)
	}
	count, err := s.store.CountRequests(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(3), count)

	stored, err := s.store.FindRequest(ctx, 2)
	s.Require().NoError(err)
	s.Equal(applicant, stored.Applicant)
	s.Equal(handle(0x01), stored.ScoreHandle)
	s.Equal(models.RequestStatusPending, stored.Status())
}

func (s *ledgerSuite) TestFindRequestOutOfRange() {
	_, err := s.store.FindRequest(context.Background(), 42)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindRequest(context.Background(), 0)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ledgerSuite) TestRequestProcessedOnlyOnce() {
	ctx := context.Background()
	reqID, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkRequestProcessed(ctx, reqID, false, issuer, s.now, 0))
	err = s.store.MarkRequestProcessed(ctx, reqID, true, issuer, s.now, 0)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	stored, err := s.store.FindRequest(ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusRejected, stored.Status())
	s.Equal(issuer, stored.ProcessedBy)
}

func (s *ledgerSuite) TestPendingQueue() {
	ctx := context.Background()
	first, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	second, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	_, err = s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkRequestProcessed(ctx, first, false, issuer, s.now, 0))

	pending, err := s.store.ListPendingRequests(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second, pending[0].ID)

	pending, err = s.store.ListPendingRequests(ctx, 0)
	s.Require().NoError(err)
	s.Len(pending, 2)
}

func (s *ledgerSuite) TestCertificateMintAndHolderIndex() {
	ctx := context.Background()
	reqID, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	cert := s.mint(reqID)
	s.Equal(id.CertificateID(1), cert.ID)

	stored, err := s.store.FindCertificate(ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.CredentialHash, stored.CredentialHash)
	s.True(stored.IssuedAt.Equal(cert.IssuedAt))
	s.True(stored.ExpiresAt.Equal(cert.ExpiresAt))

	req, err := s.store.FindRequest(ctx, reqID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusApproved, req.Status())
	s.Equal(cert.ID, req.CertificateID)

	ids, err := s.store.ListHolderCertificates(ctx, applicant)
	s.Require().NoError(err)
	s.Equal([]id.CertificateID{1}, ids)

	ids, err = s.store.ListHolderCertificates(ctx, issuer)
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *ledgerSuite) TestInsertCertificateRejectsReusedID() {
	ctx := context.Background()
	reqID, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	cert := s.mint(reqID)

	err = s.store.InsertCertificate(ctx, cert)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *ledgerSuite) TestRevocationIsOneDirectional() {
	ctx := context.Background()
	reqID, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	cert := s.mint(reqID)

	revokedAt := s.now.Add(time.Hour)
	cert.IsValid = false
	cert.RevokedAt = &revokedAt
	cert.RevocationReason = "fraud"
	s.Require().NoError(s.store.UpdateCertificate(ctx, cert))

	cert.IsValid = true
	err = s.store.UpdateCertificate(ctx, cert)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	stored, err := s.store.FindCertificate(ctx, cert.ID)
	s.Require().NoError(err)
	s.False(stored.IsValid)
	s.Equal("fraud", stored.RevocationReason)
}

func (s *ledgerSuite) TestFailedTransactionLeavesNoTrace() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.AppendRequest(ctx, s.newRequest()); err != nil {
			return err
		}
		if _, err := s.store.AppendEvent(ctx, models.CertificationRequested(1, applicant, "Software Engineer", s.now)); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	count, err := s.store.CountRequests(ctx)
	s.Require().NoError(err)
	s.Zero(count)
	events, err := s.store.ListEvents(ctx, 0, 0)
	s.Require().NoError(err)
	s.Empty(events)

	reqID, err := s.store.AppendRequest(ctx, s.newRequest())
	s.Require().NoError(err)
	s.Equal(id.RequestID(1), reqID, "rolled back ids are not consumed")
}

func (s *ledgerSuite) TestIssuerAuthorization() {
	ctx := context.Background()
	_, err := s.store.FindIssuer(ctx, issuer)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.SaveIssuer(ctx, models.IssuerAuthorization{
		Issuer: issuer, Authorized: true, Organization: "Acme", UpdatedAt: s.now,
	}))
	auth, err := s.store.FindIssuer(ctx, issuer)
	s.Require().NoError(err)
	s.True(auth.Authorized)
	s.Equal("Acme", auth.Organization)

	s.Require().NoError(s.store.SaveIssuer(ctx, models.IssuerAuthorization{Issuer: issuer, UpdatedAt: s.now}))
	auth, err = s.store.FindIssuer(ctx, issuer)
	s.Require().NoError(err)
	s.False(auth.Authorized)
}

func (s *ledgerSuite) TestRequirementOverride() {
	ctx := context.Background()
	s.Require().NoError(s.store.SaveRequirement(ctx, models.ProfessionRequirement{
		Profession: "Software Engineer", MinScore: 90, MinLevel: 7, UpdatedAt: s.now,
	}))
	req, err := s.store.FindRequirement(ctx, "Software Engineer")
	s.Require().NoError(err)
	s.Equal(90, req.MinScore)
	s.Equal(7, req.MinLevel)

	_, err = s.store.FindRequirement(ctx, "Astronaut")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ledgerSuite) TestEventLogAndOutbox() {
	ctx := context.Background()
	var seqs []uint64
	for _, ev := range []models.Event{
		models.CertificationRequested(1, applicant, "Software Engineer", s.now),
		models.CertificationApproved(1, 1, s.now),
		models.CertificateRevoked(1, "fraud", s.now),
	} {
		seq, err := s.store.AppendEvent(ctx, ev)
		s.Require().NoError(err)
		seqs = append(seqs, seq)
	}
	s.Less(seqs[0], seqs[1])
	s.Less(seqs[1], seqs[2])

	after, err := s.store.ListEvents(ctx, seqs[0], 10)
	s.Require().NoError(err)
	s.Require().Len(after, 2)
	s.Equal(models.EventCertificationApproved, after[0].Type)
	s.Equal(id.CertificateID(1), after[0].CertificateID)
	s.Equal("fraud", after[1].Detail)

	first, err := s.store.ListEvents(ctx, 0, 1)
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	s.Equal(applicant, first[0].Account)

	s.Require().NoError(s.store.MarkEventsPublished(ctx, seqs[:2], s.now))
	pending, err := s.store.ListUnpublishedEvents(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(seqs[2], pending[0].Seq)
}
