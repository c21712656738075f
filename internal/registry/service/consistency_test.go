package service

import (
	"context"
	"sync/atomic"

	"certledger/internal/confidential"
	"certledger/internal/registry/models"
	"certledger/internal/registry/store"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// stallingStore holds the next FindCertificate after it has read the ledger,
// until release is closed.
type stallingStore struct {
	*store.InMemoryStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newStallingStore(st *store.InMemoryStore) *stallingStore {
	return &stallingStore{InMemoryStore: st, read: make(chan struct{}), release: make(chan struct{})}
}

func (p *stallingStore) FindCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, error) {
	cert, err := p.InMemoryStore.FindCertificate(ctx, certID)
	if p.armed.CompareAndSwap(true, false) {
		close(p.read)
		<-p.release
	}
	return cert, err
}

func (s *ServiceSuite) TestVerifyRacingRevokeDoesNotCacheStaleCertificate() {
	cert := s.issue()
	stalling := newStallingStore(s.store)
	s.svc.store = stalling
	stalling.armed.Store(true)

	verified := make(chan error, 1)
	go func() {
		_, err := s.svc.VerifyCertificate(s.ctx(), cert.ID)
		verified <- err
	}()

	<-stalling.read
	_, err := s.svc.RevokeCertificate(s.ctx(), issuer, cert.ID, "fraud")
	s.Require().NoError(err)
	close(stalling.release)

	s.NoError(<-verified, "the verify read happened before the revocation")

	_, cached, _ := s.cache.Get(context.Background(), cert.ID)
	s.False(cached)
	_, err = s.svc.VerifyCertificate(s.ctx(), cert.ID)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestVerifyRacingExtendDoesNotCacheOldExpiry() {
	cert := s.issue()
	stalling := newStallingStore(s.store)
	s.svc.store = stalling
	stalling.armed.Store(true)

	verified := make(chan error, 1)
	go func() {
		_, err := s.svc.VerifyCertificate(s.ctx(), cert.ID)
		verified <- err
	}()

	<-stalling.read
	extended, err := s.svc.ExtendCertificateValidity(s.ctx(), issuer, cert.ID, 30)
	s.Require().NoError(err)
	close(stalling.release)
	s.Require().NoError(<-verified)

	got, err := s.svc.VerifyCertificate(s.ctx(), cert.ID)
	s.Require().NoError(err)
	s.True(got.ExpiresAt.Equal(extended.ExpiresAt))
}

func (s *ServiceSuite) TestPendingRequestSurvivesEngineRestart() {
	vault := confidential.NewMemoryVault()
	before, err := confidential.NewTinkEngine(registry, "", confidential.WithVault(vault))
	s.Require().NoError(err)
	s.svc.engine = before
	req := s.submit()

	after, err := confidential.NewTinkEngine(registry, "", confidential.WithVault(vault))
	s.Require().NoError(err)
	restarted := New(s.store, after, WithCache(s.cache))

	res, err := restarted.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.Require().NoError(err)
	s.Require().NotNil(res.Certificate)

	h, err := restarted.GetEncryptedScore(s.ctx(), applicant, res.Certificate.ID)
	s.Require().NoError(err)
	s.Equal(req.ScoreHandle, h)
}

func (s *ServiceSuite) TestPendingRequestIsStrandedWithoutSharedVault() {
	req := s.submit()
	fresh, err := confidential.NewTinkEngine(registry, "")
	s.Require().NoError(err)
	restarted := New(s.store, fresh)

	_, err = restarted.ProcessCertificationRequest(s.ctx(), issuer, req.ID, "Acme Certifiers")
	s.assertCode(err, dErrors.CodeUnavailable)

	got, err := s.store.FindRequest(context.Background(), req.ID)
	s.Require().NoError(err)
	s.False(got.Processed, "failed processing leaves the request pending")
}
