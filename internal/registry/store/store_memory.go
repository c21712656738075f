// Package store persists the certification ledger.
//
// Requests and certificates are append-only arenas indexed by id-1; ids start at 1
// and are never reused. Every write operation runs inside RunInTx, which applies it
// atomically and serially.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type memTxKey struct{}

type memState struct {
	registry     *models.Registry
	requests     []models.CertificationRequest
	certificates []models.Certificate
	byHolder     map[id.Address][]id.CertificateID
	issuers      map[id.Address]models.IssuerAuthorization
	requirements map[string]models.ProfessionRequirement
	events       []models.Event
	// published counts the leading events already handed to the relay.
	published int
}

// InMemoryStore keeps the ledger in process memory behind one lock. A transaction
// holds the write lock for its whole duration and replays its undo journal on error.
type InMemoryStore struct {
	mu   sync.RWMutex
	st   memState
	undo []func()
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{st: memState{
		byHolder:     make(map[id.Address][]id.CertificateID),
		issuers:      make(map[id.Address]models.IssuerAuthorization),
		requirements: make(map[string]models.ProfessionRequirement),
	}}
}

// RunInTx serializes fn against all other writes. Calls nested in an open
// transaction join it.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.undo = s.undo[:0]
	defer func() {
		if p := recover(); p != nil {
			s.rollback()
			panic(p)
		}
		if err != nil {
			s.rollback()
		}
		clear(s.undo)
		s.undo = s.undo[:0]
	}()
	return fn(context.WithValue(ctx, memTxKey{}, s))
}

// journal records how to reverse a write made inside a transaction. Writes made
// outside one are final.
func (s *InMemoryStore) journal(ctx context.Context, undo func()) {
	if s.inTx(ctx) {
		s.undo = append(s.undo, undo)
	}
}

func (s *InMemoryStore) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
}

func (s *InMemoryStore) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(memTxKey{}).(*InMemoryStore)
	return ok && owner == s
}

func (s *InMemoryStore) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *InMemoryStore) rlock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *InMemoryStore) Registry(ctx context.Context) (models.Registry, error) {
	defer s.rlock(ctx)()
	if s.st.registry == nil {
		return models.Registry{}, fmt.Errorf("registry: %w", sentinel.ErrNotFound)
	}
	return *s.st.registry, nil
}

// InitRegistry creates the registry header and seeds requirements once. Later calls
// return the stored header unchanged.
func (s *InMemoryStore) InitRegistry(ctx context.Context, reg models.Registry, defaults []models.ProfessionRequirement) (models.Registry, error) {
	defer s.lock(ctx)()
	if s.st.registry != nil {
		return *s.st.registry, nil
	}
	s.st.registry = &reg
	s.journal(ctx, func() { s.st.registry = nil })
	for _, req := range defaults {
		s.putRequirement(ctx, req)
	}
	return reg, nil
}

func (s *InMemoryStore) AppendRequest(ctx context.Context, req models.CertificationRequest) (id.RequestID, error) {
	defer s.lock(ctx)()
	n := len(s.st.requests)
	req.ID = id.RequestID(n + 1)
	s.st.requests = append(s.st.requests, req)
	s.journal(ctx, func() { s.st.requests = s.st.requests[:n] })
	return req.ID, nil
}

func (s *InMemoryStore) FindRequest(ctx context.Context, reqID id.RequestID) (models.CertificationRequest, error) {
	defer s.rlock(ctx)()
	req, ok := s.request(reqID)
	if !ok {
		return models.CertificationRequest{}, fmt.Errorf("request %d: %w", reqID, sentinel.ErrNotFound)
	}
	return *req, nil
}

func (s *InMemoryStore) request(reqID id.RequestID) (*models.CertificationRequest, bool) {
	if reqID == 0 || uint64(reqID) > uint64(len(s.st.requests)) {
		return nil, false
	}
	return &s.st.requests[reqID-1], true
}

// MarkRequestProcessed performs the single Pending -> Processed transition.
func (s *InMemoryStore) MarkRequestProcessed(ctx context.Context, reqID id.RequestID, approved bool, by id.Address, at time.Time, certID id.CertificateID) error {
	defer s.lock(ctx)()
	req, ok := s.request(reqID)
	if !ok {
		return fmt.Errorf("request %d: %w", reqID, sentinel.ErrNotFound)
	}
	if req.Processed {
		return fmt.Errorf("request %d already processed: %w", reqID, sentinel.ErrInvalidState)
	}
	prior := *req
	s.journal(ctx, func() { s.st.requests[reqID-1] = prior })
	req.Processed = true
	req.Approved = approved
	req.ProcessedBy = by
	req.ProcessedAt = &at
	req.CertificateID = certID
	return nil
}

func (s *InMemoryStore) ListPendingRequests(ctx context.Context, limit int) ([]models.CertificationRequest, error) {
	defer s.rlock(ctx)()
	out := []models.CertificationRequest{}
	for _, req := range s.st.requests {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !req.Processed {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountRequests(ctx context.Context) (uint64, error) {
	defer s.rlock(ctx)()
	return uint64(len(s.st.requests)), nil
}

func (s *InMemoryStore) NextCertificateID(ctx context.Context) (id.CertificateID, error) {
	defer s.rlock(ctx)()
	return id.CertificateID(len(s.st.certificates) + 1), nil
}

// InsertCertificate appends cert. cert.ID must be the next arena slot.
func (s *InMemoryStore) InsertCertificate(ctx context.Context, cert models.Certificate) error {
	defer s.lock(ctx)()
	if next := id.CertificateID(len(s.st.certificates) + 1); cert.ID != next {
		return fmt.Errorf("certificate id %d, next is %d: %w", cert.ID, next, sentinel.ErrConflict)
	}
	n := len(s.st.certificates)
	held, hadAny := s.st.byHolder[cert.Holder]
	s.st.certificates = append(s.st.certificates, cert)
	s.st.byHolder[cert.Holder] = append(slices.Clone(held), cert.ID)
	s.journal(ctx, func() {
		s.st.certificates = s.st.certificates[:n]
		if hadAny {
			s.st.byHolder[cert.Holder] = held
		} else {
			delete(s.st.byHolder, cert.Holder)
		}
	})
	return nil
}

func (s *InMemoryStore) FindCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, error) {
	defer s.rlock(ctx)()
	cert, ok := s.certificate(certID)
	if !ok {
		return models.Certificate{}, fmt.Errorf("certificate %d: %w", certID, sentinel.ErrNotFound)
	}
	return *cert, nil
}

func (s *InMemoryStore) certificate(certID id.CertificateID) (*models.Certificate, bool) {
	if certID == 0 || uint64(certID) > uint64(len(s.st.certificates)) {
		return nil, false
	}
	return &s.st.certificates[certID-1], true
}

// UpdateCertificate writes the mutable fields (validity, expiry, revocation).
// A revoked certificate can never be made valid again.
func (s *InMemoryStore) UpdateCertificate(ctx context.Context, cert models.Certificate) error {
	defer s.lock(ctx)()
	stored, ok := s.certificate(cert.ID)
	if !ok {
		return fmt.Errorf("certificate %d: %w", cert.ID, sentinel.ErrNotFound)
	}
	if !stored.IsValid && cert.IsValid {
		return fmt.Errorf("certificate %d is revoked: %w", cert.ID, sentinel.ErrInvalidState)
	}
	prior := *stored
	s.journal(ctx, func() { s.st.certificates[cert.ID-1] = prior })
	stored.IsValid = cert.IsValid
	stored.ExpiresAt = cert.ExpiresAt
	stored.RevokedAt = cert.RevokedAt
	stored.RevocationReason = cert.RevocationReason
	return nil
}

func (s *InMemoryStore) ListHolderCertificates(ctx context.Context, holder id.Address) ([]id.CertificateID, error) {
	defer s.rlock(ctx)()
	ids := slices.Clone(s.st.byHolder[holder])
	if ids == nil {
		ids = []id.CertificateID{}
	}
	return ids, nil
}

func (s *InMemoryStore) CountCertificates(ctx context.Context) (uint64, error) {
	defer s.rlock(ctx)()
	return uint64(len(s.st.certificates)), nil
}

func (s *InMemoryStore) FindIssuer(ctx context.Context, issuer id.Address) (models.IssuerAuthorization, error) {
	defer s.rlock(ctx)()
	auth, ok := s.st.issuers[issuer]
	if !ok {
		return models.IssuerAuthorization{}, fmt.Errorf("issuer %s: %w", issuer, sentinel.ErrNotFound)
	}
	return auth, nil
}

func (s *InMemoryStore) SaveIssuer(ctx context.Context, auth models.IssuerAuthorization) error {
	defer s.lock(ctx)()
	prior, existed := s.st.issuers[auth.Issuer]
	s.journal(ctx, func() {
		if existed {
			s.st.issuers[auth.Issuer] = prior
		} else {
			delete(s.st.issuers, auth.Issuer)
		}
	})
	s.st.issuers[auth.Issuer] = auth
	return nil
}

func (s *InMemoryStore) FindRequirement(ctx context.Context, profession string) (models.ProfessionRequirement, error) {
	defer s.rlock(ctx)()
	req, ok := s.st.requirements[profession]
	if !ok {
		return models.ProfessionRequirement{}, fmt.Errorf("requirement %q: %w", profession, sentinel.ErrNotFound)
	}
	return req, nil
}

func (s *InMemoryStore) SaveRequirement(ctx context.Context, req models.ProfessionRequirement) error {
	defer s.lock(ctx)()
	s.putRequirement(ctx, req)
	return nil
}

func (s *InMemoryStore) putRequirement(ctx context.Context, req models.ProfessionRequirement) {
	prior, existed := s.st.requirements[req.Profession]
	s.journal(ctx, func() {
		if existed {
			s.st.requirements[req.Profession] = prior
		} else {
			delete(s.st.requirements, req.Profession)
		}
	})
	s.st.requirements[req.Profession] = req
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev models.Event) (uint64, error) {
	defer s.lock(ctx)()
	n := len(s.st.events)
	ev.Seq = uint64(n + 1)
	ev.PublishedAt = nil
	s.st.events = append(s.st.events, ev)
	s.journal(ctx, func() { s.st.events = s.st.events[:n] })
	return ev.Seq, nil
}

// ListEvents returns up to limit events with Seq > afterSeq, oldest first.
func (s *InMemoryStore) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]models.Event, error) {
	defer s.rlock(ctx)()
	out := []models.Event{}
	if afterSeq >= uint64(len(s.st.events)) {
		return out, nil
	}
	for _, ev := range s.st.events[afterSeq:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// ListUnpublishedEvents starts at the published watermark, so already relayed
// history is not walked again.
func (s *InMemoryStore) ListUnpublishedEvents(ctx context.Context, limit int) ([]models.Event, error) {
	defer s.rlock(ctx)()
	out := []models.Event{}
	for _, ev := range s.st.events[s.st.published:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if ev.PublishedAt == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkEventsPublished(ctx context.Context, seqs []uint64, at time.Time) error {
	defer s.lock(ctx)()
	for _, seq := range seqs {
		if seq == 0 || seq > uint64(len(s.st.events)) {
			return fmt.Errorf("event %d: %w", seq, sentinel.ErrNotFound)
		}
	}
	watermark := s.st.published
	for _, seq := range seqs {
		idx := seq - 1
		prior := s.st.events[idx].PublishedAt
		s.journal(ctx, func() { s.st.events[idx].PublishedAt = prior })
		published := at
		s.st.events[idx].PublishedAt = &published
	}
	for s.st.published < len(s.st.events) && s.st.events[s.st.published].PublishedAt != nil {
		s.st.published++
	}
	s.journal(ctx, func() { s.st.published = watermark })
	return nil
}

// PublishedWatermark is the number of leading events already marked published.
func (s *InMemoryStore) PublishedWatermark() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.published
}
