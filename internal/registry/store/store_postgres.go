package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"certledger/internal/confidential"
	"certledger/internal/registry/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// ledgerLockKey is the transaction-scoped advisory lock every write takes, making
// the ledger single-writer across all server replicas.
const ledgerLockKey = 0x43455254

// PostgresStore persists the ledger in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunInTx runs fn in one SQL transaction holding the ledger lock. Calls nested in an
// open transaction join it.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if err = fn(txcontext.WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context) txcontext.Executor {
	return txcontext.Or(ctx, s.db)
}

func (s *PostgresStore) Registry(ctx context.Context) (models.Registry, error) {
	var reg models.Registry
	var owner, address string
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT owner, registry_address, created_at FROM registry_meta WHERE id = 1`,
	).Scan(&owner, &address, &reg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Registry{}, fmt.Errorf("registry: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return models.Registry{}, fmt.Errorf("load registry: %w", err)
	}
	if reg.Owner, err = id.ParseAddress(owner); err != nil {
		return models.Registry{}, fmt.Errorf("stored owner: %w", err)
	}
	if reg.Address, err = id.ParseAddress(address); err != nil {
		return models.Registry{}, fmt.Errorf("stored registry address: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) InitRegistry(ctx context.Context, reg models.Registry, defaults []models.ProfessionRequirement) (models.Registry, error) {
	var stored models.Registry
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.Registry(ctx)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		if _, err := s.exec(ctx).ExecContext(ctx,
			`INSERT INTO registry_meta (id, owner, registry_address, created_at) VALUES (1, $1, $2, $3)`,
			reg.Owner.String(), reg.Address.String(), reg.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert registry: %w", err)
		}
		for _, req := range defaults {
			if err := s.SaveRequirement(ctx, req); err != nil {
				return err
			}
		}
		stored = reg
		return nil
	})
	return stored, err
}

func (s *PostgresStore) AppendRequest(ctx context.Context, req models.CertificationRequest) (id.RequestID, error) {
	var reqID id.RequestID
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.exec(ctx).QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM certification_requests`,
		).Scan(&reqID); err != nil {
			return fmt.Errorf("next request id: %w", err)
		}
		_, err := s.exec(ctx).ExecContext(ctx, `
			INSERT INTO certification_requests
				(id, applicant, profession, score_handle, level_handle, processed, approved, submitted_at, evidence)
			VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $7)`,
			uint64(reqID), req.Applicant.String(), req.Profession,
			req.ScoreHandle.String(), req.LevelHandle.String(), req.SubmittedAt, req.Evidence,
		)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
	return reqID, err
}

const requestColumns = `id, applicant, profession, score_handle, level_handle, processed, approved,
	submitted_at, evidence, processed_at, COALESCE(processed_by, ''), COALESCE(certificate_id, 0)`

func (s *PostgresStore) FindRequest(ctx context.Context, reqID id.RequestID) (models.CertificationRequest, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM certification_requests WHERE id = $1`, uint64(reqID))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CertificationRequest{}, fmt.Errorf("request %d: %w", reqID, sentinel.ErrNotFound)
	}
	return req, err
}

func (s *PostgresStore) MarkRequestProcessed(ctx context.Context, reqID id.RequestID, approved bool, by id.Address, at time.Time, certID id.CertificateID) error {
	var certCol sql.NullInt64
	if certID != 0 {
		certCol = sql.NullInt64{Int64: int64(certID), Valid: true}
	}
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE certification_requests
		SET processed = TRUE, approved = $2, processed_by = $3, processed_at = $4, certificate_id = $5
		WHERE id = $1 AND processed = FALSE`,
		uint64(reqID), approved, by.String(), at, certCol,
	)
	if err != nil {
		return fmt.Errorf("mark request processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.FindRequest(ctx, reqID); err != nil {
		return err
	}
	return fmt.Errorf("request %d already processed: %w", reqID, sentinel.ErrInvalidState)
}

func (s *PostgresStore) ListPendingRequests(ctx context.Context, limit int) ([]models.CertificationRequest, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+requestColumns+` FROM certification_requests WHERE processed = FALSE ORDER BY id LIMIT $1`,
		sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	out := []models.CertificationRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountRequests(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM certification_requests`)
}

func (s *PostgresStore) NextCertificateID(ctx context.Context) (id.CertificateID, error) {
	var next uint64
	if err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM certificates`,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("next certificate id: %w", err)
	}
	return id.CertificateID(next), nil
}

func (s *PostgresStore) InsertCertificate(ctx context.Context, cert models.Certificate) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO certificates
			(id, request_id, holder, profession, score_handle, level_handle, is_valid,
			 issued_at, expires_at, issuer_name, credential_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uint64(cert.ID), uint64(cert.RequestID), cert.Holder.String(), cert.Profession,
		cert.ScoreHandle.String(), cert.LevelHandle.String(), cert.IsValid,
		cert.IssuedAt, cert.ExpiresAt, cert.IssuerName, cert.CredentialHash,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("certificate %d: %w", cert.ID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

const certificateColumns = `id, request_id, holder, profession, score_handle, level_handle, is_valid,
	issued_at, expires_at, issuer_name, credential_hash, revoked_at, COALESCE(revocation_reason, '')`

func (s *PostgresStore) FindCertificate(ctx context.Context, certID id.CertificateID) (models.Certificate, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, uint64(certID))
	cert, err := scanCertificate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Certificate{}, fmt.Errorf("certificate %d: %w", certID, sentinel.ErrNotFound)
	}
	return cert, err
}

// UpdateCertificate writes the mutable fields. The WHERE clause refuses to
// re-validate a revoked certificate.
func (s *PostgresStore) UpdateCertificate(ctx context.Context, cert models.Certificate) error {
	var reason sql.NullString
	if cert.RevokedAt != nil {
		reason = sql.NullString{String: cert.RevocationReason, Valid: true}
	}
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE certificates
		SET is_valid = $2, expires_at = $3, revoked_at = $4, revocation_reason = $5
		WHERE id = $1 AND (is_valid OR NOT $2)`,
		uint64(cert.ID), cert.IsValid, cert.ExpiresAt, cert.RevokedAt, reason,
	)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.FindCertificate(ctx, cert.ID); err != nil {
		return err
	}
	return fmt.Errorf("certificate %d is revoked: %w", cert.ID, sentinel.ErrInvalidState)
}

func (s *PostgresStore) ListHolderCertificates(ctx context.Context, holder id.Address) ([]id.CertificateID, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT id FROM certificates WHERE holder = $1 ORDER BY id`, holder.String())
	if err != nil {
		return nil, fmt.Errorf("list holder certificates: %w", err)
	}
	defer rows.Close()
	ids := []id.CertificateID{}
	for rows.Next() {
		var certID uint64
		if err := rows.Scan(&certID); err != nil {
			return nil, fmt.Errorf("scan certificate id: %w", err)
		}
		ids = append(ids, id.CertificateID(certID))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountCertificates(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM certificates`)
}

func (s *PostgresStore) FindIssuer(ctx context.Context, issuer id.Address) (models.IssuerAuthorization, error) {
	auth := models.IssuerAuthorization{Issuer: issuer}
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT authorized, organization, updated_at FROM issuers WHERE address = $1`, issuer.String(),
	).Scan(&auth.Authorized, &auth.Organization, &auth.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IssuerAuthorization{}, fmt.Errorf("issuer %s: %w", issuer, sentinel.ErrNotFound)
	}
	if err != nil {
		return models.IssuerAuthorization{}, fmt.Errorf("load issuer: %w", err)
	}
	return auth, nil
}

func (s *PostgresStore) SaveIssuer(ctx context.Context, auth models.IssuerAuthorization) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO issuers (address, authorized, organization, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			authorized = EXCLUDED.authorized,
			organization = EXCLUDED.organization,
			updated_at = EXCLUDED.updated_at`,
		auth.Issuer.String(), auth.Authorized, auth.Organization, auth.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save issuer: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRequirement(ctx context.Context, profession string) (models.ProfessionRequirement, error) {
	req := models.ProfessionRequirement{Profession: profession}
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT min_score, min_level, updated_at FROM profession_requirements WHERE profession = $1`, profession,
	).Scan(&req.MinScore, &req.MinLevel, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProfessionRequirement{}, fmt.Errorf("requirement %q: %w", profession, sentinel.ErrNotFound)
	}
	if err != nil {
		return models.ProfessionRequirement{}, fmt.Errorf("load requirement: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) SaveRequirement(ctx context.Context, req models.ProfessionRequirement) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO profession_requirements (profession, min_score, min_level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (profession) DO UPDATE SET
			min_score = EXCLUDED.min_score,
			min_level = EXCLUDED.min_level,
			updated_at = EXCLUDED.updated_at`,
		req.Profession, req.MinScore, req.MinLevel, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save requirement: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev models.Event) (uint64, error) {
	var seq uint64
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO ledger_events (event_type, request_id, certificate_id, account, profession, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		string(ev.Type), nullID(uint64(ev.RequestID)), nullID(uint64(ev.CertificateID)),
		addressOrEmpty(ev.Account), ev.Profession, ev.Detail, ev.OccurredAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

const eventColumns = `seq, event_type, COALESCE(request_id, 0), COALESCE(certificate_id, 0), account,
	profession, detail, occurred_at, published_at`

func (s *PostgresStore) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE seq > $1 ORDER BY seq LIMIT $2`,
		afterSeq, sqlLimit(limit))
}

func (s *PostgresStore) ListUnpublishedEvents(ctx context.Context, limit int) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE published_at IS NULL ORDER BY seq LIMIT $1`,
		sqlLimit(limit))
}

func (s *PostgresStore) MarkEventsPublished(ctx context.Context, seqs []uint64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	ids := make([]int64, len(seqs))
	for i, seq := range seqs {
		ids[i] = int64(seq)
	}
	_, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE ledger_events SET published_at = $1 WHERE seq = ANY($2)`, at, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	out := []models.Event{}
	for rows.Next() {
		var (
			ev          models.Event
			eventType   string
			reqID       uint64
			certID      uint64
			account     string
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&ev.Seq, &eventType, &reqID, &certID, &account,
			&ev.Profession, &ev.Detail, &ev.OccurredAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = models.EventType(eventType)
		ev.RequestID = id.RequestID(reqID)
		ev.CertificateID = id.CertificateID(certID)
		if account != "" {
			if ev.Account, err = id.ParseAddress(account); err != nil {
				return nil, fmt.Errorf("stored event account: %w", err)
			}
		}
		if publishedAt.Valid {
			ev.PublishedAt = &publishedAt.Time
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) count(ctx context.Context, query string) (uint64, error) {
	var n uint64
	if err := s.exec(ctx).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (models.CertificationRequest, error) {
	var (
		req         models.CertificationRequest
		reqID       uint64
		applicant   string
		score       string
		level       string
		processedAt sql.NullTime
		processedBy string
		certID      uint64
	)
	if err := row.Scan(&reqID, &applicant, &req.Profession, &score, &level, &req.Processed,
		&req.Approved, &req.SubmittedAt, &req.Evidence, &processedAt, &processedBy, &certID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return req, err
		}
		return req, fmt.Errorf("scan request: %w", err)
	}
	var err error
	req.ID = id.RequestID(reqID)
	if req.Applicant, err = id.ParseAddress(applicant); err != nil {
		return req, fmt.Errorf("stored applicant: %w", err)
	}
	req.ScoreHandle = confidential.Handle(score)
	req.LevelHandle = confidential.Handle(level)
	if processedAt.Valid {
		req.ProcessedAt = &processedAt.Time
	}
	if processedBy != "" {
		if req.ProcessedBy, err = id.ParseAddress(processedBy); err != nil {
			return req, fmt.Errorf("stored processor: %w", err)
		}
	}
	req.CertificateID = id.CertificateID(certID)
	return req, nil
}

func scanCertificate(row rowScanner) (models.Certificate, error) {
	var (
		cert      models.Certificate
		certID    uint64
		reqID     uint64
		holder    string
		score     string
		level     string
		revokedAt sql.NullTime
	)
	if err := row.Scan(&certID, &reqID, &holder, &cert.Profession, &score, &level, &cert.IsValid,
		&cert.IssuedAt, &cert.ExpiresAt, &cert.IssuerName, &cert.CredentialHash, &revokedAt,
		&cert.RevocationReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cert, err
		}
		return cert, fmt.Errorf("scan certificate: %w", err)
	}
	var err error
	cert.ID = id.CertificateID(certID)
	cert.RequestID = id.RequestID(reqID)
	if cert.Holder, err = id.ParseAddress(holder); err != nil {
		return cert, fmt.Errorf("stored holder: %w", err)
	}
	cert.ScoreHandle = confidential.Handle(score)
	cert.LevelHandle = confidential.Handle(level)
	if revokedAt.Valid {
		cert.RevokedAt = &revokedAt.Time
	}
	return cert, nil
}

func nullID(v uint64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func addressOrEmpty(a id.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

// sqlLimit maps "no limit" to NULL, which LIMIT treats as ALL.
func sqlLimit(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}
