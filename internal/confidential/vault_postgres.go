package confidential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresVault stores sealed values and grants next to the ledger. Calls made
// inside a ledger transaction join it, so a rolled back write takes its handles
// and grants with it.
type PostgresVault struct {
	db *sql.DB
}

func NewPostgresVault(db *sql.DB) *PostgresVault {
	return &PostgresVault{db: db}
}

func (v *PostgresVault) exec(ctx context.Context) txcontext.Executor {
	return txcontext.Or(ctx, v.db)
}

func (v *PostgresVault) PutSealed(ctx context.Context, h Handle, blob []byte) error {
	res, err := v.exec(ctx).ExecContext(ctx,
		`INSERT INTO confidential_values (handle, sealed) VALUES ($1, $2) ON CONFLICT (handle) DO NOTHING`,
		h.String(), blob,
	)
	if err != nil {
		return fmt.Errorf("store sealed value: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("handle %s: %w", h, sentinel.ErrConflict)
	}
	return nil
}

func (v *PostgresVault) Sealed(ctx context.Context, h Handle) ([]byte, error) {
	var blob []byte
	err := v.exec(ctx).QueryRowContext(ctx,
		`SELECT sealed FROM confidential_values WHERE handle = $1`, h.String(),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("handle %s: %w", h, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load sealed value: %w", err)
	}
	return blob, nil
}

func (v *PostgresVault) Grant(ctx context.Context, h Handle, account id.Address) error {
	res, err := v.exec(ctx).ExecContext(ctx, `
		INSERT INTO confidential_grants (handle, account)
		SELECT handle, $2 FROM confidential_values WHERE handle = $1
		ON CONFLICT (handle, account) DO NOTHING`,
		h.String(), account.String(),
	)
	if err != nil {
		return fmt.Errorf("grant %s: %w", h, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	// Zero rows means an unknown handle or a repeated grant.
	if _, err := v.Sealed(ctx, h); err != nil {
		return err
	}
	return nil
}

func (v *PostgresVault) Granted(ctx context.Context, h Handle, account id.Address) (bool, error) {
	var known, granted bool
	err := v.exec(ctx).QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM confidential_values WHERE handle = $1),
			EXISTS (SELECT 1 FROM confidential_grants WHERE handle = $1 AND account = $2)`,
		h.String(), account.String(),
	).Scan(&known, &granted)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", h, err)
	}
	if !known {
		return false, fmt.Errorf("handle %s: %w", h, sentinel.ErrNotFound)
	}
	return granted, nil
}
