package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/tessera-id/authcore"
	"github.com/tessera-id/authcore/internal/ids"
)

var _ authcore.PrincipalStore = (*Store)(nil)

const principalColumns = `id, email, password_hash, active, mfa_enabled, token_version, department, created_at, updated_at`

func scanPrincipal(row interface{ Scan(...any) error }) (*authcore.Principal, error) {
	var p authcore.Principal
	err := row.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.Active, &p.MFAEnabled,
		&p.TokenVersion, &p.Department, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where email = $1
	`, strings.ToLower(email))
	return scanPrincipal(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where id = $1
	`, id)
	return scanPrincipal(row)
}

func (s *Store) Create(ctx context.Context, p *authcore.Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into principals (id, email, password_hash, active, mfa_enabled, department)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, p.ID, strings.ToLower(p.Email), p.PasswordHash, p.Active, p.MFAEnabled, p.Department)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authcore.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.execOnPrincipal(ctx, `
		update principals set password_hash = $2, updated_at = now() where id = $1
	`, id, hash)
}

func (s *Store) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	return s.execOnPrincipal(ctx, `
		update principals set mfa_enabled = $2, updated_at = now() where id = $1
	`, id, enabled)
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.execOnPrincipal(ctx, `
		update principals set active = $2, updated_at = now() where id = $1
	`, id, active)
}

func (s *Store) BumpTokenVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		update principals
		set token_version = token_version + 1, updated_at = now()
		where id = $1
		returning token_version
	`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, authcore.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) execOnPrincipal(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authcore.ErrNotFound
	}
	return nil
}
