package pgstore

import (
	"context"
	"database/sql"

	"github.com/tessera-id/authcore"
)

var _ authcore.MFAMethodStore = (*Store)(nil)

func (s *Store) MethodsForPrincipal(ctx context.Context, principalID string) ([]authcore.MFAMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		select principal_id, method_type, secret, recipient, verified, last_used_counter, created_at
		from mfa_methods
		where principal_id = $1
		order by created_at
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []authcore.MFAMethod
	for rows.Next() {
		var m authcore.MFAMethod
		if err := rows.Scan(&m.PrincipalID, &m.Type, &m.Secret, &m.Recipient, &m.Verified, &m.LastUsedCounter, &m.CreatedAt); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (s *Store) Upsert(ctx context.Context, m authcore.MFAMethod) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mfa_methods (principal_id, method_type, secret, recipient, verified, last_used_counter)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (principal_id, method_type) do update
		set secret = excluded.secret,
		    recipient = excluded.recipient,
		    verified = excluded.verified,
		    last_used_counter = excluded.last_used_counter
	`, m.PrincipalID, m.Type, m.Secret, m.Recipient, m.Verified, m.LastUsedCounter)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authcore.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, principalID string, t authcore.MFAMethodType) error {
	res, err := s.db.ExecContext(ctx, `
		delete from mfa_methods where principal_id = $1 and method_type = $2
	`, principalID, t)
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

func (s *Store) UpdateLastUsedCounter(ctx context.Context, principalID string, t authcore.MFAMethodType, counter int64) error {
	// Only move forward; a stale writer must not reopen a spent time step.
	_, err := s.db.ExecContext(ctx, `
		update mfa_methods
		set last_used_counter = greatest(last_used_counter, $3)
		where principal_id = $1 and method_type = $2
	`, principalID, t, counter)
	return err
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, digests []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from backup_codes where principal_id = $1`, principalID); err != nil {
		return err
	}
	for _, digest := range digests {
		if _, err := tx.ExecContext(ctx, `
			insert into backup_codes (principal_id, digest) values ($1, $2)
			on conflict do nothing
		`, principalID, digest); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode deletes the matching digest and reports how many
// codes remain. The delete-and-count runs in one transaction so a code
// spends at most once even under concurrent attempts.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID, digest string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		delete from backup_codes where principal_id = $1 and digest = $2
	`, principalID, digest)
	if err != nil {
		return 0, false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from backup_codes where principal_id = $1
	`, principalID).Scan(&remaining); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return remaining, aff > 0, nil
}
