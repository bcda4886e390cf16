package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/tessera-id/authcore"
)

func TestMethodsForPrincipal(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	// Enrollment order, not method name, decides the row order.
	mock.ExpectQuery("from mfa_methods\\s+where principal_id = \\$1\\s+order by created_at").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{
			"principal_id", "method_type", "secret", "recipient", "verified", "last_used_counter", "created_at",
		}).
			AddRow("p1", "EMAIL", []byte(nil), "alice@example.com", true, int64(0), now.Add(-time.Hour)).
			AddRow("p1", "TOTP", []byte("raw-secret-bytes"), "", true, int64(1234), now))

	methods, err := store.MethodsForPrincipal(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, methods, 2)
	require.Equal(t, authcore.MFATypeEmail, methods[0].Type)
	require.Equal(t, authcore.MFATypeTOTP, methods[1].Type)
	require.Equal(t, int64(1234), methods[1].LastUsedCounter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMapsForeignKeyToNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into mfa_methods").
		WithArgs("ghost", "TOTP", []byte("secret"), "", false, int64(0)).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := store.Upsert(context.Background(), authcore.MFAMethod{
		PrincipalID: "ghost",
		Type:        authcore.MFATypeTOTP,
		Secret:      []byte("secret"),
	})
	require.ErrorIs(t, err, authcore.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMethodNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from mfa_methods").
		WithArgs("p1", "SMS").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "p1", authcore.MFATypeSMS)
	require.ErrorIs(t, err, authcore.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLastUsedCounterForwardOnly(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("set last_used_counter = greatest").
		WithArgs("p1", "TOTP", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateLastUsedCounter(context.Background(), "p1", authcore.MFATypeTOTP, 99))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceBackupCodesRunsInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from backup_codes").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec("insert into backup_codes").
		WithArgs("p1", "digest-a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into backup_codes").
		WithArgs("p1", "digest-b").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.ReplaceBackupCodes(context.Background(), "p1", []string{"digest-a", "digest-b"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeBackupCode(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from backup_codes where principal_id = \\$1 and digest = \\$2").
		WithArgs("p1", "digest-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select count\\(\\*\\) from backup_codes").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectCommit()

	remaining, consumed, err := store.ConsumeBackupCode(context.Background(), "p1", "digest-a")
	require.NoError(t, err)
	require.True(t, consumed)
	require.Equal(t, 7, remaining)

	// A digest that matches nothing still reports the remaining pool.
	mock.ExpectBegin()
	mock.ExpectExec("delete from backup_codes where principal_id = \\$1 and digest = \\$2").
		WithArgs("p1", "digest-x").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select count\\(\\*\\) from backup_codes").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectCommit()

	remaining, consumed, err = store.ConsumeBackupCode(context.Background(), "p1", "digest-x")
	require.NoError(t, err)
	require.False(t, consumed)
	require.Equal(t, 7, remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}
