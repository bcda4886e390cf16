// Package pgstore backs the durable store interfaces with PostgreSQL
// through database/sql and the pgx stdlib driver.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements the principal, MFA method, and RBAC store interfaces
// over one connection pool.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool, for callers that manage the
// connection themselves and for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the tables when they do not exist yet. Production
// deployments normally run migrations instead.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
create table if not exists principals (
	id            text primary key,
	email         text not null unique,
	password_hash text not null,
	active        boolean not null default true,
	mfa_enabled   boolean not null default false,
	token_version bigint not null default 0,
	department    text not null default '',
	created_at    timestamptz not null default now(),
	updated_at    timestamptz not null default now()
);

create table if not exists mfa_methods (
	principal_id      text not null references principals(id) on delete cascade,
	method_type       text not null,
	secret            bytea,
	recipient         text not null default '',
	verified          boolean not null default false,
	last_used_counter bigint not null default 0,
	created_at        timestamptz not null default now(),
	primary key (principal_id, method_type)
);

create table if not exists backup_codes (
	principal_id text not null references principals(id) on delete cascade,
	digest       text not null,
	primary key (principal_id, digest)
);

create table if not exists roles (
	id          text primary key,
	name        text not null unique,
	description text not null default '',
	parent_id   text references roles(id) on delete set null
);

create table if not exists permissions (
	id         text primary key,
	resource   text not null,
	action     text not null,
	conditions jsonb,
	unique (resource, action, conditions)
);

create table if not exists role_permissions (
	role_id       text not null references roles(id) on delete cascade,
	permission_id text not null references permissions(id) on delete cascade,
	primary key (role_id, permission_id)
);

create table if not exists principal_roles (
	principal_id text not null references principals(id) on delete cascade,
	role_id      text not null references roles(id) on delete cascade,
	primary key (principal_id, role_id)
);

create table if not exists principal_permissions (
	principal_id  text not null references principals(id) on delete cascade,
	permission_id text not null references permissions(id) on delete cascade,
	primary key (principal_id, permission_id)
);
`

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
