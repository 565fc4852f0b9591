// Package postgres implements the user.Store contract on PostgreSQL via
// pgx. Schema management runs through goose with embedded migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tamrel/identio/user"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pgUniqueViolation = "23505"

// Store is the pgx-backed system of record for users.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate brings the schema up to date. It takes a database/sql handle
// because goose drives migrations through that interface; open it with the
// pgx stdlib driver against the same DSN as the pool.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

const userColumns = `id, username, email, password_hash, verified, provider,
	external_id, totp_secret, totp_enabled, status, deleted_at, created_at,
	updated_at, last_login_at`

func (s *Store) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE lower(email) = lower($1) AND deleted_at IS NULL`
	return s.queryOne(ctx, query, email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE lower(username) = lower($1) AND deleted_at IS NULL`
	return s.queryOne(ctx, query, username)
}

func (s *Store) FindByID(ctx context.Context, id string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE id = $1 AND deleted_at IS NULL`
	return s.queryOne(ctx, query, id)
}

func (s *Store) FindByExternalID(ctx context.Context, provider user.Provider, externalID string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE provider = $1 AND external_id = $2 AND external_id <> ''
		AND deleted_at IS NULL`
	return s.queryOne(ctx, query, string(provider), externalID)
}

func (s *Store) FindByEmailIncludeDeleted(ctx context.Context, email string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE lower(email) = lower($1)`
	return s.queryOne(ctx, query, email)
}

func (s *Store) Insert(ctx context.Context, u *user.User) error {
	query := `INSERT INTO users (id, username, email, password_hash, verified,
		provider, external_id, totp_secret, totp_enabled, status, created_at,
		updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Verified,
		string(u.Provider), u.ExternalID, u.TOTPSecret, u.TOTPEnabled,
		int16(u.Status), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if dup := duplicateField(err); dup != "" {
			return &user.DuplicateError{Field: dup}
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// UpdateFields applies the partial update, including to soft-deleted rows.
func (s *Store) UpdateFields(ctx context.Context, id string, f user.Fields) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if f.PasswordHash != nil {
		add("password_hash", *f.PasswordHash)
	}
	if f.Verified != nil {
		add("verified", *f.Verified)
	}
	if f.TOTPSecret != nil {
		add("totp_secret", *f.TOTPSecret)
	}
	if f.TOTPEnabled != nil {
		add("totp_enabled", *f.TOTPEnabled)
	}
	if f.Status != nil {
		add("status", int16(*f.Status))
	}
	if f.LastLoginAt != nil {
		add("last_login_at", *f.LastLoginAt)
	}
	if f.SetDeletedAt {
		add("deleted_at", f.DeletedAt)
	}

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*user.User, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u        user.User
		provider string
		status   int16
		deleted  *time.Time
		lastSeen *time.Time
	)

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.Verified, &provider, &u.ExternalID, &u.TOTPSecret, &u.TOTPEnabled,
		&status, &deleted, &u.CreatedAt, &u.UpdatedAt, &lastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Provider = user.Provider(provider)
	u.Status = user.Status(status)
	u.DeletedAt = deleted
	u.LastLoginAt = lastSeen

	return &u, nil
}

// duplicateField maps a unique-violation constraint name to the logical
// field the identity core branches on.
func duplicateField(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return ""
	}

	switch pgErr.ConstraintName {
	case "users_username_key":
		return "username"
	case "users_email_key":
		return "email"
	case "users_external_id_key":
		return "external_id"
	default:
		return ""
	}
}
