package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/exohome-bridge/internal/exohome"
)

// Store persists per-account vendor credentials in SQLite.
//
// One row per account email: the password, the current bearer token,
// the vendor user id and the token's absolute expiry. Rows are written
// every time a token is refreshed and loaded once at session start, so
// a restart inside the token's lifetime skips the credential login.
type Store struct {
	db *sql.DB
}

// ErrNotFound is returned when no record exists for an email.
var ErrNotFound = errors.New("credentials: record not found")

// schema creates the credentials table. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	email            TEXT PRIMARY KEY,
	password         TEXT NOT NULL,
	token            TEXT NOT NULL DEFAULT '',
	user_id          TEXT NOT NULL DEFAULT '',
	token_expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at       TEXT NOT NULL
)`

// NewStore creates the store and ensures the schema exists.
//
// Parameters:
//   - ctx: Bounds schema creation
//   - db: An open SQLite connection (from infrastructure/database)
//
// Returns:
//   - *Store: Ready store
//   - error: If schema creation fails
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating credentials schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts the record for rec.Email.
//
// Satisfies exohome.CredentialStore, so a Client persists refreshed
// tokens without knowing about SQLite.
func (s *Store) Save(ctx context.Context, rec exohome.Credentials) error {
	query := `
		INSERT INTO credentials (email, password, token, user_id, token_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			password = excluded.password,
			token = excluded.token,
			user_id = excluded.user_id,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.Email, rec.Password, rec.Token, rec.UserID, rec.ExpiresAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving credentials for %s: %w", rec.Email, err)
	}
	return nil
}

// Load retrieves the record for an email.
// Returns ErrNotFound when the account has never been persisted.
func (s *Store) Load(ctx context.Context, email string) (exohome.Credentials, error) {
	query := `
		SELECT email, password, token, user_id, token_expires_at
		FROM credentials
		WHERE email = ?`

	var rec exohome.Credentials
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&rec.Email, &rec.Password, &rec.Token, &rec.UserID, &rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return exohome.Credentials{}, ErrNotFound
	}
	if err != nil {
		return exohome.Credentials{}, fmt.Errorf("loading credentials for %s: %w", email, err)
	}
	return rec, nil
}

// Delete removes the record for an email. Deleting a missing record is
// not an error.
func (s *Store) Delete(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE email = ?`, email); err != nil {
		return fmt.Errorf("deleting credentials for %s: %w", email, err)
	}
	return nil
}
