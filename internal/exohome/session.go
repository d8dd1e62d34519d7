package exohome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// tokenLifetime is how long a freshly issued bearer token is considered
// valid. The vendor issues 30-day tokens; refreshing a day early avoids
// racing the server-side expiry.
const tokenLifetime = 29 * 24 * time.Hour

// Session is the authentication state for one Exohome account.
// Owned by the Client; mutated only on successful login.
//
// Invariant: Token is non-empty whenever ExpiresAt is in the future.
type Session struct {
	Email        string
	Password     string
	UserID       string
	Token        string
	ExpiresAt    int64 // unix seconds
	InstanceName string
}

// Expired reports whether the bearer token must be refreshed before use.
func (s Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// Credentials is the persisted per-account record, keyed by email.
// Written every time a token is refreshed, loaded at session start.
type Credentials struct {
	Email     string
	Password  string
	Token     string
	UserID    string
	ExpiresAt int64
}

// CredentialStore persists refreshed credentials. Implemented by
// internal/credentials on SQLite; nil disables persistence.
type CredentialStore interface {
	Save(ctx context.Context, rec Credentials) error
}

// loginResponse is the HTTP login response payload.
type loginResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// apiError is the error envelope returned by the vendor REST API.
type apiError struct {
	Errors []struct {
		Title string `json:"title"`
	} `json:"errors"`
}

// Session returns the current authentication state.
func (c *Client) Session() Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

// RestoreSession preloads a previously persisted token so that a fresh
// credential login is skipped while the token is still valid.
func (c *Client) RestoreSession(token, userID string, expiresAt int64) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.session.Token = token
	c.session.UserID = userID
	c.session.ExpiresAt = expiresAt
}

// EnsureValid returns a session with a usable bearer token, performing
// a credential login first when the cached token has expired.
//
// Exactly one login happens per expiry: callers polling on an interval
// see zero logins while the token is fresh.
//
// Returns:
//   - Session: The (possibly refreshed) session
//   - error: ErrInvalidCredentials on rejected credentials,
//     ErrRequestFailed on any other login failure
func (c *Client) EnsureValid(ctx context.Context) (Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if !c.session.Expired(c.now()) {
		return c.session, nil
	}

	if err := c.authenticateLocked(ctx); err != nil {
		return Session{}, err
	}
	return c.session, nil
}

// Authenticate performs an unconditional credential login, replacing
// the cached token. Used at setup to validate fresh credentials.
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if err := c.authenticateLocked(ctx); err != nil {
		return Session{}, err
	}
	return c.session, nil
}

// authenticateLocked performs the HTTP credential login and persists
// the refreshed record. Caller holds sessionMu.
func (c *Client) authenticateLocked(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.session.Email,
		"password": c.session.Password,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding login payload: %w", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/session", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: building login request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login request: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading login response: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: login returned %d: %s", ErrRequestFailed, resp.StatusCode, apiErrorTitle(body))
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return fmt.Errorf("%w: decoding login response: %w", ErrRequestFailed, err)
	}
	if login.Token == "" {
		return fmt.Errorf("%w: login response missing token", ErrRequestFailed)
	}

	c.session.UserID = login.ID
	c.session.Token = login.Token
	c.session.ExpiresAt = c.now().Add(tokenLifetime).Unix()

	c.logger.Info("authenticated with vendor cloud",
		"account", c.session.Email,
		"token_expires_at", c.session.ExpiresAt,
	)

	if c.store != nil {
		rec := Credentials{
			Email:     c.session.Email,
			Password:  c.session.Password,
			Token:     c.session.Token,
			UserID:    c.session.UserID,
			ExpiresAt: c.session.ExpiresAt,
		}
		if err := c.store.Save(ctx, rec); err != nil {
			// Persistence failure is not fatal; the token still works
			// for this process lifetime.
			c.logger.Warn("persisting credentials failed", "account", c.session.Email, "error", err)
		}
	}

	return nil
}

// apiErrorTitle extracts errors[0].title from a REST error body, or a
// placeholder when the body carries no usable envelope.
func apiErrorTitle(body []byte) string {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 && envelope.Errors[0].Title != "" {
		return envelope.Errors[0].Title
	}
	return "no error detail"
}
