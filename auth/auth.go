// Package auth authenticates operator requests to the gateway's management
// endpoints. Payment-gated resource endpoints do not use it; the payment
// itself is their credential.
package auth

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"

	"github.com/openx402/x402-go/utils"
)

// HeaderName is the API key request header.
const HeaderName = "X-API-Key"

// Authenticator checks API keys against either a single static key or a
// key table in a SQL database. Exactly one of the two must be configured.
type Authenticator struct {
	staticKey string
	db        *sql.DB
}

// NewStatic creates an authenticator that accepts one fixed API key.
func NewStatic(key string) (*Authenticator, error) {
	if key == "" {
		return nil, errors.New("static API key is empty")
	}
	return &Authenticator{staticKey: key}, nil
}

// NewDatabase creates an authenticator that looks keys up in the given
// database. The caller owns the connection.
func NewDatabase(db *sql.DB) (*Authenticator, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	return &Authenticator{db: db}, nil
}

// Authenticate authenticates the request. A non-nil return is a StatusError
// carrying the HTTP status to respond with.
func (a *Authenticator) Authenticate(r *http.Request) error {

	// Get the API key from the request header
	providedKey := r.Header.Get(HeaderName)
	if providedKey == "" {
		return utils.NewStatusError(
			errors.New("unauthorized"),
			http.StatusUnauthorized,
		)
	}

	// Check against the static key
	if a.staticKey != "" {
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(a.staticKey)) != 1 {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}
		return nil
	}

	// Check the API key exists in the database
	var apiKey string
	err := a.db.QueryRow(
		"SELECT api_key FROM users WHERE api_key = $1",
		providedKey,
	).Scan(&apiKey)

	if err == sql.ErrNoRows {
		return utils.NewStatusError(
			errors.New("unauthorized"),
			http.StatusUnauthorized,
		)
	}
	if err != nil {
		return utils.NewStatusError(
			errors.New("failed to get key from database"),
			http.StatusInternalServerError,
		)
	}

	return nil
}

// Middleware wraps a handler with authentication.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			status := http.StatusUnauthorized
			var se utils.StatusError
			if errors.As(err, &se) {
				status = se.Status()
			}
			http.Error(w, err.Error(), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}
