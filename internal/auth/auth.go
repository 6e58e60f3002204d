// Package auth authenticates gateway clients.
//
// Clients present a gateway-issued key (sk-gw-...) either as x-api-key or as
// an Authorization: Bearer token. The key is hashed and resolved to its
// storage.KeyRecord through the key cache, falling back to the store on a
// miss. Disabled keys are rejected. Admin routes use a single static token.
package auth

import (
	"errors"
	"net/http"

	"github.com/omarluq/cc-gateway/internal/storage"
)

// Type represents the authentication method used.
type Type string

const (
	// TypeAPIKey represents x-api-key header authentication.
	TypeAPIKey Type = "api_key"
	// TypeBearer represents Authorization: Bearer token authentication.
	TypeBearer Type = "bearer"
	// TypeNone represents no authentication or failed auth with no valid type.
	TypeNone Type = "none"
)

// Authentication failures. Result.Error carries the message.
var (
	ErrMissingCredential = errors.New("missing x-api-key or authorization header")
	ErrInvalidScheme     = errors.New("invalid authorization scheme")
	ErrInvalidKey        = errors.New("invalid api key")
	ErrKeyDisabled       = errors.New("api key is disabled")
)

// Result contains the outcome of an authentication attempt.
type Result struct {
	// Err is the failure cause, nil when Valid.
	Err error
	// Type indicates which method was used or attempted.
	Type Type
	// Error is Err's message, kept for the response body.
	Error string
	// Key is the resolved key record on success. Static token
	// authenticators leave it zero.
	Key storage.KeyRecord
	// Presented reports whether the request carried this method's credential.
	Presented bool
	// Valid indicates whether authentication succeeded.
	Valid bool
}

func failure(t Type, presented bool, err error) Result {
	return Result{Type: t, Presented: presented, Err: err, Error: err.Error()}
}

// Authenticator checks a request for credentials.
type Authenticator interface {
	Validate(r *http.Request) Result
	Type() Type
}
