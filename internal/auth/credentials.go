package auth

import (
	"net/http"
	"strings"
)

// apiKeyFrom returns the x-api-key header.
func apiKeyFrom(r *http.Request) (string, error) {
	return strings.TrimSpace(r.Header.Get("x-api-key")), nil
}

// bearerFrom returns the token of an Authorization: Bearer header. A header
// with another scheme is an error rather than an absent credential.
func bearerFrom(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidScheme
	}
	return token, nil
}

// Secret returns the first credential the request carries, checking
// x-api-key before the bearer token.
func Secret(r *http.Request) string {
	if key, _ := apiKeyFrom(r); key != "" {
		return key
	}
	token, _ := bearerFrom(r)
	return token
}
