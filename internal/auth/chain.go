package auth

import (
	"net/http"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// ChainAuthenticator tries authenticators in order; the first success wins.
// When all fail, the reported failure is the first one whose credential was
// actually presented, so a wrong bearer token is not masked by a missing
// x-api-key.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator creates a chain of authenticators.
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	return &ChainAuthenticator{authenticators: authenticators}
}

// Validate tries each authenticator in order until one succeeds.
func (c *ChainAuthenticator) Validate(r *http.Request) Result {
	if len(c.authenticators) == 0 {
		return failure(TypeNone, false, ErrMissingCredential)
	}

	var failures []Result
	for _, a := range c.authenticators {
		res := a.Validate(r)
		if res.Valid {
			return res
		}
		failures = append(failures, res)
	}

	if presented, ok := lo.Find(failures, func(res Result) bool { return res.Presented }); ok {
		return presented
	}
	return failure(TypeNone, false, ErrMissingCredential)
}

// Type returns TypeNone since this is a meta-authenticator.
func (c *ChainAuthenticator) Type() Type {
	return TypeNone
}

// ValidateResult is Validate in mo.Result form.
func (c *ChainAuthenticator) ValidateResult(r *http.Request) mo.Result[Result] {
	res := c.Validate(r)
	if res.Valid {
		return mo.Ok(res)
	}
	return mo.Err[Result](res.Err)
}
