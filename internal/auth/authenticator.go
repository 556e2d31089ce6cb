package auth

import (
	"context"
	"errors"
	"net/http"

	"stockroom.org/internal/token"
)

// Authenticator races all configured strategies against a request and takes
// the first success. Losing strategies are left to finish on their own —
// they are read-only, so nothing needs cancelling.
type Authenticator struct {
	strategies []Strategy
}

// NewAuthenticator builds an authenticator over a fixed strategy registry.
func NewAuthenticator(strategies ...Strategy) *Authenticator {
	return &Authenticator{strategies: strategies}
}

// Authenticate resolves a principal from the request. Every strategy runs in
// its own goroutine; the first success wins. When all fail the most specific
// failure is returned. If requiredRoles is non-empty, a resolved principal
// whose role is not among them is rejected with ErrUnauthenticated — the
// caller must not learn whether the resource exists.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, requiredRoles ...Role) (*Principal, error) {
	if len(a.strategies) == 0 {
		return nil, ErrUnauthenticated
	}

	type outcome struct {
		principal *Principal
		err       error
	}
	results := make(chan outcome, len(a.strategies))

	for _, strategy := range a.strategies {
		go func(s Strategy) {
			candidate, ok := s.Extract(r)
			if !ok {
				results <- outcome{err: ErrUnauthenticated}
				return
			}
			p, err := s.Validate(ctx, candidate)
			results <- outcome{principal: p, err: err}
		}(strategy)
	}

	var failures []error
	for range a.strategies {
		res := <-results
		if res.err == nil {
			return a.checkRole(res.principal, requiredRoles)
		}
		failures = append(failures, res.err)
	}
	return nil, mostSpecific(failures)
}

func (a *Authenticator) checkRole(p *Principal, required []Role) (*Principal, error) {
	if len(required) == 0 {
		return p, nil
	}
	for _, role := range required {
		if p.Role == role {
			return p, nil
		}
	}
	return nil, ErrUnauthenticated
}

// mostSpecific picks the failure that tells the operator the most: a rotated
// node beats codec-level failures, which beat a plain ledger miss, which
// beats "no credential presented".
func mostSpecific(failures []error) error {
	ranked := []error{
		ErrTokenRotated,
		token.ErrExpired,
		token.ErrInvalidSignature,
		token.ErrMalformed,
		ErrRevokedOrUnknown,
	}
	for _, sentinel := range ranked {
		for _, err := range failures {
			if errors.Is(err, sentinel) {
				return err
			}
		}
	}
	for _, err := range failures {
		if !errors.Is(err, ErrUnauthenticated) {
			return err
		}
	}
	return ErrUnauthenticated
}
