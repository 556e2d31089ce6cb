package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"stockroom.org/internal/token"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "

	// Cookie names are a wire convention shared with the HTTP collaborator.
	AccessCookie  = "Bearer"
	RefreshCookie = "Refresh"
)

// Strategy extracts a candidate token from a request and validates it into
// a principal. Implementations are read-only and idempotent, so the
// authenticator can race them freely.
type Strategy interface {
	// Extract returns the candidate token, or false when the request does
	// not carry this strategy's credential at all.
	Extract(r *http.Request) (string, bool)
	// Validate resolves the candidate into a principal or fails.
	Validate(ctx context.Context, candidate string) (*Principal, error)
}

// Validator is the shared validation pipeline behind every strategy:
// codec-verify the access token, confirm its ledger node is still Active,
// load the principal, and check the session mark embedded in the claims.
type Validator struct {
	store Store
	codec *token.Codec
}

// NewValidator wires the pipeline.
func NewValidator(store Store, codec *token.Codec) *Validator {
	return &Validator{store: store, codec: codec}
}

// ValidateAccess runs the pipeline for one access token.
func (v *Validator) ValidateAccess(ctx context.Context, candidate string) (*Principal, error) {
	claims, err := v.codec.Verify(token.ClassAccess, candidate)
	if err != nil {
		return nil, err
	}
	node, err := v.store.Credentials(ctx).FindByAccessToken(ctx, candidate)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRevokedOrUnknown
		}
		return nil, err
	}
	if !node.Valid {
		return nil, ErrTokenRotated
	}
	p, err := v.store.Principals(ctx).Find(ctx, claims.PrincipalID())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRevokedOrUnknown
		}
		return nil, err
	}
	if p.SessionMark != claims.SessionMark {
		return nil, ErrRevokedOrUnknown
	}
	return p, nil
}

// HeaderStrategy reads a bearer token from the Authorization header.
type HeaderStrategy struct {
	v *Validator
}

// NewHeaderStrategy builds the header-bearer strategy.
func NewHeaderStrategy(v *Validator) *HeaderStrategy { return &HeaderStrategy{v: v} }

func (s *HeaderStrategy) Extract(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return "", false
	}
	return tok, true
}

func (s *HeaderStrategy) Validate(ctx context.Context, candidate string) (*Principal, error) {
	return s.v.ValidateAccess(ctx, candidate)
}

// CookieStrategy reads a bearer token from a named cookie.
type CookieStrategy struct {
	v    *Validator
	name string
}

// NewCookieStrategy builds the cookie-bearer strategy.
func NewCookieStrategy(v *Validator, name string) *CookieStrategy {
	if name == "" {
		name = AccessCookie
	}
	return &CookieStrategy{v: v, name: name}
}

func (s *CookieStrategy) Extract(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.name)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}

func (s *CookieStrategy) Validate(ctx context.Context, candidate string) (*Principal, error) {
	return s.v.ValidateAccess(ctx, candidate)
}
