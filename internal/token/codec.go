// Package token signs and verifies the bearer tokens issued by the
// credential ledger. The codec is pure: it performs no I/O and keeps no
// mutable state beyond the injected secrets.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "stockroom"

// Class distinguishes the two token families. Each class is signed with its
// own secret so that compromise of one cannot forge the other.
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

var (
	ErrExpired          = errors.New("token: expired")
	ErrMalformed        = errors.New("token: malformed")
	ErrInvalidSignature = errors.New("token: invalid signature")
)

// Claims carried by every issued token.
type Claims struct {
	SessionMark string `json:"mark"`
	Class       Class  `json:"class"`
	jwt.RegisteredClaims
}

// PrincipalID returns the subject claim.
func (c *Claims) PrincipalID() string { return c.Subject }

// Codec signs and verifies tokens with HMAC-SHA-512 symmetric secrets.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a codec from the two class secrets. Secrets are
// injected configuration; the codec never reads the environment.
func NewCodec(accessSecret, refreshSecret string, opts ...Option) (*Codec, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token: both access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	c := &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign issues a token of the given class for a principal. The sessionMark is
// embedded so that changing the mark on the principal invalidates every
// previously issued token without touching the ledger.
func (c *Codec) Sign(class Class, principalID, sessionMark string, ttl time.Duration) (string, time.Time, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", time.Time{}, errors.New("token: principal id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token: ttl must be greater than zero")
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		SessionMark: sessionMark,
		Class:       class,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.secretFor(class))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, class and timestamps and returns the claims.
func (c *Codec) Verify(class Class, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS512 {
			return nil, ErrInvalidSignature
		}
		return c.secretFor(class), nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(issuer))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Class != class {
		// Signed with the right secret but for the other class; treat as
		// a signature-level failure, never accept cross-class tokens.
		return nil, ErrInvalidSignature
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformed
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (c *Codec) secretFor(class Class) []byte {
	if class == ClassRefresh {
		return c.refreshSecret
	}
	return c.accessSecret
}
