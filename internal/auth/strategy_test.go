package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stockroom.org/internal/token"
)

func newValidatorFixture(t *testing.T) (*Service, *Validator, TokenPair, *Principal) {
	t.Helper()
	svc, store := newTestService(t)
	codec, err := token.NewCodec("access-secret-for-tests", "refresh-secret-for-tests")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	pair, p := signupAndLogin(t, svc)
	return svc, NewValidator(store, codec), pair, p
}

func TestHeaderStrategyExtract(t *testing.T) {
	s := NewHeaderStrategy(nil)

	r := httptest.NewRequest(http.MethodGet, "/v1/items/x", nil)
	if _, ok := s.Extract(r); ok {
		t.Fatalf("no header must yield no candidate")
	}

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	tok, ok := s.Extract(r)
	if !ok || tok != "abc.def.ghi" {
		t.Fatalf("unexpected extraction: %q, %v", tok, ok)
	}

	r.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	if _, ok := s.Extract(r); ok {
		t.Fatalf("non-bearer scheme must yield no candidate")
	}

	r.Header.Set("Authorization", "Bearer   ")
	if _, ok := s.Extract(r); ok {
		t.Fatalf("empty bearer must yield no candidate")
	}
}

func TestCookieStrategyExtract(t *testing.T) {
	s := NewCookieStrategy(nil, AccessCookie)

	r := httptest.NewRequest(http.MethodGet, "/v1/items/x", nil)
	if _, ok := s.Extract(r); ok {
		t.Fatalf("no cookie must yield no candidate")
	}

	r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "abc.def.ghi"})
	tok, ok := s.Extract(r)
	if !ok || tok != "abc.def.ghi" {
		t.Fatalf("unexpected extraction: %q, %v", tok, ok)
	}
}

func TestValidateAccessPipeline(t *testing.T) {
	svc, validator, pair, p := newValidatorFixture(t)
	ctx := context.Background()

	got, err := validator.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("resolved wrong principal: %s", got.ID)
	}

	// A structurally valid token that was never persisted is revoked/unknown.
	codec, _ := token.NewCodec("access-secret-for-tests", "refresh-secret-for-tests")
	orphan, _, err := codec.Sign(token.ClassAccess, p.ID, p.SessionMark, svc.AccessTTL())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := validator.ValidateAccess(ctx, orphan); !errors.Is(err, ErrRevokedOrUnknown) {
		t.Fatalf("expected ErrRevokedOrUnknown, got %v", err)
	}

	// Garbage fails at the codec.
	if _, err := validator.ValidateAccess(ctx, "garbage"); !errors.Is(err, token.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestValidateAccessRejectsRotatedNode(t *testing.T) {
	svc, validator, pair, _ := newValidatorFixture(t)
	ctx := context.Background()

	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// The old access token's node is Rotated now.
	if _, err := validator.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRotated) {
		t.Fatalf("expected ErrTokenRotated, got %v", err)
	}
}

func TestValidateAccessRejectsRefreshToken(t *testing.T) {
	_, validator, pair, _ := newValidatorFixture(t)

	// Refresh tokens are signed with the other class secret.
	if _, err := validator.ValidateAccess(context.Background(), pair.RefreshToken); !errors.Is(err, token.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
