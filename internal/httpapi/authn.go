package httpapi

import (
	"errors"
	"net/http"

	"stockroom.org/internal/auth"
	"stockroom.org/internal/obs"
	"stockroom.org/internal/token"
)

var publicPaths = []string{
	"/v1/auth/signup",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/openapi.yaml",
	"/",
}

// withAuth races the configured strategies against every non-public request
// and stashes the resolved principal in the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.authn == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.authn.Authenticate(r.Context(), r)
		if err != nil {
			obs.CountAuthFailure(failureReason(err))
			respondAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), *principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondAuthError maps credential failures onto the wire contract: rotated
// access tokens get 408 so well-behaved clients know to refresh, replays get
// 403 because the family is already gone, unknown tokens get 404, and
// everything that never identified a principal stays a plain 401.
func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenRotated):
		writeError(w, r, http.StatusRequestTimeout, "token already rotated")
	case errors.Is(err, auth.ErrReplayDetected):
		writeError(w, r, http.StatusForbidden, "refresh token reuse detected")
	case errors.Is(err, auth.ErrRevokedOrUnknown):
		writeError(w, r, http.StatusNotFound, "token revoked or unknown")
	case errors.Is(err, token.ErrExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, token.ErrInvalidSignature), errors.Is(err, token.ErrMalformed):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
	default:
		writeError(w, r, http.StatusInternalServerError, "authentication error")
	}
}

// RequireRole gates a handler on an exact role. The miss answer is 404 so a
// caller without the role cannot probe which paths exist.
func RequireRole(role auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok || principal.Role != role {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenRotated):
		return "rotated"
	case errors.Is(err, auth.ErrReplayDetected):
		return "replay"
	case errors.Is(err, auth.ErrRevokedOrUnknown):
		return "revoked"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "signature"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal"
	}
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
