package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"stockroom.org/internal/audit"
	"stockroom.org/internal/auth"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal, err := a.svc.Signup(r.Context(), req.Username, req.Email, req.Password, auth.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "username, email and password are required")
		case errors.Is(err, auth.ErrAlreadyExists):
			writeError(w, r, http.StatusConflict, "username or email already taken")
		default:
			writeError(w, r, http.StatusInternalServerError, "signup failed")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"principal_id": principal.ID,
		"username":     principal.Username,
		"role":         string(principal.Role),
	})

	writeJSON(w, http.StatusCreated, "signed up", principal)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, principal, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	a.setTokenCookies(w, pair)

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"principal_id": principal.ID,
		"username":     principal.Username,
	})

	writeJSON(w, http.StatusOK, "logged in", pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	refreshToken := a.refreshTokenFrom(w, r)
	if refreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh token is required")
		return
	}

	pair, err := a.svc.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrReplayDetected) {
			_ = audit.LogEvent(r.Context(), "auth.replay_detected", map[string]any{
				"remote_addr": clientIP(r),
			})
		}
		respondAuthError(w, r, err)
		return
	}

	a.setTokenCookies(w, pair)

	_ = audit.LogEvent(r.Context(), "auth.refresh", nil)

	writeJSON(w, http.StatusOK, "token rotated", pair)
}

// handleLogout revokes the whole credential family behind whichever token the
// caller presents. A token that maps to nothing is already logged out, so the
// response is success either way.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	tok := a.logoutTokenFrom(w, r)
	if tok == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.svc.Logout(r.Context(), tok); err != nil && !errors.Is(err, auth.ErrRevokedOrUnknown) {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	a.clearTokenCookies(w)

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)

	writeJSON(w, http.StatusOK, "logged out", nil)
}

// refreshTokenFrom prefers the JSON body and falls back to the Refresh cookie.
func (a *API) refreshTokenFrom(w http.ResponseWriter, r *http.Request) string {
	if r.Body != nil && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err == nil {
			if tok := strings.TrimSpace(req.RefreshToken); tok != "" {
				return tok
			}
		}
	}
	if cookie, err := r.Cookie(auth.RefreshCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// logoutTokenFrom accepts any token of the pair: body, bearer header, or
// either cookie.
func (a *API) logoutTokenFrom(w http.ResponseWriter, r *http.Request) string {
	if r.Body != nil && r.ContentLength != 0 {
		var req logoutRequest
		if err := decodeJSON(w, r, &req); err == nil {
			if tok := strings.TrimSpace(req.Token); tok != "" {
				return tok
			}
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		if tok := strings.TrimSpace(header[len("Bearer "):]); tok != "" {
			return tok
		}
	}
	for _, name := range []string{auth.AccessCookie, auth.RefreshCookie} {
		if cookie, err := r.Cookie(name); err == nil && strings.TrimSpace(cookie.Value) != "" {
			return strings.TrimSpace(cookie.Value)
		}
	}
	return ""
}

func (a *API) setTokenCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(a.svc.AccessTTL() / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(a.svc.RefreshTTL() / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearTokenCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: auth.AccessCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: auth.RefreshCookie, Value: "", Path: "/v1/auth", MaxAge: -1, HttpOnly: true})
}
