package httpapi

import (
	"net/http"
	"testing"

	"stockroom.org/internal/auth"
)

func TestProtectedPathWithoutCredentials(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/items/some-item", nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestGarbageTokenIsUnauthorized(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/items/some-item", map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestCookieCredentialAuthenticates(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")
	pair := c.login("ada")

	resp := c.post("/v1/projects", map[string]any{"name": "shelving"}, map[string]string{
		"Cookie": auth.AccessCookie + "=" + pair.AccessToken,
	})
	wantStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

// A rotated access token is a well-behaved client holding a stale pair: the
// contract answers 408 so it knows to refresh instead of re-authenticating.
func TestRotatedAccessTokenGets408(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")
	pair := c.login("ada")

	resp := c.post("/v1/auth/refresh", map[string]any{"refresh_token": pair.RefreshToken}, nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/items/some-item", bearer(pair))
	wantStatus(t, resp, http.StatusRequestTimeout)
	resp.Body.Close()
}

func TestHeaderBeatsBadCookie(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")
	pair := c.login("ada")

	// one bogus strategy input must not sink the request
	resp := c.post("/v1/projects", map[string]any{"name": "shelving"}, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
		"Cookie":        auth.AccessCookie + "=garbage",
	})
	wantStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}
