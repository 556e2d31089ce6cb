package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stockroom.org/internal/auth"
	"stockroom.org/internal/stream"
	"stockroom.org/internal/token"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func buildAPI(t *testing.T) (*API, *stream.Stream) {
	t.Helper()

	codec, err := token.NewCodec("access-secret-for-tests", "refresh-secret-for-tests")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	store := auth.NewInMemory()
	events := stream.New()
	svc, err := auth.NewService(store, codec, auth.WithEvents(events))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	validator := auth.NewValidator(store, codec)
	authn := auth.NewAuthenticator(
		auth.NewHeaderStrategy(validator),
		auth.NewCookieStrategy(validator, auth.AccessCookie),
	)

	api := New(ReadyProbe{}, "test", svc, store, authn, auth.NewResolver(store), events)
	api.rateBurst = 1000
	api.ratePerSec = 1000
	return api, events
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	api, _ := buildAPI(t)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

type testEnvelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeData[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var env testEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return v
}

func wantStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		t.Fatalf("status = %d, want %d", r.StatusCode, want)
	}
}

func (c *apiClient) signup(username, role string) auth.Principal {
	c.t.Helper()
	resp := c.post("/v1/auth/signup", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse",
		"role":     role,
	}, nil)
	wantStatus(c.t, resp, http.StatusCreated)
	return decodeData[auth.Principal](c.t, resp)
}

func (c *apiClient) login(username string) auth.TokenPair {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"username": username,
		"password": "correct horse",
	}, nil)
	wantStatus(c.t, resp, http.StatusOK)
	return decodeData[auth.TokenPair](c.t, resp)
}

func bearer(pair auth.TokenPair) map[string]string {
	return map[string]string{"Authorization": "Bearer " + pair.AccessToken}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/info", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/openapi.yaml", nil)
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml; charset=utf-8" {
		t.Fatalf("openapi content type = %q", ct)
	}
	resp.Body.Close()
}

func TestSignupValidation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/signup", map[string]any{"username": "ada"}, nil)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	c.signup("ada", "teacher")

	resp = c.post("/v1/auth/signup", map[string]any{
		"username": "ada",
		"email":    "ada@example.com",
		"password": "correct horse",
	}, nil)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestLoginSetsCookiesAndTokens(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")

	resp := c.post("/v1/auth/login", map[string]any{
		"username": "ada",
		"password": "wrong",
	}, nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/v1/auth/login", map[string]any{
		"username": "ada",
		"password": "correct horse",
	}, nil)
	wantStatus(t, resp, http.StatusOK)

	var access, refresh bool
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case auth.AccessCookie:
			access = cookie.HttpOnly && cookie.Value != ""
		case auth.RefreshCookie:
			refresh = cookie.HttpOnly && cookie.Value != ""
		}
	}
	if !access || !refresh {
		t.Fatalf("expected HttpOnly Bearer and Refresh cookies, got %v", resp.Cookies())
	}

	pair := decodeData[auth.TokenPair](t, resp)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair in response data")
	}
}

func TestRefreshReplayRevokesFamily(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")
	root := c.login("ada")

	resp := c.post("/v1/auth/refresh", map[string]any{"refresh_token": root.RefreshToken}, nil)
	wantStatus(t, resp, http.StatusOK)
	child := decodeData[auth.TokenPair](t, resp)

	// replaying the rotated token is 403 and nukes the whole family
	resp = c.post("/v1/auth/refresh", map[string]any{"refresh_token": root.RefreshToken}, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// the child of the replayed token is collateral damage
	resp = c.post("/v1/auth/refresh", map[string]any{"refresh_token": child.RefreshToken}, nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestRefreshFromCookie(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")
	pair := c.login("ada")

	resp := c.post("/v1/auth/refresh", nil, map[string]string{
		"Cookie": auth.RefreshCookie + "=" + pair.RefreshToken,
	})
	wantStatus(t, resp, http.StatusOK)
	rotated := decodeData[auth.TokenPair](t, resp)
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada", "teacher")
	pair := c.login("ada")

	resp := c.post("/v1/auth/logout", map[string]any{"token": pair.AccessToken}, nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// second logout finds nothing, still a success
	resp = c.post("/v1/auth/logout", map[string]any{"token": pair.AccessToken}, nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// the access token is gone from the ledger
	resp = c.post("/v1/projects", map[string]any{"name": "after-logout"}, bearer(pair))
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
