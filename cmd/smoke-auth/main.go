// Command smoke-auth runs the rotation protocol end to end against a live
// API: signup, login, one legal refresh, a deliberate replay, then proof
// that the replay revoked the whole credential family.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func main() {
	base := os.Getenv("STOCKROOM_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	username := fmt.Sprintf("smoke-%d", rand.New(rand.NewSource(time.Now().UnixNano())).Int63())
	password := "smoke-password-1"

	// signup + login
	discard(mustStatus(post(client, base+"/v1/auth/signup", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}), http.StatusCreated, "signup"))

	root := decodePair(mustStatus(post(client, base+"/v1/auth/login", map[string]any{
		"username": username,
		"password": password,
	}), http.StatusOK, "login"))

	// legal rotation
	child := decodePair(mustStatus(post(client, base+"/v1/auth/refresh", map[string]any{
		"refresh_token": root.RefreshToken,
	}), http.StatusOK, "refresh"))

	// replay: the root refresh token was already rotated
	discard(mustStatus(post(client, base+"/v1/auth/refresh", map[string]any{
		"refresh_token": root.RefreshToken,
	}), http.StatusForbidden, "replay"))

	// the replay revoked the whole family, so the child refresh is gone too
	discard(mustStatus(post(client, base+"/v1/auth/refresh", map[string]any{
		"refresh_token": child.RefreshToken,
	}), http.StatusNotFound, "orphan refresh after replay"))

	// logout of an already-revoked token is still a success
	discard(mustStatus(post(client, base+"/v1/auth/logout", map[string]any{
		"token": child.AccessToken,
	}), http.StatusOK, "logout"))

	fmt.Printf("✅ auth smoke test passed: user=%s\n", username)
}

func post(client *http.Client, url string, body map[string]any) *http.Response {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	return resp
}

// mustStatus leaves the body open so a caller can still decode it.
func mustStatus(resp *http.Response, want int, step string) *http.Response {
	if resp.StatusCode != want {
		log.Fatalf("%s: got status %d, want %d", step, resp.StatusCode, want)
	}
	return resp
}

func discard(resp *http.Response) {
	_ = resp.Body.Close()
}

func decodePair(resp *http.Response) tokenPair {
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Fatalf("decode envelope: %v", err)
	}
	var pair tokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		log.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		log.Fatal("empty token pair")
	}
	return pair
}
