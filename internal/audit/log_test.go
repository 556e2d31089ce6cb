package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"stockroom.org/internal/auth"
	"stockroom.org/internal/obs"
)

func captureLog(t *testing.T, fn func()) []byte {
	t.Helper()
	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	defer obs.Logger().SetOutput(os.Stdout)
	fn()
	return buf.Bytes()
}

func TestLogEventEnrichesContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{ID: "user-7"})

	out := captureLog(t, func() {
		if err := LogEvent(ctx, "auth.login", map[string]any{"username": "ada"}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	})

	var entry map[string]any
	if err := json.Unmarshal(out, &entry); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if entry["event"] != "auth.login" {
		t.Fatalf("event = %v", entry["event"])
	}
	if entry["request_id"] != "req-42" {
		t.Fatalf("request_id = %v", entry["request_id"])
	}
	if entry["principal_id"] != "user-7" {
		t.Fatalf("principal_id = %v", entry["principal_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["username"] != "ada" {
		t.Fatalf("fields = %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event name")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context yielded %q", got)
	}
	ctx := WithRequestID(context.Background(), "")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("blank request id stored: %q", got)
	}
}
