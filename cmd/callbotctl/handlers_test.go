package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callbot-platform/internal/auth"
	"callbot-platform/internal/config"
)

func TestTokenAccess_VerifiesWithSameSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "operator-secret")
	var out bytes.Buffer
	if err := runTokenAccess(&out, "alice", "operator"); err != nil {
		t.Fatalf("token: %v", err)
	}

	m, _ := auth.NewManager(config.AuthConfig{JWTSecret: "operator-secret"})
	claims, err := m.Verify(strings.TrimSpace(out.String()), auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "alice" || claims.Role != "operator" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenAccess_RejectsUnknownRole(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	if err := runTokenAccess(&bytes.Buffer{}, "alice", "root"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestTokenWebhook_RequiresSecret(t *testing.T) {
	t.Setenv("WEBHOOK_JWT_SECRET", "")
	if err := runTokenWebhook(&bytes.Buffer{}, "app"); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestReplay_PostsSignedPayloadsInOrder(t *testing.T) {
	t.Setenv("WEBHOOK_JWT_SECRET", "hook-secret")
	verifier, _ := auth.NewWebhookManager(config.WebhookConfig{JWTSecret: "hook-secret"})

	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := verifier.Verify(tok, auth.TokenTypeWebhook, time.Now()); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		seen = append(seen, buf.String())
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"processed":1,"skipped":0}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")
	_ = os.WriteFile(first, []byte(`{"value":[{"changeType":"created","resourceUrl":"/communications/calls/c1"}]}`), 0o600)
	_ = os.WriteFile(second, []byte(`{"value":[{"changeType":"deleted","resourceUrl":"/communications/calls/c1"}]}`), 0o600)

	var out bytes.Buffer
	if err := runReplay(context.Background(), &out, srv.URL, "test", []string{first, second}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(seen) != 2 || !strings.Contains(seen[0], "created") || !strings.Contains(seen[1], "deleted") {
		t.Fatalf("unexpected deliveries %v", seen)
	}
	if strings.Count(out.String(), "processed=1") != 2 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestReplay_StopsOnRejectedDelivery(t *testing.T) {
	t.Setenv("WEBHOOK_JWT_SECRET", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"reconciliation failed"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.json")
	_ = os.WriteFile(path, []byte(`{"value":[]}`), 0o600)
	err := runReplay(context.Background(), &bytes.Buffer{}, srv.URL, "test", []string{path})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected 500 error, got %v", err)
	}
}

func TestReplay_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	_ = os.WriteFile(path, []byte(`{nope`), 0o600)
	if err := runReplay(context.Background(), &bytes.Buffer{}, "http://127.0.0.1:1", "test", []string{path}); err == nil {
		t.Fatalf("expected parse error")
	}
}
