package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"callbot-platform/internal/bot"
	"callbot-platform/internal/calls"
)

func TestClient_CreateCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/communications/calls" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["callbackUri"] != "https://bot/cb" {
			t.Errorf("unexpected callbackUri %v", body["callbackUri"])
		}
		targets, _ := body["targets"].([]any)
		if len(targets) != 1 {
			t.Errorf("expected one target, got %v", body["targets"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"call-123","state":"establishing"}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, srv.Client())
	got, err := c.CreateCall(context.Background(), bot.CreateCallRequest{
		CallbackURL: "https://bot/cb",
		Targets:     []bot.Target{{PhoneNumber: "+15550100"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != "call-123" || got.State != calls.LifecycleEstablishing {
		t.Fatalf("unexpected created call %+v", got)
	}
}

func TestClient_PlayPromptAndInvite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/communications/calls/c1/playPrompt":
			_, _ = w.Write([]byte(`{"@odata.type":"#microsoft.graph.playPromptOperation","id":"op-9","status":"running"}`))
		case "/communications/calls/c1/participants/invite":
			_, _ = w.Write([]byte(`{"id":"inv-1","status":"running"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL+"/", srv.Client())
	op, err := c.PlayPrompt(context.Background(), "c1", []calls.MediaPrompt{{Name: "welcome", URI: "https://m/w.wav"}}, "ctx")
	if err != nil || op != "op-9" {
		t.Fatalf("unexpected play result %q %v", op, err)
	}
	inv, err := c.InviteParticipant(context.Background(), "c1", bot.Target{UserID: "u1"}, "ctx")
	if err != nil || inv != "inv-1" {
		t.Fatalf("unexpected invite result %q %v", inv, err)
	}
}

func TestClient_HangUpAndErrors(t *testing.T) {
	var deletes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/communications/calls/c1" {
			deletes.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Forbidden","message":"missing Calls.Initiate.All"}}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, srv.Client())
	if err := c.HangUp(context.Background(), "c1"); err != nil || deletes.Load() != 1 {
		t.Fatalf("hang up: %v (deletes=%d)", err, deletes.Load())
	}

	_, err := c.PlayPrompt(context.Background(), "c1", nil, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "Forbidden" || !strings.Contains(apiErr.Error(), "Calls.Initiate.All") {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestClient_CreateCallWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, srv.Client())
	if _, err := c.CreateCall(context.Background(), bot.CreateCallRequest{}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestNew_FetchesClientCredentialsToken(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"app-token","token_type":"Bearer","expires_in":3600}`))
		case "/communications/calls/c1":
			if r.Header.Get("Authorization") != "Bearer app-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(context.Background(), Config{
		BaseURL:      srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	})
	for i := 0; i < 2; i++ {
		if err := c.HangUp(context.Background(), "c1"); err != nil {
			t.Fatalf("hang up: %v", err)
		}
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("expected cached token, got %d token requests", tokenCalls.Load())
	}
}
