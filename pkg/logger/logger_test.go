package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWithWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed in production, got %s", buf.String())
	}

	l = NewWithWriter(&buf, "local", "")
	l.Debug("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected debug output locally")
	}

	buf.Reset()
	l = NewWithWriter(&buf, "local", "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected explicit level to win, got %s", buf.String())
	}
}

func TestWithAndFrom(t *testing.T) {
	if From(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger fallback")
	}
	l := slog.New(slog.DiscardHandler)
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestForCall(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "")
	ForCall(l, "c1").Info("x")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["call_id"] != "c1" {
		t.Fatalf("expected call_id attr, got %v", line)
	}
	if ForCall(l, "") != l {
		t.Fatalf("expected no-op for empty call id")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "production", "")))
	r.GET("/ping", func(c *gin.Context) {
		FromGin(c).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", w.Header().Get("X-Request-Id"))
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request id in logs, got %s", buf.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMiddleware_ContextLoggerAndQuietPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "production", "")))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ctx", func(c *gin.Context) {
		From(c.Request.Context()).Info("from context")
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected probe summary below info, got %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/ctx", nil)
	req.Header.Set("X-Request-Id", "rid-2")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"from context","request_id":"rid-2"`)) {
		t.Fatalf("expected request-scoped context logger, got %s", buf.String())
	}
}
