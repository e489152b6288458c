package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kelseyhightower/envconfig"

	"github.com/lzjever/mbos-atl/internal/api/middleware"
	"github.com/lzjever/mbos-atl/internal/auth"
	"github.com/lzjever/mbos-atl/internal/core"
)

// Mock tests for API handlers without DB dependency

func TestHealthHandler(t *testing.T) {
	api := &API{}
	r := chi.NewRouter()
	r.Get("/healthz", api.HealthHandler)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body OK, got %s", w.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, core.NewAppError(core.ErrValidation, "test error"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp.Code != "ATL_VALIDATION" {
		t.Errorf("expected code ATL_VALIDATION, got %s", resp.Code)
	}
}

func TestWriteAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAccepted(w, "item-123")

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp["item_id"] != "item-123" {
		t.Errorf("expected item_id item-123, got %v", resp["item_id"])
	}
	if resp["status"] != "pending" {
		t.Errorf("expected status pending, got %v", resp["status"])
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 15, 12, 30, 45, 123456789, time.UTC)
	cursor := encodeCursor(ts, 42)
	if cursor == "" {
		t.Fatal("expected non-empty cursor")
	}
	decoded, seq, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decode cursor: %s", err)
	}
	if !decoded.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, decoded)
	}
	if seq != 42 {
		t.Errorf("expected seq 42, got %d", seq)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := []string{
		"not base64!!",
		base64.StdEncoding.EncodeToString([]byte("2026-03-15T12:30:45Z")),   // no seq component
		base64.StdEncoding.EncodeToString([]byte("yesterday|7")),            // bad timestamp
		base64.StdEncoding.EncodeToString([]byte("2026-03-15T12:30:45Z|x")), // bad seq
	}
	for _, c := range cases {
		if _, _, err := decodeCursor(c); err == nil {
			t.Errorf("expected error for cursor %q", c)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("ATL_DB_DSN", "postgres://localhost/atl")
	t.Setenv("ATL_AUTH_SECRET", "secret")
	t.Setenv("ATL_MASTER_KEY", "key")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("process config: %s", err)
	}
	if cfg.PartitionLookahead != 3 {
		t.Errorf("expected lookahead 3, got %d", cfg.PartitionLookahead)
	}
	if cfg.OutboxMaxAttempts != 5 {
		t.Errorf("expected 5 max attempts, got %d", cfg.OutboxMaxAttempts)
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 50},
		{"abc", 50},
		{"-5", 50},
		{"10", 10},
		{"9999", 500},
	}
	for _, c := range cases {
		if got := parseLimit(c.in, 50, 500); got != c.want {
			t.Errorf("parseLimit(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func authedRequest(t *testing.T, secret []byte, method, target string, caps []auth.Capability, tenant string) *http.Request {
	t.Helper()
	token, err := auth.Sign(secret, "tester", tenant, caps, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %s", err)
	}
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := middleware.Authenticate(auth.NewVerifier(secret))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("GET", "/v1/tenants/t1/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp.Code != "ATL_UNAUTHORIZED" {
		t.Errorf("expected code ATL_UNAUTHORIZED, got %s", resp.Code)
	}
}

func TestRequireCapability(t *testing.T) {
	secret := []byte("test-secret")
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler = middleware.RequireCapability(auth.CapRetention)(handler)
	handler = middleware.Authenticate(auth.NewVerifier(secret))(handler)

	// write capability does not imply retention
	req := authedRequest(t, secret, "DELETE", "/v1/admin/partitions/p1", []auth.Capability{auth.CapWrite}, "t1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for write-only token, got %d", w.Code)
	}

	// retention capability passes
	req = authedRequest(t, secret, "DELETE", "/v1/admin/partitions/p1", []auth.Capability{auth.CapRetention}, "t1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for retention token, got %d", w.Code)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	handler := middleware.Authenticate(auth.NewVerifier([]byte("right-secret")))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := authedRequest(t, []byte("wrong-secret"), "GET", "/v1/tenants/t1/events", []auth.Capability{auth.CapRead}, "t1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong secret, got %d", w.Code)
	}
}
