package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tradeit-market/tradeit/internal/identity"
)

func TestIdentityExtractsHeader(t *testing.T) {
	var got string
	var ok bool
	handler := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = identity.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/categories", nil)
	req.Header.Set(UserIDHeader, "  alice  ")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || got != "alice" {
		t.Fatalf("user id = %q ok=%v", got, ok)
	}
}

func TestIdentityMissingHeader(t *testing.T) {
	var ok bool
	handler := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = identity.FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/categories", nil))
	if ok {
		t.Fatalf("expected no user id on context")
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/categories", nil)
	req = req.WithContext(identity.WithUserID(req.Context(), "alice"))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}

	// A different caller has its own budget.
	other := httptest.NewRequest(http.MethodGet, "/categories", nil)
	other = other.WithContext(identity.WithUserID(other.Context(), "bob"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other caller status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cors := NewCORS([]string{"https://shop.example.com"})
	handler := cors.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/categories", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	cors := NewCORS([]string{"https://shop.example.com"})
	handler := cors.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/categories", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow-origin for disallowed origin")
	}
}
