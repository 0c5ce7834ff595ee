package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	store := NewMemoryStore()
	matcher := NewMatcher(Policy{MaxRequests: 2, Window: time.Minute})
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	handler := Middleware(store, matcher, WithClock(func() time.Time { return now }))(newTestHandler(http.StatusOK))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("expected limit header 2, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected remaining header 1, got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("expected reset header")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	store := NewMemoryStore()
	matcher := NewMatcher(Policy{MaxRequests: 1, Window: time.Minute})
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	handler := Middleware(store, matcher, WithClock(func() time.Time { return now }))(newTestHandler(http.StatusOK))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
		req.RemoteAddr = "10.0.0.1:4444"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 0 {
			if rec.Code != http.StatusOK {
				t.Fatalf("first request rejected with %d", rec.Code)
			}
			continue
		}

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After header")
		}
		var payload struct {
			Success bool `json:"success"`
			Error   struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid error payload: %v", err)
		}
		if payload.Success {
			t.Fatalf("expected success=false")
		}
		if payload.Error.Code != "rate_limit_exceeded" {
			t.Fatalf("unexpected error code %q", payload.Error.Code)
		}
	}
}

func TestMiddlewareSeparatesClients(t *testing.T) {
	store := NewMemoryStore()
	matcher := NewMatcher(Policy{MaxRequests: 1, Window: time.Minute})
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	handler := Middleware(store, matcher, WithClock(func() time.Time { return now }))(newTestHandler(http.StatusOK))

	first := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	first.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	second := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	second.Header.Set("X-Forwarded-For", "203.0.113.8")

	for _, req := range []*http.Request{first, second} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected distinct clients to be admitted, got %d", rec.Code)
		}
	}
}

func TestMiddlewareSkipFailedRefundsFailedRequests(t *testing.T) {
	store := NewMemoryStore()
	matcher := NewMatcher(Policy{MaxRequests: 1, Window: time.Minute, SkipFailed: true})
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	handler := Middleware(store, matcher, WithClock(func() time.Time { return now }))(newTestHandler(http.StatusBadRequest))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
		req.RemoteAddr = "10.0.0.1:4444"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d unexpectedly limited with %d", i, rec.Code)
		}
	}
}

func TestClientIdentityFallbackChain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:1234"
	if got := ClientIdentity(req); got != "192.0.2.9" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	req.Header.Set("CF-Connecting-IP", "198.51.100.2")
	if got := ClientIdentity(req); got != "198.51.100.2" {
		t.Fatalf("expected CF-Connecting-IP, got %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.3")
	if got := ClientIdentity(req); got != "198.51.100.3" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIdentity(req); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
