package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mitrakirim/api/internal/platform/auth"
	"github.com/mitrakirim/api/internal/services"
)

type stubUploadService struct {
	signFn func(context.Context, services.ProofUploadCommand) (services.SignedUploadResponse, error)
}

func (s *stubUploadService) SignProofUpload(ctx context.Context, cmd services.ProofUploadCommand) (services.SignedUploadResponse, error) {
	if s.signFn != nil {
		return s.signFn(ctx, cmd)
	}
	return services.SignedUploadResponse{}, fmt.Errorf("not implemented")
}

var _ services.UploadService = (*stubUploadService)(nil)

func newUploadRouter(service services.UploadService) chi.Router {
	handler := NewUploadHandlers(nil, service)
	router := chi.NewRouter()
	handler.Routes(router)
	return router
}

func TestUploadHandlersSignProofUpload(t *testing.T) {
	expires := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)

	var captured services.ProofUploadCommand
	service := &stubUploadService{
		signFn: func(_ context.Context, cmd services.ProofUploadCommand) (services.SignedUploadResponse, error) {
			captured = cmd
			return services.SignedUploadResponse{
				ObjectKey: "orders/ord_123/proof/pickup/01J8ZZ.jpg",
				URL:       "https://storage.example.com/signed",
				Method:    http.MethodPut,
				ExpiresAt: expires,
				Headers:   map[string]string{"Content-Type": "image/jpeg"},
			}, nil
		},
	}

	body := []byte(`{"order_id":"ord_123","photo_type":"pickup","content_type":"image/jpeg","size_bytes":52000}`)
	req := httptest.NewRequest(http.MethodPost, "/uploads:proof-url", bytes.NewReader(body))
	req = withPrincipal(req, "driver-7", auth.RoleDriver)
	rr := httptest.NewRecorder()

	newUploadRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.PhotoType != "pickup" {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.Actor.ID != "driver-7" {
		t.Fatalf("expected actor from principal, got %#v", captured.Actor)
	}
	if captured.SizeBytes != 52000 {
		t.Fatalf("expected size 52000, got %d", captured.SizeBytes)
	}

	var resp proofUploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ObjectKey != "orders/ord_123/proof/pickup/01J8ZZ.jpg" {
		t.Fatalf("unexpected object key %s", resp.ObjectKey)
	}
	if resp.Method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", resp.Method)
	}
	if resp.ExpiresAt != "2025-06-01T10:15:00Z" {
		t.Fatalf("unexpected expiry %s", resp.ExpiresAt)
	}
	if resp.Headers["Content-Type"] != "image/jpeg" {
		t.Fatalf("unexpected headers %#v", resp.Headers)
	}
}

func TestUploadHandlersRequiresPrincipal(t *testing.T) {
	body := []byte(`{"order_id":"ord_123","photo_type":"pickup","content_type":"image/jpeg","size_bytes":1}`)
	req := httptest.NewRequest(http.MethodPost, "/uploads:proof-url", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	newUploadRouter(&stubUploadService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestUploadHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrUploadInvalidInput, http.StatusBadRequest, "validation_error"},
		{"forbidden", services.ErrUploadForbidden, http.StatusForbidden, "authorization_error"},
		{"missing order", services.ErrUploadOrderNotFound, http.StatusNotFound, "not_found"},
		{"signer down", services.ErrUploadUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubUploadService{
				signFn: func(context.Context, services.ProofUploadCommand) (services.SignedUploadResponse, error) {
					return services.SignedUploadResponse{}, fmt.Errorf("%w: detail", tc.err)
				},
			}

			body := []byte(`{"order_id":"ord_123","photo_type":"pickup","content_type":"image/jpeg","size_bytes":1}`)
			req := httptest.NewRequest(http.MethodPost, "/uploads:proof-url", bytes.NewReader(body))
			req = withPrincipal(req, "mitra-1", auth.RoleMitra)
			rr := httptest.NewRecorder()

			newUploadRouter(service).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			if code := decodeErrorCode(t, rr.Body.Bytes()); code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, code)
			}
		})
	}
}
