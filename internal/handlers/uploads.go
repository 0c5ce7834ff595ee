package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mitrakirim/api/internal/platform/auth"
	"github.com/mitrakirim/api/internal/platform/httpx"
	"github.com/mitrakirim/api/internal/services"
)

const maxUploadBodySize = 8 * 1024

type proofUploadRequest struct {
	OrderID     string `json:"order_id"`
	PhotoType   string `json:"photo_type"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type proofUploadResponse struct {
	ObjectKey string            `json:"object_key"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	ExpiresAt string            `json:"expires_at"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// UploadHandlers exposes signed upload URL issuance for proof photos.
type UploadHandlers struct {
	authn   *auth.Authenticator
	uploads services.UploadService
}

// NewUploadHandlers constructs a new UploadHandlers instance.
func NewUploadHandlers(authn *auth.Authenticator, uploads services.UploadService) *UploadHandlers {
	return &UploadHandlers{
		authn:   authn,
		uploads: uploads,
	}
}

// Routes registers the uploads custom-verb endpoint against the API root,
// keeping the gateway-documented /uploads:proof-url path shape.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	route := r.With()
	if h.authn != nil {
		route = route.With(h.authn.RequirePrincipal(auth.RoleMitra, auth.RoleDriver, auth.RoleSystem))
	}
	route.Post("/uploads:proof-url", h.signProofUpload)
}

func (h *UploadHandlers) signProofUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := principalActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxUploadBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req proofUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON body", http.StatusBadRequest))
		return
	}

	signed, err := h.uploads.SignProofUpload(ctx, services.ProofUploadCommand{
		OrderID:     strings.TrimSpace(req.OrderID),
		Actor:       actor,
		PhotoType:   req.PhotoType,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		writeUploadError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, proofUploadResponse{
		ObjectKey: signed.ObjectKey,
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: formatTime(signed.ExpiresAt),
		Headers:   signed.Headers,
	})
}

func writeUploadError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUploadInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUploadForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("authorization_error", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrUploadOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUploadUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "upload signing unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
