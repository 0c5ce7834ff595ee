package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mitrakirim/api/internal/platform/httpx"
	"github.com/mitrakirim/api/internal/services"
)

// TrackHandlers exposes the public order tracking endpoint. No identity is
// required; the order id acts as the capability token.
type TrackHandlers struct {
	orders services.OrderLifecycleService
}

// NewTrackHandlers constructs a new TrackHandlers instance.
func NewTrackHandlers(orders services.OrderLifecycleService) *TrackHandlers {
	return &TrackHandlers{orders: orders}
}

// Routes registers the /track endpoints.
func (h *TrackHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.trackOrder)
}

func (h *TrackHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "tracking unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	tracking, err := h.orders.Track(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	events := make([]orderEventPayload, 0, len(tracking.Events))
	for _, event := range tracking.Events {
		events = append(events, buildOrderEventPayload(event))
	}

	writeJSONResponse(w, http.StatusOK, trackResponse{
		Order:  buildTrackSummary(tracking.Order),
		Events: events,
	})
}

type trackResponse struct {
	Order  trackOrderPayload   `json:"order"`
	Events []orderEventPayload `json:"events"`
}

// trackOrderPayload is the public projection of an order: no orderer or
// receiver contact details leak through the tracking page.
type trackOrderPayload struct {
	ID             string `json:"id"`
	OrderNumber    string `json:"order_number"`
	ServiceID      string `json:"service_id"`
	Status         string `json:"status"`
	PickupZone     string `json:"pickup_zone,omitempty"`
	DropoffZone    string `json:"dropoff_zone,omitempty"`
	EstimatedTotal int64  `json:"estimated_total"`
	FinalTotal     *int64 `json:"final_total,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at,omitempty"`
	DeliveredAt    string `json:"delivered_at,omitempty"`
}

func buildTrackSummary(order services.Order) trackOrderPayload {
	payload := trackOrderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		ServiceID:      order.ServiceID,
		Status:         string(order.Status),
		PickupZone:     order.Details.PickupZone,
		DropoffZone:    order.Details.DropoffZone,
		EstimatedTotal: order.EstimatedCost.Total,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
	}
	if order.FinalCost != nil {
		total := order.FinalCost.Total
		payload.FinalTotal = &total
	}
	return payload
}
