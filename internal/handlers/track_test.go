package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mitrakirim/api/internal/domain"
	"github.com/mitrakirim/api/internal/services"
)

func newTrackRouter(service services.OrderLifecycleService) chi.Router {
	handler := NewTrackHandlers(service)
	router := chi.NewRouter()
	router.Route("/track", handler.Routes)
	return router
}

func TestTrackHandlersPublicView(t *testing.T) {
	delivered := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	order := sampleHandlerOrder()
	order.Status = domain.OrderStatusDelivered
	order.Details.PickupZone = "zone-a"
	order.Details.DropoffZone = "zone-b"
	order.FinalCost = &domain.CostBreakdown{AdminFee: 2000, DistanceFee: 19000, Total: 21000}
	order.DeliveredAt = &delivered

	service := &stubOrderLifecycle{
		trackFn: func(_ context.Context, orderID string) (services.OrderTracking, error) {
			if orderID != "ord_123" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return services.OrderTracking{
				Order: order,
				Events: []services.OrderEvent{
					{
						ID:         "evt_2",
						OrderID:    "ord_123",
						Type:       domain.EventStatusUpdate,
						ActorID:    "driver-7",
						ActorType:  domain.ActorDriver,
						OccurredAt: delivered,
					},
					{
						ID:         "evt_1",
						OrderID:    "ord_123",
						Type:       domain.EventStatusUpdate,
						ActorID:    "user-1",
						ActorType:  domain.ActorUser,
						OccurredAt: order.CreatedAt,
					},
				},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/track/ord_123", nil)
	rr := httptest.NewRecorder()

	newTrackRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp trackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_123" || resp.Order.Status != string(domain.OrderStatusDelivered) {
		t.Fatalf("unexpected order summary %#v", resp.Order)
	}
	if resp.Order.PickupZone != "zone-a" || resp.Order.DropoffZone != "zone-b" {
		t.Fatalf("expected zones on public view, got %#v", resp.Order)
	}
	if resp.Order.FinalTotal == nil || *resp.Order.FinalTotal != 21000 {
		t.Fatalf("expected final total 21000, got %#v", resp.Order.FinalTotal)
	}
	if len(resp.Events) != 2 || resp.Events[0].ID != "evt_2" {
		t.Fatalf("expected descending timeline, got %#v", resp.Events)
	}

	raw := rr.Body.String()
	for _, leaked := range []string{"orderer_identifier", "receiver_wa_number", "pickup_address", "dropoff_address"} {
		if strings.Contains(raw, leaked) {
			t.Fatalf("public view leaked %s", leaked)
		}
	}
}

func TestTrackHandlersNotFound(t *testing.T) {
	service := &stubOrderLifecycle{
		trackFn: func(context.Context, string) (services.OrderTracking, error) {
			return services.OrderTracking{}, fmt.Errorf("%w: ord_missing", services.ErrOrderNotFound)
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/track/ord_missing", nil)
	rr := httptest.NewRecorder()

	newTrackRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "not_found" {
		t.Fatalf("expected not_found code, got %s", code)
	}
}
