package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mitrakirim/api/internal/domain"
	"github.com/mitrakirim/api/internal/platform/auth"
	"github.com/mitrakirim/api/internal/platform/httpx"
	"github.com/mitrakirim/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
)

type placeOrderRequest struct {
	ServiceID         string              `json:"service_id"`
	OrdererIdentifier string              `json:"orderer_identifier"`
	ReceiverWaNumber  *string             `json:"receiver_wa_number"`
	Details           orderDetailsRequest `json:"details"`
	TalanganAmount    int64               `json:"talangan_amount"`
	IsBarangPenting   bool                `json:"is_barang_penting"`
}

type orderDetailsRequest struct {
	PickupAddress  string   `json:"pickup_address"`
	PickupZone     string   `json:"pickup_zone"`
	DropoffAddress string   `json:"dropoff_address"`
	DropoffZone    string   `json:"dropoff_zone"`
	CargoTypeID    string   `json:"cargo_type_id"`
	FacilityIDs    []string `json:"facility_ids"`
	DistanceKm     float64  `json:"distance_km"`
	Notes          string   `json:"notes"`
}

type orderActionRequest struct {
	TargetStatus string           `json:"target_status"`
	DriverID     string           `json:"driver_id"`
	PhotoKey     string           `json:"photo_key"`
	PhotoType    string           `json:"photo_type"`
	Caption      string           `json:"caption"`
	Location     *geoPointRequest `json:"location"`
	Reason       string           `json:"reason"`
}

type geoPointRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type addNoteRequest struct {
	Note string `json:"note"`
}

// OrderHandlers exposes order placement, lifecycle actions, and actor-scoped listing.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderLifecycleService
	placeMW []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers construction.
type OrderHandlersOption func(*OrderHandlers)

// WithPlaceOrderMiddlewares wraps the order placement route, typically with
// idempotency and rate-limit middleware.
func WithPlaceOrderMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.placeMW = append(h.placeMW, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequirePrincipal())
	}

	place := r.With()
	for _, mw := range h.placeMW {
		if mw != nil {
			place = place.With(mw)
		}
	}
	place.Post("/", h.placeOrder)

	r.Get("/", h.listOrders)
	r.Post("/{orderID}:accept", h.applyAction(services.OrderActionAccept))
	r.Post("/{orderID}:reject", h.applyAction(services.OrderActionReject))
	r.Post("/{orderID}:assign", h.applyAction(services.OrderActionAssign))
	r.Post("/{orderID}:update-status", h.applyAction(services.OrderActionUpdateStatus))
	r.Post("/{orderID}:cancel", h.applyAction(services.OrderActionCancel))
	r.Post("/{orderID}/notes", h.addNote)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := principalActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON body", http.StatusBadRequest))
		return
	}

	ordererID := strings.TrimSpace(req.OrdererIdentifier)
	if ordererID == "" {
		ordererID = actor.ID
	}

	placed, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		ServiceID:         req.ServiceID,
		OrdererIdentifier: ordererID,
		ReceiverWaNumber:  req.ReceiverWaNumber,
		Details: domain.OrderDetails{
			PickupAddress:  req.Details.PickupAddress,
			PickupZone:     req.Details.PickupZone,
			DropoffAddress: req.Details.DropoffAddress,
			DropoffZone:    req.Details.DropoffZone,
			CargoTypeID:    req.Details.CargoTypeID,
			FacilityIDs:    req.Details.FacilityIDs,
			DistanceKm:     req.Details.DistanceKm,
			Notes:          req.Details.Notes,
		},
		TalanganAmount:  req.TalanganAmount,
		IsBarangPenting: req.IsBarangPenting,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Order:       buildOrderPayload(placed.Order),
		TrackingURL: placed.TrackingURL,
	})
}

func (h *OrderHandlers) applyAction(action services.OrderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
			return
		}

		actor, ok := principalActor(ctx)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
		if orderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
			return
		}

		var req orderActionRequest
		body, err := readLimitedBody(r, maxOrderBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON body", http.StatusBadRequest))
				return
			}
		}

		cmd := services.OrderActionCommand{
			OrderID:   orderID,
			Actor:     actor,
			Action:    action,
			DriverID:  req.DriverID,
			PhotoKey:  req.PhotoKey,
			PhotoType: req.PhotoType,
			Caption:   req.Caption,
			Reason:    req.Reason,
		}
		if raw := strings.TrimSpace(req.TargetStatus); raw != "" {
			status := domain.OrderStatus(strings.ToLower(raw))
			cmd.TargetStatus = &status
		}
		if req.Location != nil {
			cmd.Location = &domain.GeoPoint{Lat: req.Location.Lat, Lon: req.Location.Lon}
		}

		order, err := h.orders.ApplyAction(ctx, cmd)
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}

func (h *OrderHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := principalActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addNoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON body", http.StatusBadRequest))
		return
	}

	event, err := h.orders.AddNote(ctx, services.AddNoteCommand{
		OrderID: orderID,
		Actor:   actor,
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderEventResponse{Event: buildOrderEventPayload(event)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := principalActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	statusFilters := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		statusFilters = append(statusFilters, domain.OrderStatus(raw))
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Actor:     actor,
		Status:    statusFilters,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type placeOrderResponse struct {
	Order       orderPayload `json:"order"`
	TrackingURL string       `json:"tracking_url"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderEventResponse struct {
	Event orderEventPayload `json:"event"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID             string `json:"id"`
	OrderNumber    string `json:"order_number"`
	ServiceID      string `json:"service_id"`
	Status         string `json:"status"`
	EstimatedTotal int64  `json:"estimated_total"`
	CreatedAt      string `json:"created_at"`
}

type orderPayload struct {
	ID                string                `json:"id"`
	OrderNumber       string                `json:"order_number"`
	ServiceID         string                `json:"service_id"`
	MitraID           string                `json:"mitra_id"`
	DriverID          *string               `json:"driver_id,omitempty"`
	OrdererIdentifier string                `json:"orderer_identifier"`
	ReceiverWaNumber  *string               `json:"receiver_wa_number,omitempty"`
	Status            string                `json:"status"`
	Details           orderDetailsPayload   `json:"details"`
	EstimatedCost     costBreakdownPayload  `json:"estimated_cost"`
	FinalCost         *costBreakdownPayload `json:"final_cost,omitempty"`
	TalanganAmount    int64                 `json:"talangan_amount"`
	IsBarangPenting   bool                  `json:"is_barang_penting"`
	Version           int64                 `json:"version"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at,omitempty"`
	DeliveredAt       string                `json:"delivered_at,omitempty"`
	CancelledAt       string                `json:"cancelled_at,omitempty"`
	FailedAt          string                `json:"failed_at,omitempty"`
	RefundedAt        string                `json:"refunded_at,omitempty"`
}

type orderDetailsPayload struct {
	PickupAddress  string   `json:"pickup_address"`
	PickupZone     string   `json:"pickup_zone,omitempty"`
	DropoffAddress string   `json:"dropoff_address"`
	DropoffZone    string   `json:"dropoff_zone,omitempty"`
	CargoTypeID    string   `json:"cargo_type_id,omitempty"`
	FacilityIDs    []string `json:"facility_ids,omitempty"`
	DistanceKm     float64  `json:"distance_km,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

type costBreakdownPayload struct {
	AdminFee           int64                  `json:"admin_fee"`
	DistanceFee        int64                  `json:"distance_fee"`
	CargoSurcharges    []surchargeLinePayload `json:"cargo_surcharges,omitempty"`
	FacilitySurcharges []surchargeLinePayload `json:"facility_surcharges,omitempty"`
	Total              int64                  `json:"total"`
}

type surchargeLinePayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Price int64  `json:"price"`
}

type orderEventPayload struct {
	ID         string         `json:"id"`
	OrderID    string         `json:"order_id"`
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id"`
	ActorType  string         `json:"actor_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:             strings.TrimSpace(order.ID),
		OrderNumber:    strings.TrimSpace(order.OrderNumber),
		ServiceID:      strings.TrimSpace(order.ServiceID),
		Status:         string(order.Status),
		EstimatedTotal: order.EstimatedCost.Total,
		CreatedAt:      formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                strings.TrimSpace(order.ID),
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		ServiceID:         strings.TrimSpace(order.ServiceID),
		MitraID:           strings.TrimSpace(order.MitraID),
		DriverID:          order.DriverID,
		OrdererIdentifier: strings.TrimSpace(order.OrdererIdentifier),
		ReceiverWaNumber:  order.ReceiverWaNumber,
		Status:            string(order.Status),
		Details: orderDetailsPayload{
			PickupAddress:  order.Details.PickupAddress,
			PickupZone:     order.Details.PickupZone,
			DropoffAddress: order.Details.DropoffAddress,
			DropoffZone:    order.Details.DropoffZone,
			CargoTypeID:    order.Details.CargoTypeID,
			FacilityIDs:    order.Details.FacilityIDs,
			DistanceKm:     order.Details.DistanceKm,
			Notes:          order.Details.Notes,
		},
		EstimatedCost:   buildCostBreakdown(order.EstimatedCost),
		TalanganAmount:  order.TalanganAmount,
		IsBarangPenting: order.IsBarangPenting,
		Version:         order.Version,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
		FailedAt:        formatTimePtr(order.FailedAt),
		RefundedAt:      formatTimePtr(order.RefundedAt),
	}
	if order.FinalCost != nil {
		final := buildCostBreakdown(*order.FinalCost)
		payload.FinalCost = &final
	}
	return payload
}

func buildCostBreakdown(cost services.CostBreakdown) costBreakdownPayload {
	return costBreakdownPayload{
		AdminFee:           cost.AdminFee,
		DistanceFee:        cost.DistanceFee,
		CargoSurcharges:    buildSurchargeLines(cost.CargoSurcharges),
		FacilitySurcharges: buildSurchargeLines(cost.FacilitySurcharges),
		Total:              cost.Total,
	}
}

func buildSurchargeLines(lines []services.SurchargeLine) []surchargeLinePayload {
	if len(lines) == 0 {
		return nil
	}
	out := make([]surchargeLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, surchargeLinePayload{ID: line.ID, Label: line.Label, Price: line.Price})
	}
	return out
}

func buildOrderEventPayload(event services.OrderEvent) orderEventPayload {
	return orderEventPayload{
		ID:         event.ID,
		OrderID:    event.OrderID,
		Type:       string(event.Type),
		ActorID:    event.ActorID,
		ActorType:  string(event.ActorType),
		Payload:    event.Payload,
		OccurredAt: formatTime(event.OccurredAt),
	}
}

func principalActor(ctx context.Context) (services.Actor, bool) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || strings.TrimSpace(principal.ID) == "" {
		return services.Actor{}, false
	}
	return services.Actor{
		ID:   strings.TrimSpace(principal.ID),
		Type: domain.ActorType(principal.Role),
	}, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrEventInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPricing):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_error", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("authorization_error", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrEventNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order was modified concurrently, retry with fresh state", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
