package services

import (
	"context"
	"time"

	domain "github.com/mitrakirim/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Actor                = domain.Actor
	ActorType            = domain.ActorType
	Order                = domain.Order
	OrderStatus          = domain.OrderStatus
	OrderDetails         = domain.OrderDetails
	OrderEvent           = domain.OrderEvent
	OrderEventType       = domain.OrderEventType
	CostBreakdown        = domain.CostBreakdown
	SurchargeLine        = domain.SurchargeLine
	ServicePricingConfig = domain.ServicePricingConfig
	GeoPoint             = domain.GeoPoint
	Driver               = domain.Driver
	SystemHealthReport   = domain.SystemHealthReport
	SignedUploadResponse = domain.SignedUploadResponse
)

// OrderLifecycleService is the single entry point for order placement, lifecycle
// transitions, side-channel event appends, and tracking reads.
type OrderLifecycleService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error)
	ApplyAction(ctx context.Context, cmd OrderActionCommand) (Order, error)
	AddNote(ctx context.Context, cmd AddNoteCommand) (OrderEvent, error)
	AttachPhoto(ctx context.Context, cmd AttachPhotoCommand) (OrderEvent, error)
	RecordLocation(ctx context.Context, cmd RecordLocationCommand) (OrderEvent, error)
	Track(ctx context.Context, orderID string) (OrderTracking, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	RequestRefund(ctx context.Context, cmd RefundCommand) (Order, error)
}

// OrderEventLogService appends immutable entries to an order's history and serves ordered views of it.
type OrderEventLogService interface {
	Append(ctx context.Context, cmd AppendEventCommand) (OrderEvent, error)
	List(ctx context.Context, orderID string, sort SortOrder) ([]OrderEvent, error)
}

// SystemService provides operational utilities such as aggregated health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// UploadService issues short-lived signed URLs for proof-photo uploads.
type UploadService interface {
	SignProofUpload(ctx context.Context, cmd ProofUploadCommand) (SignedUploadResponse, error)
}

// ProofUploadCommand requests a signed upload slot for one proof photo.
type ProofUploadCommand struct {
	OrderID     string
	Actor       Actor
	PhotoType   string
	ContentType string
	SizeBytes   int64
}

// OrderNotification is the message published to downstream workers when an order changes.
type OrderNotification struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	ActorType      ActorType
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderNotificationPublisher pushes order notifications to the event bus.
type OrderNotificationPublisher interface {
	PublishOrderNotification(ctx context.Context, notification OrderNotification) error
}

// OrderAction names a lifecycle operation requested over the API.
type OrderAction string

const (
	// OrderActionAccept accepts the order for the requesting role.
	OrderActionAccept OrderAction = "accept"
	// OrderActionReject declines the order for the requesting role.
	OrderActionReject OrderAction = "reject"
	// OrderActionAssign assigns a driver to the order.
	OrderActionAssign OrderAction = "assign"
	// OrderActionUpdateStatus moves the order to an explicit target status.
	OrderActionUpdateStatus OrderAction = "update-status"
	// OrderActionCancel cancels the order for the requesting role.
	OrderActionCancel OrderAction = "cancel"
)

// PlaceOrderCommand carries the customer input for order placement.
type PlaceOrderCommand struct {
	ServiceID         string
	OrdererIdentifier string
	ReceiverWaNumber  *string
	Details           OrderDetails
	TalanganAmount    int64
	IsBarangPenting   bool
}

// PlacedOrder is the placement result returned to the caller.
type PlacedOrder struct {
	Order       Order
	TrackingURL string
}

// OrderActionCommand carries an actor-initiated lifecycle transition request.
type OrderActionCommand struct {
	OrderID      string
	Actor        Actor
	Action       OrderAction
	TargetStatus *OrderStatus
	DriverID     string
	PhotoKey     string
	PhotoType    string
	Caption      string
	Location     *GeoPoint
	Reason       string
}

// AddNoteCommand appends a free-text annotation to an order's history.
type AddNoteCommand struct {
	OrderID string
	Actor   Actor
	Note    string
}

// AttachPhotoCommand records an uploaded proof photo object key on an order.
type AttachPhotoCommand struct {
	OrderID   string
	Actor     Actor
	PhotoKey  string
	PhotoType string
	Caption   string
}

// RecordLocationCommand appends a driver position report to an order's history.
type RecordLocationCommand struct {
	OrderID  string
	Actor    Actor
	Location GeoPoint
}

// RefundCommand moves a cancelled or failed order with collected talangan to REFUNDED.
type RefundCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// OrderTracking is the customer-facing tracking view: summary plus descending timeline.
type OrderTracking struct {
	Order  Order
	Events []OrderEvent
}

// OrderListFilter scopes an order listing to an actor plus optional criteria.
type OrderListFilter struct {
	Actor      Actor
	Status     []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// AppendEventCommand carries one typed event variant; exactly the variant matching
// Type must be populated.
type AppendEventCommand struct {
	OrderID      string
	Type         OrderEventType
	Actor        Actor
	OccurredAt   time.Time
	StatusUpdate *domain.StatusUpdatePayload
	Photo        *domain.PhotoUploadedPayload
	Location     *domain.LocationUpdatePayload
	Note         *domain.NoteAddedPayload
	Payment      *domain.PaymentUpdatePayload
	Assignment   *domain.AssignmentChangedPayload
	Cost         *domain.CostUpdatedPayload
}
