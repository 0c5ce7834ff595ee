package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ActorType identifies the kind of principal performing an action on an order.
type ActorType string

const (
	// ActorUser is the customer who placed the order.
	ActorUser ActorType = "USER"
	// ActorMitra is the provider that owns the service the order was placed against.
	ActorMitra ActorType = "MITRA"
	// ActorDriver is the courier assigned to fulfill the order.
	ActorDriver ActorType = "DRIVER"
	// ActorSystem is the platform itself acting through automated policies.
	ActorSystem ActorType = "SYSTEM"
)

// Actor pairs a principal identifier with its role for authorization decisions.
type Actor struct {
	ID   string
	Type ActorType
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits mitra review.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAcceptedByMitra indicates the mitra accepted the order.
	OrderStatusAcceptedByMitra OrderStatus = "accepted_by_mitra"
	// OrderStatusPendingDriverAssignment indicates the order awaits a driver.
	OrderStatusPendingDriverAssignment OrderStatus = "pending_driver_assignment"
	// OrderStatusDriverAssigned indicates a driver has been assigned.
	OrderStatusDriverAssigned OrderStatus = "driver_assigned"
	// OrderStatusRejectedByDriver indicates the assigned driver declined the job.
	OrderStatusRejectedByDriver OrderStatus = "rejected_by_driver"
	// OrderStatusAcceptedByDriver indicates the assigned driver took the job.
	OrderStatusAcceptedByDriver OrderStatus = "accepted_by_driver"
	// OrderStatusDriverAtPickup indicates the driver arrived at the pickup point.
	OrderStatusDriverAtPickup OrderStatus = "driver_at_pickup"
	// OrderStatusPickedUp indicates the goods are in the driver's custody.
	OrderStatusPickedUp OrderStatus = "picked_up"
	// OrderStatusInTransit indicates the goods are moving to the destination.
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusDriverAtDropoff indicates the driver arrived at the destination.
	OrderStatusDriverAtDropoff OrderStatus = "driver_at_dropoff"
	// OrderStatusDelivered indicates the goods reached the receiver.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelledByUser indicates the customer cancelled before pickup.
	OrderStatusCancelledByUser OrderStatus = "cancelled_by_user"
	// OrderStatusCancelledByMitra indicates the mitra cancelled the order.
	OrderStatusCancelledByMitra OrderStatus = "cancelled_by_mitra"
	// OrderStatusCancelledByDriver indicates the driver abandoned the job.
	OrderStatusCancelledByDriver OrderStatus = "cancelled_by_driver"
	// OrderStatusFailedDelivery indicates the delivery could not be completed.
	OrderStatusFailedDelivery OrderStatus = "failed_delivery"
	// OrderStatusRefunded indicates advanced funds were returned to the customer.
	OrderStatusRefunded OrderStatus = "refunded"
)

// TerminalStatuses lists the states from which no further transition is allowed,
// with the single exception of the refund path handled by the platform.
var TerminalStatuses = map[OrderStatus]bool{
	OrderStatusDelivered:         true,
	OrderStatusCancelledByUser:   true,
	OrderStatusCancelledByMitra:  true,
	OrderStatusCancelledByDriver: true,
	OrderStatusFailedDelivery:    true,
	OrderStatusRefunded:          true,
}

// IsTerminal reports whether the status ends the order lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return TerminalStatuses[s]
}

// DistanceMode selects how a service prices distance.
type DistanceMode string

const (
	// DistancePerKm prices by a flat per-kilometre rate.
	DistancePerKm DistanceMode = "PER_KM"
	// DistanceZoneMatrix prices by an origin/destination zone lookup table.
	DistanceZoneMatrix DistanceMode = "ZONE_MATRIX"
)

// Surcharge describes a priced add-on a customer can select on an order.
type Surcharge struct {
	ID    string
	Label string
	Price int64
}

// ServicePricingConfig is the pricing ruleset a mitra configures per service.
// Orders capture an immutable copy of it at placement time.
type ServicePricingConfig struct {
	DistanceMode       DistanceMode
	PerKmRate          int64
	ZoneMatrix         map[string]int64
	CargoSurcharges    []Surcharge
	FacilitySurcharges []Surcharge
	AdminFee           int64
	TalanganCeiling    int64
	RequiresProofPhoto bool
}

// Service is a delivery product offered by a mitra.
type Service struct {
	ID        string
	MitraID   string
	Name      string
	IsActive  bool
	Pricing   ServicePricingConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Driver is a courier registered under a mitra.
type Driver struct {
	ID        string
	MitraID   string
	Name      string
	WaNumber  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderDetails captures the customer-supplied shipment parameters.
type OrderDetails struct {
	PickupAddress  string
	PickupZone     string
	DropoffAddress string
	DropoffZone    string
	CargoTypeID    string
	FacilityIDs    []string
	DistanceKm     float64
	Notes          string
}

// SurchargeLine records one applied surcharge inside a cost breakdown.
type SurchargeLine struct {
	ID    string
	Label string
	Price int64
}

// CostBreakdown itemizes an order cost in the smallest currency unit (rupiah).
type CostBreakdown struct {
	AdminFee           int64
	DistanceFee        int64
	CargoSurcharges    []SurchargeLine
	FacilitySurcharges []SurchargeLine
	Total              int64
}

// GeoPoint is a latitude/longitude pair reported by a driver device.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Order is the aggregate root of the fulfillment engine.
type Order struct {
	ID                string
	OrderNumber       string
	ServiceID         string
	MitraID           string
	DriverID          *string
	OrdererIdentifier string
	ReceiverWaNumber  *string
	Status            OrderStatus
	Details           OrderDetails
	EstimatedCost     CostBreakdown
	FinalCost         *CostBreakdown
	TalanganAmount    int64
	IsBarangPenting   bool
	PricingSnapshot   ServicePricingConfig
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	FailedAt          *time.Time
	RefundedAt        *time.Time
}

// OrderEventType enumerates the kinds of entries in an order's event log.
type OrderEventType string

const (
	// EventStatusUpdate records a lifecycle transition.
	EventStatusUpdate OrderEventType = "STATUS_UPDATE"
	// EventPhotoUploaded records a proof photo attached to the order.
	EventPhotoUploaded OrderEventType = "PHOTO_UPLOADED"
	// EventLocationUpdate records a driver position report.
	EventLocationUpdate OrderEventType = "LOCATION_UPDATE"
	// EventNoteAdded records free-text commentary from a participant.
	EventNoteAdded OrderEventType = "NOTE_ADDED"
	// EventPaymentUpdate records a talangan settlement state change.
	EventPaymentUpdate OrderEventType = "PAYMENT_UPDATE"
	// EventAssignmentChanged records a driver assignment or reassignment.
	EventAssignmentChanged OrderEventType = "ASSIGNMENT_CHANGED"
	// EventCostUpdated records a recomputation of the order cost.
	EventCostUpdated OrderEventType = "COST_UPDATED"
)

// StatusUpdatePayload is the payload of a STATUS_UPDATE event.
type StatusUpdatePayload struct {
	OldStatus OrderStatus
	NewStatus OrderStatus
	Reason    string
}

// PhotoUploadedPayload is the payload of a PHOTO_UPLOADED event.
type PhotoUploadedPayload struct {
	PhotoKey  string
	PhotoType string
	Caption   string
}

// LocationUpdatePayload is the payload of a LOCATION_UPDATE event.
type LocationUpdatePayload struct {
	Lat float64
	Lon float64
}

// NoteAddedPayload is the payload of a NOTE_ADDED event.
type NoteAddedPayload struct {
	Note   string
	Author string
}

// PaymentUpdatePayload is the payload of a PAYMENT_UPDATE event.
type PaymentUpdatePayload struct {
	TalanganAmount int64
	State          string
}

// AssignmentChangedPayload is the payload of an ASSIGNMENT_CHANGED event.
type AssignmentChangedPayload struct {
	OldDriverID *string
	NewDriverID string
}

// CostUpdatedPayload is the payload of a COST_UPDATED event.
type CostUpdatedPayload struct {
	Total  int64
	Reason string
}

// OrderEvent is one append-only entry in an order's history.
type OrderEvent struct {
	ID         string
	OrderID    string
	Type       OrderEventType
	ActorID    string
	ActorType  ActorType
	Payload    map[string]any
	OccurredAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SignedUploadResponse returns signed URL payloads for proof photo uploads.
type SignedUploadResponse struct {
	ObjectKey string
	URL       string
	ExpiresAt time.Time
	Method    string
	Headers   map[string]string
}
