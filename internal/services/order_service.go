package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mitrakirim/api/internal/domain"
	"github.com/mitrakirim/api/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	orderNumberCounterID = "orders"
	systemActorID        = "platform"

	orderNotificationCreated       = "order.created"
	orderNotificationStatusChanged = "order.status.changed"

	defaultTrackingBasePath = "/api/v1/track"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, service, or driver does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates the caller lost a concurrent transition race.
	ErrOrderConflict = errors.New("order: conflict")
)

type orderLifecycleService struct {
	orders        repositories.OrderRepository
	services      repositories.ServiceRepository
	drivers       repositories.DriverRepository
	counters      repositories.CounterRepository
	eventLog      OrderEventLogService
	pricing       *PricingEngine
	notifications OrderNotificationPublisher
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	trackingBase  string
}

// OrderLifecycleServiceDeps bundles constructor inputs for the lifecycle service.
type OrderLifecycleServiceDeps struct {
	Orders          repositories.OrderRepository
	Services        repositories.ServiceRepository
	Drivers         repositories.DriverRepository
	Counters        repositories.CounterRepository
	EventLog        OrderEventLogService
	Pricing         *PricingEngine
	Notifications   OrderNotificationPublisher
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
	TrackingBaseURL string
}

// NewOrderLifecycleService wires the order lifecycle orchestrator.
func NewOrderLifecycleService(deps OrderLifecycleServiceDeps) (OrderLifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Services == nil {
		return nil, errors.New("order service: service repository is required")
	}
	if deps.Drivers == nil {
		return nil, errors.New("order service: driver repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.EventLog == nil {
		return nil, errors.New("order service: event log is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingEngine()
	}

	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	trackingBase := strings.TrimRight(strings.TrimSpace(deps.TrackingBaseURL), "/")
	if trackingBase == "" {
		trackingBase = defaultTrackingBasePath
	}

	return &orderLifecycleService{
		orders:        deps.Orders,
		services:      deps.Services,
		drivers:       deps.Drivers,
		counters:      deps.Counters,
		eventLog:      deps.EventLog,
		pricing:       pricing,
		notifications: deps.Notifications,
		unitOfWork:    unitOfWork,
		clock:         func() time.Time { return clock().UTC() },
		newID:         newID,
		logger:        logger,
		trackingBase:  trackingBase,
	}, nil
}

func (s *orderLifecycleService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return PlacedOrder{}, fmt.Errorf("%w: service id is required", ErrOrderInvalidInput)
	}
	orderer := strings.TrimSpace(cmd.OrdererIdentifier)
	if orderer == "" {
		return PlacedOrder{}, fmt.Errorf("%w: orderer identifier is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Details.PickupAddress) == "" || strings.TrimSpace(cmd.Details.DropoffAddress) == "" {
		return PlacedOrder{}, fmt.Errorf("%w: pickup and dropoff addresses are required", ErrOrderInvalidInput)
	}
	if cmd.TalanganAmount < 0 {
		return PlacedOrder{}, fmt.Errorf("%w: talangan amount must not be negative", ErrOrderInvalidInput)
	}

	receiver := optionalString(strings.TrimSpace(valueOrEmpty(cmd.ReceiverWaNumber)))
	if (cmd.IsBarangPenting || cmd.TalanganAmount > 0) && receiver == nil {
		return PlacedOrder{}, fmt.Errorf("%w: receiver WhatsApp number is required for talangan or valuable goods orders", ErrOrderInvalidInput)
	}

	svc, err := s.findService(ctx, serviceID)
	if err != nil {
		return PlacedOrder{}, err
	}
	if !svc.IsActive {
		return PlacedOrder{}, fmt.Errorf("%w: service %s is not active", ErrOrderInvalidInput, serviceID)
	}

	snapshot := cloneSnapshot(svc.Pricing)
	estimate, err := s.pricing.Quote(snapshot, cmd.Details, cmd.TalanganAmount)
	if err != nil {
		return PlacedOrder{}, err
	}

	now := s.now()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return PlacedOrder{}, err
	}

	order := domain.Order{
		ID:                orderIDPrefix + s.newID(),
		OrderNumber:       number,
		ServiceID:         serviceID,
		MitraID:           svc.MitraID,
		OrdererIdentifier: orderer,
		ReceiverWaNumber:  receiver,
		Status:            domain.OrderStatusPending,
		Details:           cmd.Details,
		EstimatedCost:     estimate,
		TalanganAmount:    cmd.TalanganAmount,
		IsBarangPenting:   cmd.IsBarangPenting,
		PricingSnapshot:   snapshot,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		_, err := s.eventLog.Append(txCtx, AppendEventCommand{
			OrderID:    order.ID,
			Type:       domain.EventStatusUpdate,
			Actor:      Actor{ID: orderer, Type: domain.ActorUser},
			OccurredAt: now,
			StatusUpdate: &domain.StatusUpdatePayload{
				NewStatus: domain.OrderStatusPending,
				Reason:    "order placed",
			},
		})
		return err
	})
	if err != nil {
		return PlacedOrder{}, err
	}

	s.publishNotification(ctx, OrderNotification{
		Type:          orderNotificationCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		ActorID:       orderer,
		ActorType:     domain.ActorUser,
		OccurredAt:    now,
		Metadata: map[string]any{
			"serviceId":      serviceID,
			"estimatedTotal": estimate.Total,
		},
	})

	return PlacedOrder{
		Order:       order,
		TrackingURL: s.trackingBase + "/" + order.ID,
	}, nil
}

func (s *orderLifecycleService) ApplyAction(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" || cmd.Actor.Type == "" {
		return Order{}, fmt.Errorf("%w: actor id and type are required", ErrOrderInvalidInput)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	target, err := resolveActionTarget(cmd)
	if err != nil {
		return Order{}, err
	}

	if err := s.authorizeActor(cmd.Actor, order); err != nil {
		return Order{}, err
	}
	if err := ValidateTransition(cmd.Actor.Type, order.Status, target); err != nil {
		return Order{}, err
	}

	var assignedDriver *domain.Driver
	if target == domain.OrderStatusDriverAssigned {
		driverID := strings.TrimSpace(cmd.DriverID)
		if driverID == "" {
			return Order{}, fmt.Errorf("%w: driver id is required for assignment", ErrOrderInvalidInput)
		}
		driver, err := s.findDriver(ctx, driverID)
		if err != nil {
			return Order{}, err
		}
		if driver.MitraID != order.MitraID {
			return Order{}, fmt.Errorf("%w: driver %s does not belong to mitra %s", ErrOrderInvalidInput, driverID, order.MitraID)
		}
		if !driver.IsActive {
			return Order{}, fmt.Errorf("%w: driver %s is not active", ErrOrderInvalidInput, driverID)
		}
		assignedDriver = &driver
	}

	if requiresProofPhoto(order, target) && strings.TrimSpace(cmd.PhotoKey) == "" {
		return Order{}, fmt.Errorf("%w: a proof photo is required to reach %s", ErrOrderInvalidInput, target)
	}
	if target == domain.OrderStatusRefunded && order.TalanganAmount <= 0 {
		return Order{}, fmt.Errorf("%w: order %s has no collected talangan to refund", ErrOrderInvalidInput, order.ID)
	}

	now := s.now()
	previous := order.Status
	previousDriver := cloneStringPtr(order.DriverID)

	order.Status = target
	order.UpdatedAt = now
	s.stampTerminalTimes(&order, target, now)

	if assignedDriver != nil {
		order.DriverID = valuePtr(assignedDriver.ID)
	}

	costFinalized := false
	if target == domain.OrderStatusDelivered && order.FinalCost == nil {
		final, err := s.pricing.Quote(order.PricingSnapshot, order.Details, order.TalanganAmount)
		if err != nil {
			return Order{}, err
		}
		order.FinalCost = &final
		costFinalized = true
	}

	order.Version++
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.appendTransitionEvents(txCtx, transitionRecord{
			order:          order,
			actor:          cmd.Actor,
			previous:       previous,
			previousDriver: previousDriver,
			reason:         cmd.Reason,
			photoKey:       cmd.PhotoKey,
			photoType:      cmd.PhotoType,
			caption:        cmd.Caption,
			location:       cmd.Location,
			costFinalized:  costFinalized,
			occurredAt:     now,
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.publishNotification(ctx, OrderNotification{
		Type:           orderNotificationStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		OccurredAt:     now,
	})

	if target == domain.OrderStatusRejectedByDriver {
		return s.requeueAfterRejection(ctx, order), nil
	}
	return order, nil
}

func (s *orderLifecycleService) AddNote(ctx context.Context, cmd AddNoteCommand) (OrderEvent, error) {
	order, err := s.loadScopedOrder(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return OrderEvent{}, err
	}

	return s.eventLog.Append(ctx, AppendEventCommand{
		OrderID: order.ID,
		Type:    domain.EventNoteAdded,
		Actor:   cmd.Actor,
		Note: &domain.NoteAddedPayload{
			Note:   cmd.Note,
			Author: cmd.Actor.ID,
		},
	})
}

func (s *orderLifecycleService) AttachPhoto(ctx context.Context, cmd AttachPhotoCommand) (OrderEvent, error) {
	if cmd.Actor.Type == domain.ActorUser {
		return OrderEvent{}, fmt.Errorf("%w: only fulfillment roles may attach photos", ErrOrderForbidden)
	}
	order, err := s.loadScopedOrder(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return OrderEvent{}, err
	}

	return s.eventLog.Append(ctx, AppendEventCommand{
		OrderID: order.ID,
		Type:    domain.EventPhotoUploaded,
		Actor:   cmd.Actor,
		Photo: &domain.PhotoUploadedPayload{
			PhotoKey:  cmd.PhotoKey,
			PhotoType: cmd.PhotoType,
			Caption:   cmd.Caption,
		},
	})
}

func (s *orderLifecycleService) RecordLocation(ctx context.Context, cmd RecordLocationCommand) (OrderEvent, error) {
	if cmd.Actor.Type != domain.ActorDriver && cmd.Actor.Type != domain.ActorSystem {
		return OrderEvent{}, fmt.Errorf("%w: only drivers report positions", ErrOrderForbidden)
	}
	order, err := s.loadScopedOrder(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return OrderEvent{}, err
	}

	return s.eventLog.Append(ctx, AppendEventCommand{
		OrderID: order.ID,
		Type:    domain.EventLocationUpdate,
		Actor:   cmd.Actor,
		Location: &domain.LocationUpdatePayload{
			Lat: cmd.Location.Lat,
			Lon: cmd.Location.Lon,
		},
	})
}

func (s *orderLifecycleService) Track(ctx context.Context, orderID string) (OrderTracking, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderTracking{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return OrderTracking{}, err
	}

	events, err := s.eventLog.List(ctx, orderID, domain.SortDesc)
	if err != nil {
		return OrderTracking{}, err
	}

	return OrderTracking{Order: order, Events: events}, nil
}

func (s *orderLifecycleService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		Status:     slices.Clone(filter.Status),
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	}

	actorID := strings.TrimSpace(filter.Actor.ID)
	switch filter.Actor.Type {
	case domain.ActorSystem:
		// Platform listings are unscoped.
	case domain.ActorUser:
		if actorID == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
		}
		repoFilter.OrdererIdentifier = actorID
	case domain.ActorMitra:
		if actorID == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
		}
		repoFilter.MitraID = actorID
	case domain.ActorDriver:
		if actorID == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
		}
		repoFilter.DriverID = actorID
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown actor role %q", ErrOrderForbidden, filter.Actor.Type)
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderLifecycleService) RequestRefund(ctx context.Context, cmd RefundCommand) (Order, error) {
	if cmd.Actor.Type != domain.ActorSystem {
		return Order{}, fmt.Errorf("%w: refunds are issued by the platform", ErrOrderForbidden)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.TalanganAmount <= 0 {
		return Order{}, fmt.Errorf("%w: order %s has no collected talangan to refund", ErrOrderInvalidInput, order.ID)
	}
	if err := ValidateTransition(domain.ActorSystem, order.Status, domain.OrderStatusRefunded); err != nil {
		return Order{}, err
	}

	now := s.now()
	previous := order.Status
	order.Status = domain.OrderStatusRefunded
	order.UpdatedAt = now
	s.stampTerminalTimes(&order, domain.OrderStatusRefunded, now)
	order.Version++

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.eventLog.Append(txCtx, AppendEventCommand{
			OrderID:    order.ID,
			Type:       domain.EventStatusUpdate,
			Actor:      cmd.Actor,
			OccurredAt: now,
			StatusUpdate: &domain.StatusUpdatePayload{
				OldStatus: previous,
				NewStatus: order.Status,
				Reason:    cmd.Reason,
			},
		}); err != nil {
			return err
		}
		_, err := s.eventLog.Append(txCtx, AppendEventCommand{
			OrderID:    order.ID,
			Type:       domain.EventPaymentUpdate,
			Actor:      cmd.Actor,
			OccurredAt: now,
			Payment: &domain.PaymentUpdatePayload{
				TalanganAmount: order.TalanganAmount,
				State:          "refunded",
			},
		})
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publishNotification(ctx, OrderNotification{
		Type:           orderNotificationStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		OccurredAt:     now,
	})

	return order, nil
}

type transitionRecord struct {
	order          Order
	actor          Actor
	previous       domain.OrderStatus
	previousDriver *string
	reason         string
	photoKey       string
	photoType      string
	caption        string
	location       *GeoPoint
	costFinalized  bool
	occurredAt     time.Time
}

// appendTransitionEvents writes the STATUS_UPDATE and any companion events for a
// transition, in a fixed order. It runs inside the same unit of work as the
// status write, so the order never moves without its history entry. Location
// capture is best effort and never fails the transition.
func (s *orderLifecycleService) appendTransitionEvents(ctx context.Context, rec transitionRecord) error {
	if _, err := s.eventLog.Append(ctx, AppendEventCommand{
		OrderID:    rec.order.ID,
		Type:       domain.EventStatusUpdate,
		Actor:      rec.actor,
		OccurredAt: rec.occurredAt,
		StatusUpdate: &domain.StatusUpdatePayload{
			OldStatus: rec.previous,
			NewStatus: rec.order.Status,
			Reason:    rec.reason,
		},
	}); err != nil {
		return err
	}

	if strings.TrimSpace(rec.photoKey) != "" && proofPhotoStatus(rec.order.Status) {
		if _, err := s.eventLog.Append(ctx, AppendEventCommand{
			OrderID:    rec.order.ID,
			Type:       domain.EventPhotoUploaded,
			Actor:      rec.actor,
			OccurredAt: rec.occurredAt,
			Photo: &domain.PhotoUploadedPayload{
				PhotoKey:  rec.photoKey,
				PhotoType: rec.photoType,
				Caption:   rec.caption,
			},
		}); err != nil {
			return err
		}
	}

	if rec.location != nil && arrivalStatus(rec.order.Status) {
		if _, err := s.eventLog.Append(ctx, AppendEventCommand{
			OrderID:    rec.order.ID,
			Type:       domain.EventLocationUpdate,
			Actor:      rec.actor,
			OccurredAt: rec.occurredAt,
			Location: &domain.LocationUpdatePayload{
				Lat: rec.location.Lat,
				Lon: rec.location.Lon,
			},
		}); err != nil {
			s.logger(ctx, "order.location.capture.failed", map[string]any{
				"order": rec.order.ID,
				"error": err.Error(),
			})
		}
	}

	if rec.order.Status == domain.OrderStatusDriverAssigned && rec.order.DriverID != nil {
		if _, err := s.eventLog.Append(ctx, AppendEventCommand{
			OrderID:    rec.order.ID,
			Type:       domain.EventAssignmentChanged,
			Actor:      rec.actor,
			OccurredAt: rec.occurredAt,
			Assignment: &domain.AssignmentChangedPayload{
				OldDriverID: rec.previousDriver,
				NewDriverID: *rec.order.DriverID,
			},
		}); err != nil {
			return err
		}
	}

	if rec.order.Status == domain.OrderStatusRefunded {
		if _, err := s.eventLog.Append(ctx, AppendEventCommand{
			OrderID:    rec.order.ID,
			Type:       domain.EventPaymentUpdate,
			Actor:      rec.actor,
			OccurredAt: rec.occurredAt,
			Payment: &domain.PaymentUpdatePayload{
				TalanganAmount: rec.order.TalanganAmount,
				State:          "refunded",
			},
		}); err != nil {
			return err
		}
	}

	if rec.costFinalized && rec.order.FinalCost != nil {
		if _, err := s.eventLog.Append(ctx, AppendEventCommand{
			OrderID:    rec.order.ID,
			Type:       domain.EventCostUpdated,
			Actor:      rec.actor,
			OccurredAt: rec.occurredAt,
			Cost: &domain.CostUpdatedPayload{
				Total:  rec.order.FinalCost.Total,
				Reason: "final cost computed at delivery",
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

// requeueAfterRejection puts a driver-rejected order back into the assignment
// queue on behalf of the platform. The rejection itself has already committed,
// so a requeue failure is logged and the rejected order returned as is.
func (s *orderLifecycleService) requeueAfterRejection(ctx context.Context, order Order) Order {
	now := s.now()
	previous := order.Status
	requeued := order
	requeued.Status = domain.OrderStatusPendingDriverAssignment
	requeued.DriverID = nil
	requeued.UpdatedAt = now
	requeued.Version++

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, requeued); err != nil {
			return s.mapRepositoryError(err)
		}
		_, err := s.eventLog.Append(txCtx, AppendEventCommand{
			OrderID:    requeued.ID,
			Type:       domain.EventStatusUpdate,
			Actor:      Actor{ID: systemActorID, Type: domain.ActorSystem},
			OccurredAt: now,
			StatusUpdate: &domain.StatusUpdatePayload{
				OldStatus: previous,
				NewStatus: requeued.Status,
				Reason:    "requeued for reassignment",
			},
		})
		return err
	})
	if err != nil {
		s.logger(ctx, "order.requeue.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return order
	}

	s.publishNotification(ctx, OrderNotification{
		Type:           orderNotificationStatusChanged,
		OrderID:        requeued.ID,
		OrderNumber:    requeued.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  requeued.Status,
		ActorID:        systemActorID,
		ActorType:      domain.ActorSystem,
		OccurredAt:     now,
	})

	return requeued
}

func (s *orderLifecycleService) loadScopedOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(actor.ID) == "" || actor.Type == "" {
		return Order{}, fmt.Errorf("%w: actor id and type are required", ErrOrderInvalidInput)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorizeActor(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// authorizeActor checks that the actor holds the matching scope on the order:
// the user placed it, the mitra owns its service, the driver is assigned to it.
func (s *orderLifecycleService) authorizeActor(actor Actor, order Order) error {
	actorID := strings.TrimSpace(actor.ID)
	switch actor.Type {
	case domain.ActorSystem:
		return nil
	case domain.ActorUser:
		if order.OrdererIdentifier != actorID {
			return fmt.Errorf("%w: order %s was not placed by %s", ErrOrderForbidden, order.ID, actorID)
		}
	case domain.ActorMitra:
		if order.MitraID != actorID {
			return fmt.Errorf("%w: order %s does not belong to mitra %s", ErrOrderForbidden, order.ID, actorID)
		}
	case domain.ActorDriver:
		if order.DriverID == nil || *order.DriverID != actorID {
			return fmt.Errorf("%w: driver %s is not assigned to order %s", ErrOrderForbidden, actorID, order.ID)
		}
	default:
		return fmt.Errorf("%w: unknown actor role %q", ErrOrderForbidden, actor.Type)
	}
	return nil
}

// resolveActionTarget maps a named action plus actor role onto the concrete
// target status the transition table understands.
func resolveActionTarget(cmd OrderActionCommand) (domain.OrderStatus, error) {
	switch cmd.Action {
	case OrderActionAccept:
		switch cmd.Actor.Type {
		case domain.ActorMitra:
			return domain.OrderStatusAcceptedByMitra, nil
		case domain.ActorDriver:
			return domain.OrderStatusAcceptedByDriver, nil
		}
		return "", fmt.Errorf("%w: role %s cannot accept orders", ErrOrderForbidden, cmd.Actor.Type)
	case OrderActionReject:
		switch cmd.Actor.Type {
		case domain.ActorMitra:
			return domain.OrderStatusCancelledByMitra, nil
		case domain.ActorDriver:
			return domain.OrderStatusRejectedByDriver, nil
		}
		return "", fmt.Errorf("%w: role %s cannot reject orders", ErrOrderForbidden, cmd.Actor.Type)
	case OrderActionAssign:
		return domain.OrderStatusDriverAssigned, nil
	case OrderActionUpdateStatus:
		if cmd.TargetStatus == nil || *cmd.TargetStatus == "" {
			return "", fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
		}
		return *cmd.TargetStatus, nil
	case OrderActionCancel:
		switch cmd.Actor.Type {
		case domain.ActorUser:
			return domain.OrderStatusCancelledByUser, nil
		case domain.ActorMitra:
			return domain.OrderStatusCancelledByMitra, nil
		case domain.ActorDriver:
			return domain.OrderStatusCancelledByDriver, nil
		}
		return "", fmt.Errorf("%w: role %s cannot cancel orders", ErrOrderForbidden, cmd.Actor.Type)
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrOrderInvalidInput, cmd.Action)
	}
}

// stampTerminalTimes records the terminal timestamp for the target status.
// Non-delivered terminal states settle on the estimated breakdown as the final
// cost; delivery recomputes it from the snapshot instead.
func (s *orderLifecycleService) stampTerminalTimes(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelledByUser, domain.OrderStatusCancelledByMitra, domain.OrderStatusCancelledByDriver:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
		freezeFinalCost(order)
	case domain.OrderStatusFailedDelivery:
		order.FailedAt = &now
		freezeFinalCost(order)
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
		freezeFinalCost(order)
	}
}

// freezeFinalCost copies the estimate into the final cost unless one is already set.
func freezeFinalCost(order *Order) {
	if order.FinalCost != nil {
		return
	}
	final := order.EstimatedCost
	final.CargoSurcharges = slices.Clone(final.CargoSurcharges)
	final.FacilitySurcharges = slices.Clone(final.FacilitySurcharges)
	order.FinalCost = &final
}

func requiresProofPhoto(order Order, target domain.OrderStatus) bool {
	return order.PricingSnapshot.RequiresProofPhoto && proofPhotoStatus(target)
}

func proofPhotoStatus(status domain.OrderStatus) bool {
	return status == domain.OrderStatusPickedUp || status == domain.OrderStatusDelivered
}

func arrivalStatus(status domain.OrderStatus) bool {
	return status == domain.OrderStatusDriverAtPickup || status == domain.OrderStatusDriverAtDropoff
}

// findOrder retries a transiently unavailable read once before giving up.
func (s *orderLifecycleService) findOrder(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if isUnavailable(err) {
		order, err = s.orders.FindByID(ctx, orderID)
	}
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderLifecycleService) findService(ctx context.Context, serviceID string) (domain.Service, error) {
	svc, err := s.services.FindByID(ctx, serviceID)
	if isUnavailable(err) {
		svc, err = s.services.FindByID(ctx, serviceID)
	}
	if err != nil {
		return domain.Service{}, s.mapRepositoryError(err)
	}
	return svc, nil
}

func (s *orderLifecycleService) findDriver(ctx context.Context, driverID string) (domain.Driver, error) {
	driver, err := s.drivers.FindByID(ctx, driverID)
	if isUnavailable(err) {
		driver, err = s.drivers.FindByID(ctx, driverID)
	}
	if err != nil {
		return domain.Driver{}, s.mapRepositoryError(err)
	}
	return driver, nil
}

func (s *orderLifecycleService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderLifecycleService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MK-%04d-%06d", now.Year(), seq), nil
}

func (s *orderLifecycleService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderLifecycleService) now() time.Time {
	return s.clock()
}

func (s *orderLifecycleService) publishNotification(ctx context.Context, notification OrderNotification) {
	if s.notifications == nil {
		return
	}
	if notification.Metadata != nil {
		notification.Metadata = maps.Clone(notification.Metadata)
	}
	if err := s.notifications.PublishOrderNotification(ctx, notification); err != nil {
		s.logger(ctx, "order.notification.publish.failed", map[string]any{
			"type":   notification.Type,
			"order":  notification.OrderID,
			"error":  err.Error(),
			"status": string(notification.CurrentStatus),
		})
	}
}

func isUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func cloneSnapshot(snapshot domain.ServicePricingConfig) domain.ServicePricingConfig {
	cloned := snapshot
	cloned.ZoneMatrix = maps.Clone(snapshot.ZoneMatrix)
	cloned.CargoSurcharges = slices.Clone(snapshot.CargoSurcharges)
	cloned.FacilitySurcharges = slices.Clone(snapshot.FacilitySurcharges)
	return cloned
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

var _ OrderLifecycleService = (*orderLifecycleService)(nil)
