package services

import (
	"errors"
	"fmt"
	"slices"

	domain "github.com/mitrakirim/api/internal/domain"
)

var (
	// ErrOrderInvalidTransition signals a status change the transition table does not allow.
	ErrOrderInvalidTransition = errors.New("order: invalid transition")
	// ErrOrderForbidden signals an actor acting outside its role or resource scope.
	ErrOrderForbidden = errors.New("order: forbidden")
)

// orderTransitions is the full (actor, from status) -> allowed next statuses table.
// Every legal lifecycle edge appears here; anything absent is rejected.
var orderTransitions = map[domain.ActorType]map[domain.OrderStatus][]domain.OrderStatus{
	domain.ActorUser: {
		domain.OrderStatusPending:                 {domain.OrderStatusCancelledByUser},
		domain.OrderStatusAcceptedByMitra:         {domain.OrderStatusCancelledByUser},
		domain.OrderStatusPendingDriverAssignment: {domain.OrderStatusCancelledByUser},
	},
	domain.ActorMitra: {
		domain.OrderStatusPending: {
			domain.OrderStatusAcceptedByMitra,
			domain.OrderStatusCancelledByMitra,
		},
		domain.OrderStatusAcceptedByMitra: {
			domain.OrderStatusPendingDriverAssignment,
			domain.OrderStatusCancelledByMitra,
		},
		domain.OrderStatusPendingDriverAssignment: {
			domain.OrderStatusDriverAssigned,
			domain.OrderStatusCancelledByMitra,
		},
		domain.OrderStatusDriverAssigned:   {domain.OrderStatusCancelledByMitra},
		domain.OrderStatusRejectedByDriver: {domain.OrderStatusCancelledByMitra},
		domain.OrderStatusAcceptedByDriver: {domain.OrderStatusCancelledByMitra},
		domain.OrderStatusDriverAtPickup:   {domain.OrderStatusCancelledByMitra},
		domain.OrderStatusPickedUp:         {domain.OrderStatusCancelledByMitra},
		domain.OrderStatusInTransit:        {domain.OrderStatusCancelledByMitra},
		domain.OrderStatusDriverAtDropoff:  {domain.OrderStatusCancelledByMitra},
	},
	domain.ActorDriver: {
		domain.OrderStatusDriverAssigned: {
			domain.OrderStatusAcceptedByDriver,
			domain.OrderStatusRejectedByDriver,
		},
		domain.OrderStatusAcceptedByDriver: {
			domain.OrderStatusDriverAtPickup,
			domain.OrderStatusCancelledByDriver,
		},
		domain.OrderStatusDriverAtPickup: {
			domain.OrderStatusPickedUp,
			domain.OrderStatusCancelledByDriver,
		},
		domain.OrderStatusPickedUp: {
			domain.OrderStatusInTransit,
			domain.OrderStatusDriverAtDropoff,
			domain.OrderStatusCancelledByDriver,
		},
		domain.OrderStatusInTransit: {
			domain.OrderStatusDriverAtDropoff,
			domain.OrderStatusCancelledByDriver,
		},
		domain.OrderStatusDriverAtDropoff: {
			domain.OrderStatusDelivered,
			domain.OrderStatusFailedDelivery,
			domain.OrderStatusCancelledByDriver,
		},
	},
	domain.ActorSystem: {
		domain.OrderStatusRejectedByDriver:  {domain.OrderStatusPendingDriverAssignment},
		domain.OrderStatusCancelledByUser:   {domain.OrderStatusRefunded},
		domain.OrderStatusCancelledByMitra:  {domain.OrderStatusRefunded},
		domain.OrderStatusCancelledByDriver: {domain.OrderStatusRefunded},
		domain.OrderStatusFailedDelivery:    {domain.OrderStatusRefunded},
	},
}

// ValidateTransition reports whether the actor role may move an order between the
// two statuses. A role that can never produce the target status anywhere in the
// table is an authorization failure; a role that can, but not from the current
// status, is an invalid transition.
func ValidateTransition(actor domain.ActorType, from, to domain.OrderStatus) error {
	table, ok := orderTransitions[actor]
	if !ok {
		return fmt.Errorf("%w: unknown actor role %q", ErrOrderForbidden, actor)
	}
	if !actorMaySet(actor, to) {
		return fmt.Errorf("%w: role %s may not move orders to %s", ErrOrderForbidden, actor, to)
	}
	if !slices.Contains(table[from], to) {
		return fmt.Errorf("%w: %s may not move order from %s to %s", ErrOrderInvalidTransition, actor, from, to)
	}
	return nil
}

// AllowedTransitions returns the statuses the actor may move an order to from the given status.
func AllowedTransitions(actor domain.ActorType, from domain.OrderStatus) []domain.OrderStatus {
	return slices.Clone(orderTransitions[actor][from])
}

func actorMaySet(actor domain.ActorType, to domain.OrderStatus) bool {
	for _, targets := range orderTransitions[actor] {
		if slices.Contains(targets, to) {
			return true
		}
	}
	return false
}
