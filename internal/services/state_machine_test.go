package services

import (
	"errors"
	"testing"

	domain "github.com/mitrakirim/api/internal/domain"
)

func TestValidateTransitionAllowsTableEdges(t *testing.T) {
	cases := []struct {
		actor domain.ActorType
		from  domain.OrderStatus
		to    domain.OrderStatus
	}{
		{domain.ActorMitra, domain.OrderStatusPending, domain.OrderStatusAcceptedByMitra},
		{domain.ActorMitra, domain.OrderStatusAcceptedByMitra, domain.OrderStatusPendingDriverAssignment},
		{domain.ActorMitra, domain.OrderStatusPendingDriverAssignment, domain.OrderStatusDriverAssigned},
		{domain.ActorMitra, domain.OrderStatusInTransit, domain.OrderStatusCancelledByMitra},
		{domain.ActorDriver, domain.OrderStatusDriverAssigned, domain.OrderStatusAcceptedByDriver},
		{domain.ActorDriver, domain.OrderStatusDriverAssigned, domain.OrderStatusRejectedByDriver},
		{domain.ActorDriver, domain.OrderStatusAcceptedByDriver, domain.OrderStatusDriverAtPickup},
		{domain.ActorDriver, domain.OrderStatusDriverAtPickup, domain.OrderStatusPickedUp},
		{domain.ActorDriver, domain.OrderStatusPickedUp, domain.OrderStatusInTransit},
		{domain.ActorDriver, domain.OrderStatusPickedUp, domain.OrderStatusDriverAtDropoff},
		{domain.ActorDriver, domain.OrderStatusInTransit, domain.OrderStatusDriverAtDropoff},
		{domain.ActorDriver, domain.OrderStatusDriverAtDropoff, domain.OrderStatusDelivered},
		{domain.ActorDriver, domain.OrderStatusDriverAtDropoff, domain.OrderStatusFailedDelivery},
		{domain.ActorUser, domain.OrderStatusPending, domain.OrderStatusCancelledByUser},
		{domain.ActorUser, domain.OrderStatusAcceptedByMitra, domain.OrderStatusCancelledByUser},
		{domain.ActorUser, domain.OrderStatusPendingDriverAssignment, domain.OrderStatusCancelledByUser},
		{domain.ActorSystem, domain.OrderStatusRejectedByDriver, domain.OrderStatusPendingDriverAssignment},
		{domain.ActorSystem, domain.OrderStatusCancelledByUser, domain.OrderStatusRefunded},
		{domain.ActorSystem, domain.OrderStatusFailedDelivery, domain.OrderStatusRefunded},
	}

	for _, tc := range cases {
		if err := ValidateTransition(tc.actor, tc.from, tc.to); err != nil {
			t.Fatalf("expected %s %s -> %s to be legal, got %v", tc.actor, tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionRejectsOffTableEdges(t *testing.T) {
	cases := []struct {
		actor domain.ActorType
		from  domain.OrderStatus
		to    domain.OrderStatus
	}{
		{domain.ActorMitra, domain.OrderStatusPending, domain.OrderStatusDriverAssigned},
		{domain.ActorDriver, domain.OrderStatusDriverAssigned, domain.OrderStatusPickedUp},
		{domain.ActorDriver, domain.OrderStatusDelivered, domain.OrderStatusFailedDelivery},
		{domain.ActorUser, domain.OrderStatusDriverAssigned, domain.OrderStatusCancelledByUser},
		{domain.ActorUser, domain.OrderStatusPickedUp, domain.OrderStatusCancelledByUser},
		{domain.ActorSystem, domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	}

	for _, tc := range cases {
		err := ValidateTransition(tc.actor, tc.from, tc.to)
		if !errors.Is(err, ErrOrderInvalidTransition) {
			t.Fatalf("expected invalid transition for %s %s -> %s, got %v", tc.actor, tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionForbidsRoleOutsideItsTargets(t *testing.T) {
	err := ValidateTransition(domain.ActorUser, domain.OrderStatusPendingDriverAssignment, domain.OrderStatusDriverAssigned)
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for user assigning a driver, got %v", err)
	}

	err = ValidateTransition(domain.ActorMitra, domain.OrderStatusDriverAtDropoff, domain.OrderStatusDelivered)
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for mitra marking delivered, got %v", err)
	}

	err = ValidateTransition("AUDITOR", domain.OrderStatusPending, domain.OrderStatusAcceptedByMitra)
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for unknown role, got %v", err)
	}
}

func TestTransitionTableNeverLeavesTerminalStates(t *testing.T) {
	for actor, table := range orderTransitions {
		for from := range table {
			if !from.IsTerminal() {
				continue
			}
			// Only the platform refund path may leave a terminal state.
			if actor == domain.ActorSystem {
				for _, to := range table[from] {
					if to != domain.OrderStatusRefunded {
						t.Fatalf("system may only refund from terminal states, found %s -> %s", from, to)
					}
				}
				continue
			}
			t.Fatalf("%s has a transition out of terminal state %s", actor, from)
		}
	}
}

func TestTransitionTableReplaysValidPath(t *testing.T) {
	path := []struct {
		actor domain.ActorType
		to    domain.OrderStatus
	}{
		{domain.ActorMitra, domain.OrderStatusAcceptedByMitra},
		{domain.ActorMitra, domain.OrderStatusPendingDriverAssignment},
		{domain.ActorMitra, domain.OrderStatusDriverAssigned},
		{domain.ActorDriver, domain.OrderStatusRejectedByDriver},
		{domain.ActorSystem, domain.OrderStatusPendingDriverAssignment},
		{domain.ActorMitra, domain.OrderStatusDriverAssigned},
		{domain.ActorDriver, domain.OrderStatusAcceptedByDriver},
		{domain.ActorDriver, domain.OrderStatusDriverAtPickup},
		{domain.ActorDriver, domain.OrderStatusPickedUp},
		{domain.ActorDriver, domain.OrderStatusInTransit},
		{domain.ActorDriver, domain.OrderStatusDriverAtDropoff},
		{domain.ActorDriver, domain.OrderStatusDelivered},
	}

	current := domain.OrderStatusPending
	for _, step := range path {
		if err := ValidateTransition(step.actor, current, step.to); err != nil {
			t.Fatalf("replay failed at %s -> %s: %v", current, step.to, err)
		}
		current = step.to
	}
	if !current.IsTerminal() {
		t.Fatalf("replay should end in a terminal state, got %s", current)
	}
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	first := AllowedTransitions(domain.ActorDriver, domain.OrderStatusDriverAssigned)
	if len(first) != 2 {
		t.Fatalf("expected two options from driver_assigned, got %v", first)
	}
	first[0] = domain.OrderStatusDelivered
	second := AllowedTransitions(domain.ActorDriver, domain.OrderStatusDriverAssigned)
	if second[0] == domain.OrderStatusDelivered {
		t.Fatalf("mutating the returned slice must not affect the table")
	}
}
