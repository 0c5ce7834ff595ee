package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/mitrakirim/api/internal/domain"
)

type stubEventRepo struct {
	appendFn func(context.Context, domain.OrderEvent) error
	listFn   func(context.Context, string, domain.SortOrder) ([]domain.OrderEvent, error)

	mu       sync.Mutex
	appended []domain.OrderEvent
}

func (s *stubEventRepo) Append(ctx context.Context, event domain.OrderEvent) error {
	s.mu.Lock()
	s.appended = append(s.appended, event)
	s.mu.Unlock()
	if s.appendFn != nil {
		return s.appendFn(ctx, event)
	}
	return nil
}

func (s *stubEventRepo) recorded() []domain.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderEvent(nil), s.appended...)
}

func (s *stubEventRepo) List(ctx context.Context, orderID string, sort domain.SortOrder) ([]domain.OrderEvent, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID, sort)
	}
	return nil, nil
}

func newTestEventLog(t *testing.T, repo *stubEventRepo) OrderEventLogService {
	t.Helper()
	seq := 0
	log, err := NewOrderEventLog(OrderEventLogDeps{
		Events: repo,
		Clock:  func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			seq++
			return string(rune('A' + seq - 1))
		},
	})
	if err != nil {
		t.Fatalf("NewOrderEventLog: %v", err)
	}
	return log
}

func TestEventLogAppendStatusUpdate(t *testing.T) {
	repo := &stubEventRepo{}
	log := newTestEventLog(t, repo)

	event, err := log.Append(context.Background(), AppendEventCommand{
		OrderID: "ord_1",
		Type:    domain.EventStatusUpdate,
		Actor:   Actor{ID: "mitra-1", Type: domain.ActorMitra},
		StatusUpdate: &domain.StatusUpdatePayload{
			OldStatus: domain.OrderStatusPending,
			NewStatus: domain.OrderStatusAcceptedByMitra,
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if event.ID != "evt_A" {
		t.Fatalf("expected id evt_A, got %s", event.ID)
	}
	if event.Payload["oldStatus"] != "pending" || event.Payload["newStatus"] != "accepted_by_mitra" {
		t.Fatalf("unexpected payload: %v", event.Payload)
	}
	if _, ok := event.Payload["reason"]; ok {
		t.Fatalf("empty reason must be omitted")
	}
	if !event.OccurredAt.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock timestamp, got %s", event.OccurredAt)
	}
}

func TestEventLogSanitizesFreeText(t *testing.T) {
	repo := &stubEventRepo{}
	log := newTestEventLog(t, repo)

	event, err := log.Append(context.Background(), AppendEventCommand{
		OrderID: "ord_1",
		Type:    domain.EventNoteAdded,
		Actor:   Actor{ID: "user-1", Type: domain.ActorUser},
		Note: &domain.NoteAddedPayload{
			Note:   "<script>alert(1)</script>tolong hati-hati",
			Author: "user-1",
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if event.Payload["note"] != "tolong hati-hati" {
		t.Fatalf("expected markup stripped, got %q", event.Payload["note"])
	}
}

func TestEventLogRejectsMismatchedPayload(t *testing.T) {
	repo := &stubEventRepo{}
	log := newTestEventLog(t, repo)

	_, err := log.Append(context.Background(), AppendEventCommand{
		OrderID: "ord_1",
		Type:    domain.EventStatusUpdate,
		Actor:   Actor{ID: "user-1", Type: domain.ActorUser},
		Note:    &domain.NoteAddedPayload{Note: "hi"},
	})
	if !errors.Is(err, ErrEventInvalidInput) {
		t.Fatalf("expected invalid input for mismatched payload, got %v", err)
	}

	_, err = log.Append(context.Background(), AppendEventCommand{
		OrderID: "ord_1",
		Type:    domain.EventStatusUpdate,
		Actor:   Actor{ID: "user-1", Type: domain.ActorUser},
		StatusUpdate: &domain.StatusUpdatePayload{
			NewStatus: domain.OrderStatusPending,
		},
		Note: &domain.NoteAddedPayload{Note: "hi"},
	})
	if !errors.Is(err, ErrEventInvalidInput) {
		t.Fatalf("expected invalid input for two payload variants, got %v", err)
	}
}

func TestEventLogRejectsOutOfRangeCoordinates(t *testing.T) {
	repo := &stubEventRepo{}
	log := newTestEventLog(t, repo)

	_, err := log.Append(context.Background(), AppendEventCommand{
		OrderID:  "ord_1",
		Type:     domain.EventLocationUpdate,
		Actor:    Actor{ID: "drv-1", Type: domain.ActorDriver},
		Location: &domain.LocationUpdatePayload{Lat: 91, Lon: 0},
	})
	if !errors.Is(err, ErrEventInvalidInput) {
		t.Fatalf("expected invalid input for lat 91, got %v", err)
	}
}

func TestEventLogListDefaultsToAscending(t *testing.T) {
	var gotSort domain.SortOrder
	repo := &stubEventRepo{
		listFn: func(_ context.Context, _ string, sort domain.SortOrder) ([]domain.OrderEvent, error) {
			gotSort = sort
			return []domain.OrderEvent{{ID: "evt_1"}}, nil
		},
	}
	log := newTestEventLog(t, repo)

	events, err := log.List(context.Background(), "ord_1", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotSort != domain.SortAsc {
		t.Fatalf("expected ascending default, got %s", gotSort)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
}

func TestEventLogAssignmentPayloadOmitsEmptyOldDriver(t *testing.T) {
	repo := &stubEventRepo{}
	log := newTestEventLog(t, repo)

	event, err := log.Append(context.Background(), AppendEventCommand{
		OrderID:    "ord_1",
		Type:       domain.EventAssignmentChanged,
		Actor:      Actor{ID: "mitra-1", Type: domain.ActorMitra},
		Assignment: &domain.AssignmentChangedPayload{NewDriverID: "drv_9"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if event.Payload["newDriverId"] != "drv_9" {
		t.Fatalf("unexpected payload: %v", event.Payload)
	}
	if _, ok := event.Payload["oldDriverId"]; ok {
		t.Fatalf("expected oldDriverId omitted when unset")
	}
}
