package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/mitrakirim/api/internal/domain"
	"github.com/mitrakirim/api/internal/repositories"
)

const eventIDPrefix = "evt_"

var (
	// ErrEventInvalidInput signals a malformed append request, such as a payload
	// variant that does not match the event type.
	ErrEventInvalidInput = errors.New("order event: invalid input")
	// ErrEventNotFound signals an unknown order id on a read.
	ErrEventNotFound = errors.New("order event: not found")
)

type orderEventLog struct {
	events   repositories.OrderEventRepository
	clock    func() time.Time
	newID    func() string
	sanitize func(string) string
}

// OrderEventLogDeps bundles constructor inputs for the event log service.
type OrderEventLogDeps struct {
	Events      repositories.OrderEventRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// NewOrderEventLog builds the append-only event log service. Free-text payload
// fields are stripped of markup before storage since they are echoed verbatim
// on the public tracking timeline.
func NewOrderEventLog(deps OrderEventLogDeps) (OrderEventLogService, error) {
	if deps.Events == nil {
		return nil, errors.New("order event log: event repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	policy := bluemonday.StrictPolicy()

	return &orderEventLog{
		events: deps.Events,
		clock:  func() time.Time { return clock().UTC() },
		newID:  newID,
		sanitize: func(text string) string {
			return strings.TrimSpace(policy.Sanitize(text))
		},
	}, nil
}

func (s *orderEventLog) Append(ctx context.Context, cmd AppendEventCommand) (OrderEvent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderEvent{}, fmt.Errorf("%w: order id is required", ErrEventInvalidInput)
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" || cmd.Actor.Type == "" {
		return OrderEvent{}, fmt.Errorf("%w: actor id and type are required", ErrEventInvalidInput)
	}

	payload, err := s.buildPayload(cmd)
	if err != nil {
		return OrderEvent{}, err
	}

	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock()
	}

	event := domain.OrderEvent{
		ID:         eventIDPrefix + s.newID(),
		OrderID:    orderID,
		Type:       cmd.Type,
		ActorID:    strings.TrimSpace(cmd.Actor.ID),
		ActorType:  cmd.Actor.Type,
		Payload:    payload,
		OccurredAt: occurredAt.UTC(),
	}

	if err := s.events.Append(ctx, event); err != nil {
		return OrderEvent{}, s.mapRepositoryError(err)
	}
	return event, nil
}

func (s *orderEventLog) List(ctx context.Context, orderID string, sort SortOrder) ([]OrderEvent, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrEventInvalidInput)
	}
	if sort != domain.SortAsc && sort != domain.SortDesc {
		sort = domain.SortAsc
	}

	events, err := s.events.List(ctx, orderID, sort)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return events, nil
}

// buildPayload validates that exactly the variant matching the event type is set
// and flattens it into the stored document shape.
func (s *orderEventLog) buildPayload(cmd AppendEventCommand) (map[string]any, error) {
	variants := 0
	for _, set := range []bool{
		cmd.StatusUpdate != nil,
		cmd.Photo != nil,
		cmd.Location != nil,
		cmd.Note != nil,
		cmd.Payment != nil,
		cmd.Assignment != nil,
		cmd.Cost != nil,
	} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return nil, fmt.Errorf("%w: exactly one payload variant is required, got %d", ErrEventInvalidInput, variants)
	}

	switch cmd.Type {
	case domain.EventStatusUpdate:
		if cmd.StatusUpdate == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		if cmd.StatusUpdate.NewStatus == "" {
			return nil, fmt.Errorf("%w: new status is required", ErrEventInvalidInput)
		}
		payload := map[string]any{
			"oldStatus": string(cmd.StatusUpdate.OldStatus),
			"newStatus": string(cmd.StatusUpdate.NewStatus),
		}
		if reason := s.sanitize(cmd.StatusUpdate.Reason); reason != "" {
			payload["reason"] = reason
		}
		return payload, nil
	case domain.EventPhotoUploaded:
		if cmd.Photo == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		key := strings.TrimSpace(cmd.Photo.PhotoKey)
		if key == "" {
			return nil, fmt.Errorf("%w: photo key is required", ErrEventInvalidInput)
		}
		payload := map[string]any{
			"photoKey":  key,
			"photoType": strings.TrimSpace(cmd.Photo.PhotoType),
		}
		if caption := s.sanitize(cmd.Photo.Caption); caption != "" {
			payload["caption"] = caption
		}
		return payload, nil
	case domain.EventLocationUpdate:
		if cmd.Location == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		if cmd.Location.Lat < -90 || cmd.Location.Lat > 90 || cmd.Location.Lon < -180 || cmd.Location.Lon > 180 {
			return nil, fmt.Errorf("%w: coordinates out of range", ErrEventInvalidInput)
		}
		return map[string]any{
			"lat": cmd.Location.Lat,
			"lon": cmd.Location.Lon,
		}, nil
	case domain.EventNoteAdded:
		if cmd.Note == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		note := s.sanitize(cmd.Note.Note)
		if note == "" {
			return nil, fmt.Errorf("%w: note text is required", ErrEventInvalidInput)
		}
		return map[string]any{
			"note":   note,
			"author": strings.TrimSpace(cmd.Note.Author),
		}, nil
	case domain.EventPaymentUpdate:
		if cmd.Payment == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		if cmd.Payment.TalanganAmount < 0 {
			return nil, fmt.Errorf("%w: talangan amount must not be negative", ErrEventInvalidInput)
		}
		return map[string]any{
			"talanganAmount": cmd.Payment.TalanganAmount,
			"state":          strings.TrimSpace(cmd.Payment.State),
		}, nil
	case domain.EventAssignmentChanged:
		if cmd.Assignment == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		newDriver := strings.TrimSpace(cmd.Assignment.NewDriverID)
		if newDriver == "" {
			return nil, fmt.Errorf("%w: new driver id is required", ErrEventInvalidInput)
		}
		payload := map[string]any{
			"newDriverId": newDriver,
		}
		if cmd.Assignment.OldDriverID != nil && strings.TrimSpace(*cmd.Assignment.OldDriverID) != "" {
			payload["oldDriverId"] = strings.TrimSpace(*cmd.Assignment.OldDriverID)
		}
		return payload, nil
	case domain.EventCostUpdated:
		if cmd.Cost == nil {
			return nil, payloadMismatch(cmd.Type)
		}
		payload := map[string]any{
			"total": cmd.Cost.Total,
		}
		if reason := s.sanitize(cmd.Cost.Reason); reason != "" {
			payload["reason"] = reason
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrEventInvalidInput, cmd.Type)
	}
}

func (s *orderEventLog) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrEventNotFound, err)
	}
	return err
}

func payloadMismatch(eventType domain.OrderEventType) error {
	return fmt.Errorf("%w: payload does not match event type %s", ErrEventInvalidInput, eventType)
}

var _ OrderEventLogService = (*orderEventLog)(nil)
