package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/mitrakirim/api/internal/domain"
	pfirestore "github.com/mitrakirim/api/internal/platform/firestore"
	"github.com/mitrakirim/api/internal/repositories"
)

const orderEventsCollection = "events"

// OrderEventRepository stores the append-only history beneath each order document.
type OrderEventRepository struct {
	provider *pfirestore.Provider
}

// NewOrderEventRepository constructs a Firestore-backed order event repository.
func NewOrderEventRepository(provider *pfirestore.Provider) (*OrderEventRepository, error) {
	if provider == nil {
		return nil, errors.New("order event repository: firestore provider is required")
	}
	return &OrderEventRepository{provider: provider}, nil
}

// Append writes a new event document. Events are never updated or deleted, so
// Create is used to reject accidental rewrites of an existing entry.
func (r *OrderEventRepository) Append(ctx context.Context, event domain.OrderEvent) error {
	if r == nil || r.provider == nil {
		return errors.New("order event repository not initialised")
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return errors.New("order event repository: order id is required")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return errors.New("order event repository: event id is required")
	}

	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return err
	}

	doc := orderEventDocument{
		Type:       string(event.Type),
		ActorID:    strings.TrimSpace(event.ActorID),
		ActorType:  string(event.ActorType),
		Payload:    cloneMap(event.Payload),
		OccurredAt: event.OccurredAt.UTC(),
	}
	if event.OccurredAt.IsZero() {
		doc.OccurredAt = time.Now().UTC()
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Create(coll.Doc(eventID), doc); err != nil {
			return pfirestore.WrapError("order_events.append", err)
		}
		return nil
	}
	if _, err := coll.Doc(eventID).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("order_events.append", err)
	}
	return nil
}

// List returns the complete event history of an order in the requested order.
func (r *OrderEventRepository) List(ctx context.Context, orderID string, order domain.SortOrder) ([]domain.OrderEvent, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order event repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order event repository: order id is required")
	}

	direction := firestore.Asc
	if order == domain.SortDesc {
		direction = firestore.Desc
	}

	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	query := coll.OrderBy("occurredAt", direction).OrderBy(firestore.DocumentID, direction)
	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []domain.OrderEvent
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("order_events.list", err)
		}
		var doc orderEventDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("order event repository: decode %s: %w", snap.Ref.ID, err)
		}
		events = append(events, domain.OrderEvent{
			ID:         snap.Ref.ID,
			OrderID:    orderID,
			Type:       domain.OrderEventType(doc.Type),
			ActorID:    doc.ActorID,
			ActorType:  domain.ActorType(doc.ActorType),
			Payload:    cloneMap(doc.Payload),
			OccurredAt: doc.OccurredAt.UTC(),
		})
	}
	return events, nil
}

type orderEventDocument struct {
	Type       string         `firestore:"type"`
	ActorID    string         `firestore:"actorId"`
	ActorType  string         `firestore:"actorType"`
	Payload    map[string]any `firestore:"payload,omitempty"`
	OccurredAt time.Time      `firestore:"occurredAt"`
}

func (r *OrderEventRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(orderEventsCollection), nil
}

var _ repositories.OrderEventRepository = (*OrderEventRepository)(nil)
