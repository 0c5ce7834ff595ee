package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mitrakirim/api/internal/domain"
	pfirestore "github.com/mitrakirim/api/internal/platform/firestore"
	"github.com/mitrakirim/api/internal/platform/pagination"
	"github.com/mitrakirim/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates with optimistic concurrency control.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Create(docRef, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state. The write only succeeds when the
// stored version equals order.Version-1, so concurrent writers lose with a
// conflict instead of silently clobbering each other.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if order.Version < 1 {
		return errors.New("order repository: version must be positive")
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", r.updateInTx(ctx, tx, order))
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return r.updateInTx(ctx, tx, order)
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// updateInTx re-reads the stored version inside the transaction before writing,
// so a concurrent writer that committed first turns this write into a conflict.
func (r *OrderRepository) updateInTx(ctx context.Context, tx *firestore.Transaction, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	snapshot, err := tx.Get(ref)
	if err != nil {
		return err
	}
	var stored orderDocument
	if err := snapshot.DataTo(&stored); err != nil {
		return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
	}
	if stored.Version != order.Version-1 {
		return status.Errorf(codes.FailedPrecondition,
			"order %s version %d does not match expected %d", orderID, stored.Version, order.Version-1)
	}
	return tx.Set(ref, encodeOrderDocument(order))
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, st := range filter.Status {
		if trimmed := strings.TrimSpace(string(st)); trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if orderer := strings.TrimSpace(filter.OrdererIdentifier); orderer != "" {
			q = q.Where("ordererIdentifier", "==", orderer)
		}
		if mitraID := strings.TrimSpace(filter.MitraID); mitraID != "" {
			q = q.Where("mitraId", "==", mitraID)
		}
		if driverID := strings.TrimSpace(filter.DriverID); driverID != "" {
			q = q.Where("driverId", "==", driverID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber       string                  `firestore:"orderNumber"`
	ServiceID         string                  `firestore:"serviceId"`
	MitraID           string                  `firestore:"mitraId"`
	DriverID          *string                 `firestore:"driverId,omitempty"`
	OrdererIdentifier string                  `firestore:"ordererIdentifier"`
	ReceiverWaNumber  *string                 `firestore:"receiverWaNumber,omitempty"`
	Status            string                  `firestore:"status"`
	Details           orderDetailsDocument    `firestore:"details"`
	EstimatedCost     costBreakdownDocument   `firestore:"estimatedCost"`
	FinalCost         *costBreakdownDocument  `firestore:"finalCost,omitempty"`
	TalanganAmount    int64                   `firestore:"talanganAmount"`
	IsBarangPenting   bool                    `firestore:"isBarangPenting"`
	PricingSnapshot   pricingSnapshotDocument `firestore:"pricingSnapshot"`
	Version           int64                   `firestore:"version"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
	DeliveredAt       *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time              `firestore:"cancelledAt,omitempty"`
	FailedAt          *time.Time              `firestore:"failedAt,omitempty"`
	RefundedAt        *time.Time              `firestore:"refundedAt,omitempty"`
}

type orderDetailsDocument struct {
	PickupAddress  string   `firestore:"pickupAddress"`
	PickupZone     string   `firestore:"pickupZone,omitempty"`
	DropoffAddress string   `firestore:"dropoffAddress"`
	DropoffZone    string   `firestore:"dropoffZone,omitempty"`
	CargoTypeID    string   `firestore:"cargoTypeId,omitempty"`
	FacilityIDs    []string `firestore:"facilityIds,omitempty"`
	DistanceKm     float64  `firestore:"distanceKm"`
	Notes          string   `firestore:"notes,omitempty"`
}

type costBreakdownDocument struct {
	AdminFee           int64                   `firestore:"adminFee"`
	DistanceFee        int64                   `firestore:"distanceFee"`
	CargoSurcharges    []surchargeLineDocument `firestore:"cargoSurcharges,omitempty"`
	FacilitySurcharges []surchargeLineDocument `firestore:"facilitySurcharges,omitempty"`
	Total              int64                   `firestore:"total"`
}

type surchargeLineDocument struct {
	ID    string `firestore:"id"`
	Label string `firestore:"label"`
	Price int64  `firestore:"price"`
}

type pricingSnapshotDocument struct {
	DistanceMode       string                  `firestore:"distanceMode"`
	PerKmRate          int64                   `firestore:"perKmRate,omitempty"`
	ZoneMatrix         map[string]int64        `firestore:"zoneMatrix,omitempty"`
	CargoSurcharges    []surchargeLineDocument `firestore:"cargoSurcharges,omitempty"`
	FacilitySurcharges []surchargeLineDocument `firestore:"facilitySurcharges,omitempty"`
	AdminFee           int64                   `firestore:"adminFee"`
	TalanganCeiling    int64                   `firestore:"talanganCeiling"`
	RequiresProofPhoto bool                    `firestore:"requiresProofPhoto"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	return orderDocument{
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		ServiceID:         strings.TrimSpace(order.ServiceID),
		MitraID:           strings.TrimSpace(order.MitraID),
		DriverID:          cloneStringPointer(order.DriverID),
		OrdererIdentifier: strings.TrimSpace(order.OrdererIdentifier),
		ReceiverWaNumber:  cloneStringPointer(order.ReceiverWaNumber),
		Status:            string(order.Status),
		Details:           encodeOrderDetails(order.Details),
		EstimatedCost:     encodeCostBreakdown(order.EstimatedCost),
		FinalCost:         encodeOptionalCostBreakdown(order.FinalCost),
		TalanganAmount:    order.TalanganAmount,
		IsBarangPenting:   order.IsBarangPenting,
		PricingSnapshot:   encodePricingSnapshot(order.PricingSnapshot),
		Version:           order.Version,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		DeliveredAt:       normalizeTimePointer(order.DeliveredAt),
		CancelledAt:       normalizeTimePointer(order.CancelledAt),
		FailedAt:          normalizeTimePointer(order.FailedAt),
		RefundedAt:        normalizeTimePointer(order.RefundedAt),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createTime, updateTime time.Time) domain.Order {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = createTime
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = updateTime
	}
	return domain.Order{
		ID:                id,
		OrderNumber:       doc.OrderNumber,
		ServiceID:         doc.ServiceID,
		MitraID:           doc.MitraID,
		DriverID:          cloneStringPointer(doc.DriverID),
		OrdererIdentifier: doc.OrdererIdentifier,
		ReceiverWaNumber:  cloneStringPointer(doc.ReceiverWaNumber),
		Status:            domain.OrderStatus(doc.Status),
		Details:           decodeOrderDetails(doc.Details),
		EstimatedCost:     decodeCostBreakdown(doc.EstimatedCost),
		FinalCost:         decodeOptionalCostBreakdown(doc.FinalCost),
		TalanganAmount:    doc.TalanganAmount,
		IsBarangPenting:   doc.IsBarangPenting,
		PricingSnapshot:   decodePricingSnapshot(doc.PricingSnapshot),
		Version:           doc.Version,
		CreatedAt:         createdAt.UTC(),
		UpdatedAt:         updatedAt.UTC(),
		DeliveredAt:       normalizeTimePointer(doc.DeliveredAt),
		CancelledAt:       normalizeTimePointer(doc.CancelledAt),
		FailedAt:          normalizeTimePointer(doc.FailedAt),
		RefundedAt:        normalizeTimePointer(doc.RefundedAt),
	}
}

func encodeOrderDetails(details domain.OrderDetails) orderDetailsDocument {
	return orderDetailsDocument{
		PickupAddress:  strings.TrimSpace(details.PickupAddress),
		PickupZone:     strings.TrimSpace(details.PickupZone),
		DropoffAddress: strings.TrimSpace(details.DropoffAddress),
		DropoffZone:    strings.TrimSpace(details.DropoffZone),
		CargoTypeID:    strings.TrimSpace(details.CargoTypeID),
		FacilityIDs:    cloneStrings(details.FacilityIDs),
		DistanceKm:     details.DistanceKm,
		Notes:          strings.TrimSpace(details.Notes),
	}
}

func decodeOrderDetails(doc orderDetailsDocument) domain.OrderDetails {
	return domain.OrderDetails{
		PickupAddress:  doc.PickupAddress,
		PickupZone:     doc.PickupZone,
		DropoffAddress: doc.DropoffAddress,
		DropoffZone:    doc.DropoffZone,
		CargoTypeID:    doc.CargoTypeID,
		FacilityIDs:    cloneStrings(doc.FacilityIDs),
		DistanceKm:     doc.DistanceKm,
		Notes:          doc.Notes,
	}
}

func encodeCostBreakdown(cost domain.CostBreakdown) costBreakdownDocument {
	return costBreakdownDocument{
		AdminFee:           cost.AdminFee,
		DistanceFee:        cost.DistanceFee,
		CargoSurcharges:    encodeSurchargeLines(cost.CargoSurcharges),
		FacilitySurcharges: encodeSurchargeLines(cost.FacilitySurcharges),
		Total:              cost.Total,
	}
}

func decodeCostBreakdown(doc costBreakdownDocument) domain.CostBreakdown {
	return domain.CostBreakdown{
		AdminFee:           doc.AdminFee,
		DistanceFee:        doc.DistanceFee,
		CargoSurcharges:    decodeSurchargeLines(doc.CargoSurcharges),
		FacilitySurcharges: decodeSurchargeLines(doc.FacilitySurcharges),
		Total:              doc.Total,
	}
}

func encodeOptionalCostBreakdown(cost *domain.CostBreakdown) *costBreakdownDocument {
	if cost == nil {
		return nil
	}
	encoded := encodeCostBreakdown(*cost)
	return &encoded
}

func decodeOptionalCostBreakdown(doc *costBreakdownDocument) *domain.CostBreakdown {
	if doc == nil {
		return nil
	}
	decoded := decodeCostBreakdown(*doc)
	return &decoded
}

func encodeSurchargeLines(lines []domain.SurchargeLine) []surchargeLineDocument {
	if len(lines) == 0 {
		return nil
	}
	out := make([]surchargeLineDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, surchargeLineDocument{
			ID:    strings.TrimSpace(line.ID),
			Label: strings.TrimSpace(line.Label),
			Price: line.Price,
		})
	}
	return out
}

func decodeSurchargeLines(docs []surchargeLineDocument) []domain.SurchargeLine {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.SurchargeLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.SurchargeLine{ID: doc.ID, Label: doc.Label, Price: doc.Price})
	}
	return out
}

func encodePricingSnapshot(snapshot domain.ServicePricingConfig) pricingSnapshotDocument {
	return pricingSnapshotDocument{
		DistanceMode:       string(snapshot.DistanceMode),
		PerKmRate:          snapshot.PerKmRate,
		ZoneMatrix:         cloneInt64Map(snapshot.ZoneMatrix),
		CargoSurcharges:    encodeSurcharges(snapshot.CargoSurcharges),
		FacilitySurcharges: encodeSurcharges(snapshot.FacilitySurcharges),
		AdminFee:           snapshot.AdminFee,
		TalanganCeiling:    snapshot.TalanganCeiling,
		RequiresProofPhoto: snapshot.RequiresProofPhoto,
	}
}

func decodePricingSnapshot(doc pricingSnapshotDocument) domain.ServicePricingConfig {
	return domain.ServicePricingConfig{
		DistanceMode:       domain.DistanceMode(doc.DistanceMode),
		PerKmRate:          doc.PerKmRate,
		ZoneMatrix:         cloneInt64Map(doc.ZoneMatrix),
		CargoSurcharges:    decodeSurcharges(doc.CargoSurcharges),
		FacilitySurcharges: decodeSurcharges(doc.FacilitySurcharges),
		AdminFee:           doc.AdminFee,
		TalanganCeiling:    doc.TalanganCeiling,
		RequiresProofPhoto: doc.RequiresProofPhoto,
	}
}

func encodeSurcharges(surcharges []domain.Surcharge) []surchargeLineDocument {
	if len(surcharges) == 0 {
		return nil
	}
	out := make([]surchargeLineDocument, 0, len(surcharges))
	for _, s := range surcharges {
		out = append(out, surchargeLineDocument{
			ID:    strings.TrimSpace(s.ID),
			Label: strings.TrimSpace(s.Label),
			Price: s.Price,
		})
	}
	return out
}

func decodeSurcharges(docs []surchargeLineDocument) []domain.Surcharge {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.Surcharge, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Surcharge{ID: doc.ID, Label: doc.Label, Price: doc.Price})
	}
	return out
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	docID, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor values", pagination.ErrInvalidPageToken)
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return ts, docID, nil
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	cloned := strings.TrimSpace(*value)
	return &cloned
}

func cloneInt64Map(values map[string]int64) map[string]int64 {
	if len(values) == 0 {
		return nil
	}
	cloned := make(map[string]int64, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
