package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/mitrakirim/api/internal/domain"
	pfirestore "github.com/mitrakirim/api/internal/platform/firestore"
	"github.com/mitrakirim/api/internal/repositories"
)

const driversCollection = "drivers"

// DriverRepository reads driver records for assignment validation.
type DriverRepository struct {
	base *pfirestore.BaseRepository[driverDocument]
}

// NewDriverRepository constructs a Firestore-backed driver repository.
func NewDriverRepository(provider *pfirestore.Provider) (*DriverRepository, error) {
	if provider == nil {
		return nil, errors.New("driver repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[driverDocument](provider, driversCollection, nil, nil)
	return &DriverRepository{base: base}, nil
}

// FindByID fetches a single driver record.
func (r *DriverRepository) FindByID(ctx context.Context, driverID string) (domain.Driver, error) {
	if r == nil || r.base == nil {
		return domain.Driver{}, errors.New("driver repository not initialised")
	}
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return domain.Driver{}, errors.New("driver repository: driver id is required")
	}
	doc, err := r.base.Get(ctx, driverID)
	if err != nil {
		return domain.Driver{}, err
	}

	createdAt := doc.Data.CreatedAt
	if createdAt.IsZero() {
		createdAt = doc.CreateTime
	}
	updatedAt := doc.Data.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = doc.UpdateTime
	}

	return domain.Driver{
		ID:        driverID,
		MitraID:   doc.Data.MitraID,
		Name:      doc.Data.Name,
		WaNumber:  doc.Data.WaNumber,
		IsActive:  doc.Data.IsActive,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

type driverDocument struct {
	MitraID   string    `firestore:"mitraId"`
	Name      string    `firestore:"name"`
	WaNumber  string    `firestore:"waNumber"`
	IsActive  bool      `firestore:"isActive"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

var _ repositories.DriverRepository = (*DriverRepository)(nil)
