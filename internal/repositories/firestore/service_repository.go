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

const servicesCollection = "services"

// ServiceRepository reads mitra service definitions including pricing configs.
type ServiceRepository struct {
	base *pfirestore.BaseRepository[serviceDocument]
}

// NewServiceRepository constructs a Firestore-backed service repository.
func NewServiceRepository(provider *pfirestore.Provider) (*ServiceRepository, error) {
	if provider == nil {
		return nil, errors.New("service repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[serviceDocument](provider, servicesCollection, nil, nil)
	return &ServiceRepository{base: base}, nil
}

// FindByID fetches a single service definition.
func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	if r == nil || r.base == nil {
		return domain.Service{}, errors.New("service repository not initialised")
	}
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return domain.Service{}, errors.New("service repository: service id is required")
	}
	doc, err := r.base.Get(ctx, serviceID)
	if err != nil {
		return domain.Service{}, err
	}

	createdAt := doc.Data.CreatedAt
	if createdAt.IsZero() {
		createdAt = doc.CreateTime
	}
	updatedAt := doc.Data.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = doc.UpdateTime
	}

	return domain.Service{
		ID:        serviceID,
		MitraID:   doc.Data.MitraID,
		Name:      doc.Data.Name,
		IsActive:  doc.Data.IsActive,
		Pricing:   decodePricingSnapshot(doc.Data.Pricing),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

type serviceDocument struct {
	MitraID   string                  `firestore:"mitraId"`
	Name      string                  `firestore:"name"`
	IsActive  bool                    `firestore:"isActive"`
	Pricing   pricingSnapshotDocument `firestore:"pricing"`
	CreatedAt time.Time               `firestore:"createdAt"`
	UpdatedAt time.Time               `firestore:"updatedAt"`
}

var _ repositories.ServiceRepository = (*ServiceRepository)(nil)
