package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/mitrakirim/api/internal/platform/firestore"
	"github.com/mitrakirim/api/internal/repositories"
)

// Registry bundles the Firestore-backed repository set behind one constructor.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	events   *OrderEventRepository
	services *ServiceRepository
	drivers  *DriverRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// NewRegistry constructs all Firestore repositories sharing a single provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	events, err := NewOrderEventRepository(provider)
	if err != nil {
		return nil, err
	}
	services, err := NewServiceRepository(provider)
	if err != nil {
		return nil, err
	}
	drivers, err := NewDriverRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		events:   events,
		services: services,
		drivers:  drivers,
		counters: counters,
		health:   health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// OrderEvents returns the order event repository.
func (r *Registry) OrderEvents() repositories.OrderEventRepository { return r.events }

// Services returns the service repository.
func (r *Registry) Services() repositories.ServiceRepository { return r.services }

// Drivers returns the driver repository.
func (r *Registry) Drivers() repositories.DriverRepository { return r.drivers }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a single Firestore transaction. The transaction is
// carried on the context handed to fn, so every repository call made within fn
// reads and writes through it and the whole group commits or aborts as one.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTx(txCtx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
