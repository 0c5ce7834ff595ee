package repositories

import (
	"context"
	"time"

	domain "github.com/mitrakirim/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderEvents() OrderEventRepository
	Services() ServiceRepository
	Drivers() DriverRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates. Update enforces optimistic
// concurrency: the stored version must equal the order's version minus one or
// the call fails with a conflict RepositoryError.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderEventRepository stores the append-only history beneath an order document.
type OrderEventRepository interface {
	Append(ctx context.Context, event domain.OrderEvent) error
	List(ctx context.Context, orderID string, order domain.SortOrder) ([]domain.OrderEvent, error)
}

// ServiceRepository reads mitra service definitions including pricing configs.
type ServiceRepository interface {
	FindByID(ctx context.Context, serviceID string) (domain.Service, error)
}

// DriverRepository reads driver records for assignment validation.
type DriverRepository interface {
	FindByID(ctx context.Context, driverID string) (domain.Driver, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings per actor scope.
type OrderListFilter struct {
	OrdererIdentifier string
	MitraID           string
	DriverID          string
	Status            []domain.OrderStatus
	DateRange         domain.RangeQuery[time.Time]
	Pagination        domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
