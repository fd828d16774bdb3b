package product

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Catalog,Repository

import (
	"context"

	"github.com/google/uuid"
)

// Catalog is the read boundary to the product catalog.
type Catalog interface {
	// GetProduct returns ErrNotFound for an unknown id.
	GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error)
}

// Repository extends Catalog with the writes the order flow needs.
type Repository interface {
	Catalog
	Create(ctx context.Context, p *Product) error
	// Reserve decrements stock and marks the product unavailable once it
	// reaches zero. Returns ErrInsufficientStock or ErrUnavailable.
	Reserve(ctx context.Context, productID uuid.UUID, quantity int) error
	// Release returns previously reserved stock.
	Release(ctx context.Context, productID uuid.UUID, quantity int) error
}
