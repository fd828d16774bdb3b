package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agri-market/agri-market/internal/domain/product"
)

// ProductRepository implements product.Repository in process memory.
type ProductRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]product.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{items: make(map[uuid.UUID]product.Product)}
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ProductID == uuid.Nil {
		p.ProductID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ProductID] = *p
	return nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID uuid.UUID) (*product.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[productID]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *ProductRepository) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[productID]
	if !ok {
		return product.ErrNotFound
	}
	if err := p.CanSupply(quantity); err != nil {
		return err
	}
	p.Quantity -= quantity
	if p.Quantity == 0 {
		p.IsAvailable = false
	}
	p.UpdatedAt = time.Now().UTC()
	r.items[productID] = p
	return nil
}

func (r *ProductRepository) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[productID]
	if !ok {
		return product.ErrNotFound
	}
	p.Quantity += quantity
	p.IsAvailable = p.Quantity > 0
	p.UpdatedAt = time.Now().UTC()
	r.items[productID] = p
	return nil
}
