package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agri-market/agri-market/internal/domain/order"
)

// OrderRepository implements order.Repository in process memory.
type OrderRepository struct {
	mu            sync.RWMutex
	items         map[uuid.UUID]order.Order
	byNegotiation map[uuid.UUID]uuid.UUID
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		items:         make(map[uuid.UUID]order.Order),
		byNegotiation: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.NegotiationID != nil {
		if _, exists := r.byNegotiation[*o.NegotiationID]; exists {
			return order.ErrNegotiationAlreadyUsed
		}
		r.byNegotiation[*o.NegotiationID] = o.OrderID
	}
	r.items[o.OrderID] = *o
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.items[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.NegotiationID != nil {
		delete(r.byNegotiation, *o.NegotiationID)
	}
	delete(r.items, orderID)
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.items[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*order.Order, 0)
	for _, o := range r.items {
		if o.BuyerID == buyerID {
			o := o
			out = append(out, &o)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*order.Order{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
