package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
)

// NegotiationRepository implements negotiation.Repository in process memory.
type NegotiationRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*negotiation.Negotiation
}

func NewNegotiationRepository() *NegotiationRepository {
	return &NegotiationRepository{items: make(map[uuid.UUID]*negotiation.Negotiation)}
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n.Version = 1
	r.items[n.NegotiationID] = n.Clone()
	return nil
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[negotiationID]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	return n.Clone(), nil
}

func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, appended []negotiation.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[n.NegotiationID]
	if !ok {
		return negotiation.ErrNotFound
	}
	if stored.Version != n.Version || len(stored.Messages)+len(appended) != len(n.Messages) {
		return negotiation.ErrStoreConflict
	}
	n.Version++
	r.items[n.NegotiationID] = n.Clone()
	return nil
}

func (r *NegotiationRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, func(n *negotiation.Negotiation) bool { return n.BuyerID == buyerID }, limit, offset)
}

func (r *NegotiationRepository) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, func(n *negotiation.Negotiation) bool { return n.FarmerID == farmerID }, limit, offset)
}

func (r *NegotiationRepository) list(ctx context.Context, match func(*negotiation.Negotiation) bool, limit, offset int) ([]*negotiation.Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]*negotiation.Negotiation, 0)
	for _, n := range r.items {
		if match(n) {
			out = append(out, n.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].NegotiationID.String() < out[j].NegotiationID.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset >= len(out) {
		return []*negotiation.Negotiation{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
