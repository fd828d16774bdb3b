package negotiation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository,Publisher

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for negotiation persistence
type Repository interface {
	Create(ctx context.Context, n *Negotiation) error
	// GetByID returns ErrNotFound for an unknown id.
	GetByID(ctx context.Context, negotiationID uuid.UUID) (*Negotiation, error)
	// Update persists status, final price and appended messages. n.Version
	// must equal the stored version; on success the stored version is
	// n.Version+1 and n.Version is updated to match.
	Update(ctx context.Context, n *Negotiation, appended []Message) error
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*Negotiation, error)
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit, offset int) ([]*Negotiation, error)
}
