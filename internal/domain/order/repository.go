package order

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for order persistence
type Repository interface {
	// Create returns ErrNegotiationAlreadyUsed when another order already
	// references o.NegotiationID.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	// Delete removes an order that was never confirmed to the buyer.
	Delete(ctx context.Context, orderID uuid.UUID) error
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*Order, error)
}
