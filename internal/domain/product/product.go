package product

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrUnavailable       = errors.New("product is not available")
	ErrInsufficientStock = errors.New("insufficient product quantity")
)

// Product is the part of a catalog listing the marketplace core reads.
type Product struct {
	ProductID   uuid.UUID       `json:"productId"`
	FarmerID    uuid.UUID       `json:"farmerId"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit"`
	Quantity    int             `json:"quantity"`
	IsAvailable bool            `json:"isAvailable"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CanSupply reports whether quantity units can be ordered right now.
func (p *Product) CanSupply(quantity int) error {
	if !p.IsAvailable {
		return ErrUnavailable
	}
	if p.Quantity < quantity {
		return ErrInsufficientStock
	}
	return nil
}
