package order

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the fulfillment status of an order
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusInTransit Status = "in-transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// PaymentMethod is how the buyer intends to pay
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash-on-delivery"
	PaymentOnline         PaymentMethod = "online-payment"
	PaymentBankTransfer   PaymentMethod = "bank-transfer"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentOnline, PaymentBankTransfer:
		return true
	}
	return false
}

var (
	ErrNotFound               = errors.New("order not found")
	ErrNegotiationAlreadyUsed = errors.New("an order already exists for this negotiation")
)

// Order is a purchase placed by a buyer, optionally at a negotiated price.
type Order struct {
	OrderID       uuid.UUID       `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	BuyerID       uuid.UUID       `json:"buyerId"`
	FarmerID      uuid.UUID       `json:"farmerId"`
	ProductID     uuid.UUID       `json:"productId"`
	NegotiationID *uuid.UUID      `json:"negotiationId,omitempty"`
	Quantity      int             `json:"quantity"`
	Unit          string          `json:"unit"`
	PricePerUnit  decimal.Decimal `json:"pricePerUnit"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Status        Status          `json:"status"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Notes         *string         `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// NewOrder creates a pending order and computes its total.
func NewOrder(buyerID, farmerID, productID uuid.UUID, quantity int, unit string, pricePerUnit decimal.Decimal, method PaymentMethod) *Order {
	now := time.Now().UTC()
	if method == "" {
		method = PaymentCashOnDelivery
	}
	return &Order{
		OrderID:       uuid.New(),
		OrderNumber:   orderNumber(now),
		BuyerID:       buyerID,
		FarmerID:      farmerID,
		ProductID:     productID,
		Quantity:      quantity,
		Unit:          unit,
		PricePerUnit:  pricePerUnit,
		TotalAmount:   pricePerUnit.Mul(decimal.NewFromInt(int64(quantity))),
		Status:        StatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
	}
}

func orderNumber(t time.Time) string {
	return fmt.Sprintf("AC%s%03d", t.Format("20060102"), rand.IntN(1000))
}
