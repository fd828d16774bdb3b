package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/domain/order"
	"github.com/agri-market/agri-market/internal/domain/product"
)

const maxNotesLength = 1000

// Service places orders, finalizing the backing negotiation when an order
// is placed at a negotiated price.
type Service struct {
	repo         order.Repository
	products     product.Repository
	negotiations *appNegotiation.Service
	storeTimeout time.Duration
	logger       zerolog.Logger
}

// NewService creates an order service.
func NewService(
	repo order.Repository,
	products product.Repository,
	negotiations *appNegotiation.Service,
	storeTimeout time.Duration,
	logger zerolog.Logger,
) *Service {
	if storeTimeout <= 0 {
		storeTimeout = appNegotiation.DefaultStoreTimeout
	}
	return &Service{
		repo:         repo,
		products:     products,
		negotiations: negotiations,
		storeTimeout: storeTimeout,
		logger:       logger.With().Str("service", "order").Logger(),
	}
}

// PlaceOrderInput describes a purchase. NegotiationID is optional; when set
// the order is priced at the negotiation's final price.
type PlaceOrderInput struct {
	BuyerID       uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	NegotiationID *uuid.UUID
	PaymentMethod order.PaymentMethod
	Notes         *string
}

// PlaceOrder reserves stock and records an order. With a negotiation the
// order is recorded and the negotiation finalized as one step.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*order.Order, error) {
	if in.BuyerID == uuid.Nil || in.ProductID == uuid.Nil {
		return nil, fmt.Errorf("%w: buyer and product ids are required", negotiation.ErrValidation)
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", negotiation.ErrValidation)
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", negotiation.ErrValidation, in.PaymentMethod)
	}
	notes, err := normalizeNotes(in.Notes)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	p, err := s.products.GetProduct(opCtx, in.ProductID)
	if err != nil {
		return nil, productError(err)
	}
	if err := p.CanSupply(in.Quantity); err != nil {
		return nil, productError(err)
	}

	if in.NegotiationID == nil {
		o := order.NewOrder(in.BuyerID, p.FarmerID, p.ProductID, in.Quantity, p.Unit, p.Price, in.PaymentMethod)
		o.Notes = notes
		if err := s.record(opCtx, o); err != nil {
			return nil, err
		}
		return o, nil
	}

	var placed *order.Order
	_, err = s.negotiations.FinalizeForOrder(ctx, *in.NegotiationID, func(hookCtx context.Context, n *negotiation.Negotiation) (func(context.Context), error) {
		if n.BuyerID != in.BuyerID {
			return nil, fmt.Errorf("%w: order buyer is not the negotiation buyer", negotiation.ErrNotAuthorized)
		}
		if n.ProductID != p.ProductID {
			return nil, fmt.Errorf("%w: negotiation is for a different product", negotiation.ErrValidation)
		}
		o := order.NewOrder(in.BuyerID, p.FarmerID, p.ProductID, in.Quantity, p.Unit, finalPrice(n), in.PaymentMethod)
		o.NegotiationID = &n.NegotiationID
		o.Notes = notes
		if err := s.record(hookCtx, o); err != nil {
			return nil, err
		}
		placed = o
		return func(undoCtx context.Context) { s.revoke(undoCtx, o) }, nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	o, err := s.repo.GetByID(opCtx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", negotiation.ErrNotFound, orderID)
		}
		return nil, storeError(err)
	}
	return o, nil
}

// ListForBuyer returns the buyer's orders, newest first.
func (s *Service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = appNegotiation.DefaultPageSize
	}
	if limit > appNegotiation.MaxPageSize {
		limit = appNegotiation.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	out, err := s.repo.ListByBuyer(opCtx, buyerID, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// record reserves stock and then stores the order, giving the stock back
// when the order cannot be stored.
func (s *Service) record(ctx context.Context, o *order.Order) error {
	if err := negotiation.CheckPrice("order total", o.TotalAmount); err != nil {
		return err
	}
	if err := s.products.Reserve(ctx, o.ProductID, o.Quantity); err != nil {
		return productError(err)
	}
	if err := s.repo.Create(ctx, o); err != nil {
		if relErr := s.products.Release(ctx, o.ProductID, o.Quantity); relErr != nil {
			s.logger.Error().Err(relErr).Str("product_id", o.ProductID.String()).Int("quantity", o.Quantity).Msg("failed to release reserved stock")
		}
		if errors.Is(err, order.ErrNegotiationAlreadyUsed) {
			return fmt.Errorf("%w: %v", negotiation.ErrNotAccepted, err)
		}
		return storeError(err)
	}
	s.logger.Info().
		Str("order_id", o.OrderID.String()).
		Str("order_number", o.OrderNumber).
		Str("product_id", o.ProductID.String()).
		Str("total", o.TotalAmount.String()).
		Msg("order placed")
	return nil
}

// revoke deletes an order whose negotiation could not be finalized and
// returns its stock.
func (s *Service) revoke(ctx context.Context, o *order.Order) {
	logger := s.logger.With().Str("order_id", o.OrderID.String()).Str("product_id", o.ProductID.String()).Logger()
	if err := s.repo.Delete(ctx, o.OrderID); err != nil {
		logger.Error().Err(err).Msg("failed to delete order after finalize failure")
	}
	if err := s.products.Release(ctx, o.ProductID, o.Quantity); err != nil {
		logger.Error().Err(err).Int("quantity", o.Quantity).Msg("failed to release reserved stock")
		return
	}
	logger.Warn().Msg("order revoked, negotiation was not finalized")
}

func finalPrice(n *negotiation.Negotiation) decimal.Decimal {
	if n.FinalPrice != nil {
		return *n.FinalPrice
	}
	return n.InitialPrice
}

func productError(err error) error {
	switch {
	case errors.Is(err, product.ErrNotFound):
		return fmt.Errorf("%w: %v", negotiation.ErrNotFound, err)
	case errors.Is(err, product.ErrUnavailable), errors.Is(err, product.ErrInsufficientStock):
		return fmt.Errorf("%w: %v", negotiation.ErrValidation, err)
	}
	return storeError(err)
}

func storeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, negotiation.ErrStoreTimeout) {
		return fmt.Errorf("%w: %v", negotiation.ErrStoreTimeout, err)
	}
	return err
}

func normalizeNotes(notes *string) (*string, error) {
	if notes == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil, nil
	}
	if len([]rune(trimmed)) > maxNotesLength {
		return nil, fmt.Errorf("%w: notes exceed %d characters", negotiation.ErrValidation, maxNotesLength)
	}
	return &trimmed, nil
}
