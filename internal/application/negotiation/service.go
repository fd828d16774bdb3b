package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/domain/product"
	"github.com/agri-market/agri-market/internal/metrics"
)

const (
	DefaultPageSize     = 10
	MaxPageSize         = 50
	DefaultStoreTimeout = 5 * time.Second
)

// FinalizeHook runs inside the negotiation's critical section after the
// negotiation has been validated for finalization and before it is
// persisted. A hook error aborts finalization. The returned undo, when not
// nil, is called if the finalized negotiation cannot be persisted.
type FinalizeHook func(ctx context.Context, n *negotiation.Negotiation) (undo func(ctx context.Context), err error)

// Service is the single entry point for reading and mutating negotiations.
// Mutations for one negotiation id are applied one at a time and their
// events are published in that same order.
type Service struct {
	repo         negotiation.Repository
	catalog      product.Catalog
	publisher    negotiation.Publisher
	gate         *keyedGate
	storeTimeout time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// NewService creates a negotiation service.
func NewService(
	repo negotiation.Repository,
	catalog product.Catalog,
	publisher negotiation.Publisher,
	m *metrics.Metrics,
	storeTimeout time.Duration,
	logger zerolog.Logger,
) *Service {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	if publisher == nil {
		publisher = discardPublisher{}
	}
	return &Service{
		repo:         repo,
		catalog:      catalog,
		publisher:    publisher,
		gate:         newKeyedGate(),
		storeTimeout: storeTimeout,
		metrics:      m,
		logger:       logger.With().Str("service", "negotiation").Logger(),
	}
}

// CreateInput opens a negotiation on a product.
type CreateInput struct {
	ProductID    uuid.UUID
	BuyerID      uuid.UUID
	Quantity     int
	OfferedPrice *decimal.Decimal
	Note         *string
}

// Create opens a negotiation for the buyer, taking the farmer, unit and
// list price from the product.
func (s *Service) Create(ctx context.Context, in CreateInput) (*negotiation.Negotiation, error) {
	opCtx, cancel := s.storeContext(ctx)
	defer cancel()

	p, err := s.catalog.GetProduct(opCtx, in.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, s.observe("create", fmt.Errorf("%w: product %s", negotiation.ErrNotFound, in.ProductID))
		}
		return nil, s.observe("create", storeError(err))
	}
	if !p.IsAvailable {
		return nil, s.observe("create", fmt.Errorf("%w: product %s is not available", negotiation.ErrValidation, in.ProductID))
	}

	n, err := negotiation.New(negotiation.Draft{
		ProductID:    p.ProductID,
		BuyerID:      in.BuyerID,
		FarmerID:     p.FarmerID,
		Quantity:     in.Quantity,
		Unit:         negotiation.Unit(p.Unit),
		ListPrice:    p.Price,
		OfferedPrice: in.OfferedPrice,
		Note:         in.Note,
	})
	if err != nil {
		return nil, s.observe("create", err)
	}
	if err := s.repo.Create(opCtx, n); err != nil {
		return nil, s.observe("create", storeError(err))
	}

	s.logger.Info().
		Str("negotiation_id", n.NegotiationID.String()).
		Str("product_id", n.ProductID.String()).
		Str("buyer_id", n.BuyerID.String()).
		Msg("negotiation opened")
	s.observe("create", nil)
	return n.Clone(), nil
}

// AddMessageInput appends an offer or note.
type AddMessageInput struct {
	NegotiationID uuid.UUID
	SenderID      uuid.UUID
	SenderRole    negotiation.Role
	OfferedPrice  *decimal.Decimal
	Note          *string
}

// AddMessage appends a message from one of the parties.
func (s *Service) AddMessage(ctx context.Context, in AddMessageInput) (*negotiation.Negotiation, error) {
	return s.mutate(ctx, in.NegotiationID, "add_message", func(_ context.Context, n *negotiation.Negotiation) (applied, error) {
		msg, err := n.AddMessage(in.SenderID, in.SenderRole, in.OfferedPrice, in.Note)
		return applied{event: negotiation.EventNewMessage, msg: msg}, err
	})
}

// Accept closes the negotiation at the resolved price.
func (s *Service) Accept(ctx context.Context, negotiationID, accepterID uuid.UUID, acceptedPrice *decimal.Decimal) (*negotiation.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "accept", func(_ context.Context, n *negotiation.Negotiation) (applied, error) {
		msg, err := n.Accept(accepterID, acceptedPrice)
		return applied{event: negotiation.EventAccepted, msg: msg}, err
	})
}

// Decline rejects the negotiation.
func (s *Service) Decline(ctx context.Context, negotiationID, declinerID uuid.UUID) (*negotiation.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "decline", func(_ context.Context, n *negotiation.Negotiation) (applied, error) {
		msg, err := n.Decline(declinerID)
		return applied{event: negotiation.EventDeclined, msg: msg}, err
	})
}

// Finalize marks an accepted negotiation finalized.
func (s *Service) Finalize(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	return s.FinalizeForOrder(ctx, negotiationID, nil)
}

// FinalizeForOrder finalizes the negotiation and runs hook inside the same
// critical section, so no other transition can interleave between the
// order being recorded and the negotiation being finalized.
func (s *Service) FinalizeForOrder(ctx context.Context, negotiationID uuid.UUID, hook FinalizeHook) (*negotiation.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "finalize", func(opCtx context.Context, n *negotiation.Negotiation) (applied, error) {
		if err := n.Finalize(); err != nil {
			return applied{}, err
		}
		out := applied{event: negotiation.EventFinalized}
		if hook != nil {
			undo, err := hook(opCtx, n.Clone())
			if err != nil {
				return applied{}, err
			}
			out.undo = undo
		}
		return out, nil
	})
}

// Get returns the negotiation with its full message log.
func (s *Service) Get(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	opCtx, cancel := s.storeContext(ctx)
	defer cancel()
	n, err := s.repo.GetByID(opCtx, negotiationID)
	if err != nil {
		return nil, storeError(err)
	}
	return n, nil
}

// GetFinalPrice returns the agreed price of an accepted negotiation.
func (s *Service) GetFinalPrice(ctx context.Context, negotiationID uuid.UUID) (decimal.Decimal, error) {
	n, err := s.Get(ctx, negotiationID)
	if err != nil {
		return decimal.Zero, err
	}
	if n.Status != negotiation.StatusAccepted || n.FinalPrice == nil {
		return decimal.Zero, fmt.Errorf("%w: status is %s", negotiation.ErrNotAccepted, n.Status)
	}
	return *n.FinalPrice, nil
}

// ListForBuyer returns the buyer's negotiations, most recently updated first.
func (s *Service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	limit, offset = clampPage(limit, offset)
	opCtx, cancel := s.storeContext(ctx)
	defer cancel()
	out, err := s.repo.ListByBuyer(opCtx, buyerID, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// ListForFarmer returns the farmer's negotiations, most recently updated first.
func (s *Service) ListForFarmer(ctx context.Context, farmerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	limit, offset = clampPage(limit, offset)
	opCtx, cancel := s.storeContext(ctx)
	defer cancel()
	out, err := s.repo.ListByFarmer(opCtx, farmerID, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// applied is the outcome of a transition. undo reverses side effects the
// transition made outside the negotiation store.
type applied struct {
	event negotiation.EventType
	msg   *negotiation.Message
	undo  func(ctx context.Context)
}

type transition func(ctx context.Context, n *negotiation.Negotiation) (applied, error)

// mutate runs fn against a fresh copy of the negotiation while holding the
// negotiation's gate, persists the result and publishes one event before
// releasing the gate. Once admitted, the work is detached from ctx
// cancellation and bounded only by the store timeout.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, op string, fn transition) (*negotiation.Negotiation, error) {
	waitStart := time.Now()
	release, err := s.gate.acquire(ctx, id)
	s.metrics.ObserveGateWait(time.Since(waitStart))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: waiting for negotiation %s", negotiation.ErrStoreTimeout, id)
		}
		return nil, s.observe(op, err)
	}
	defer release()

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	current, err := s.repo.GetByID(opCtx, id)
	if err != nil {
		return nil, s.observe(op, storeError(err))
	}

	next := current.Clone()
	before := len(next.Messages)
	out, err := fn(opCtx, next)
	if err != nil {
		s.logger.Debug().Err(err).Str("negotiation_id", id.String()).Str("operation", op).Msg("transition rejected")
		return nil, s.observe(op, err)
	}

	if err := s.repo.Update(opCtx, next, next.Messages[before:]); err != nil {
		s.logger.Error().Err(err).Str("negotiation_id", id.String()).Str("operation", op).Msg("failed to persist transition")
		if out.undo != nil {
			undoCtx, undoCancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
			out.undo(undoCtx)
			undoCancel()
		}
		return nil, s.observe(op, storeError(err))
	}

	s.publisher.Publish(negotiation.NewEvent(out.event, next, out.msg))
	s.logger.Info().
		Str("negotiation_id", id.String()).
		Str("operation", op).
		Str("status", string(next.Status)).
		Int64("version", next.Version).
		Msg("negotiation updated")
	s.observe(op, nil)
	return next.Clone(), nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) observe(op string, err error) error {
	result := "ok"
	if err != nil {
		result = string(negotiation.KindOf(err))
	}
	s.metrics.ObserveOperation(op, result)
	return err
}

// storeError maps deadline failures onto the retryable timeout kind and
// leaves domain errors untouched.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, negotiation.ErrStoreTimeout) {
		return fmt.Errorf("%w: %v", negotiation.ErrStoreTimeout, err)
	}
	return err
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type discardPublisher struct{}

func (discardPublisher) Publish(negotiation.Event) {}
