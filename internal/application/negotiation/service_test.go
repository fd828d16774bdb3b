package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
	negotiationMocks "github.com/agri-market/agri-market/internal/domain/negotiation/mocks"
	"github.com/agri-market/agri-market/internal/domain/product"
	productMocks "github.com/agri-market/agri-market/internal/domain/product/mocks"
	"github.com/agri-market/agri-market/internal/infrastructure/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []negotiation.Event
}

func (p *recordingPublisher) Publish(ev negotiation.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) snapshot() []negotiation.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]negotiation.Event, len(p.events))
	copy(out, p.events)
	return out
}

type fixture struct {
	svc      *Service
	repo     *memory.NegotiationRepository
	products *memory.ProductRepository
	pub      *recordingPublisher
	product  *product.Product
	buyer    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewNegotiationRepository()
	products := memory.NewProductRepository()
	pub := &recordingPublisher{}
	p := &product.Product{
		FarmerID:    uuid.New(),
		Name:        "Alphonso mango",
		Category:    "fruits",
		Price:       decimal.NewFromInt(120),
		Unit:        "dozen",
		Quantity:    50,
		IsAvailable: true,
	}
	require.NoError(t, products.Create(context.Background(), p))
	return &fixture{
		svc:      NewService(repo, products, pub, nil, time.Second, zerolog.Nop()),
		repo:     repo,
		products: products,
		pub:      pub,
		product:  p,
		buyer:    uuid.New(),
	}
}

func (f *fixture) open(t *testing.T, price string) *negotiation.Negotiation {
	t.Helper()
	in := CreateInput{ProductID: f.product.ProductID, BuyerID: f.buyer, Quantity: 2}
	if price != "" {
		d := decimal.RequireFromString(price)
		in.OfferedPrice = &d
	}
	n, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return n
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestService_Create(t *testing.T) {
	t.Run("copies farmer and unit from product", func(t *testing.T) {
		f := newFixture(t)
		n := f.open(t, "")

		assert.Equal(t, f.product.FarmerID, n.FarmerID)
		assert.Equal(t, negotiation.UnitDozen, n.Unit)
		assert.True(t, n.InitialPrice.Equal(decimal.NewFromInt(120)))
		assert.Equal(t, int64(1), n.Version)
		assert.Empty(t, f.pub.snapshot())
	})

	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(context.Background(), CreateInput{ProductID: uuid.New(), BuyerID: f.buyer, Quantity: 1})
		assert.ErrorIs(t, err, negotiation.ErrNotFound)
	})

	t.Run("unavailable product", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := negotiationMocks.NewMockRepository(ctrl)
		catalog := productMocks.NewMockCatalog(ctrl)
		svc := NewService(repo, catalog, nil, nil, time.Second, zerolog.Nop())

		productID := uuid.New()
		catalog.EXPECT().
			GetProduct(gomock.Any(), productID).
			Return(&product.Product{ProductID: productID, FarmerID: uuid.New(), Price: decimal.NewFromInt(5), Unit: "kg"}, nil)

		_, err := svc.Create(context.Background(), CreateInput{ProductID: productID, BuyerID: uuid.New(), Quantity: 1})
		assert.ErrorIs(t, err, negotiation.ErrValidation)
	})

	t.Run("persists through repository", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := negotiationMocks.NewMockRepository(ctrl)
		catalog := productMocks.NewMockCatalog(ctrl)
		svc := NewService(repo, catalog, nil, nil, time.Second, zerolog.Nop())

		p := &product.Product{ProductID: uuid.New(), FarmerID: uuid.New(), Price: decimal.NewFromInt(30), Unit: "kg", IsAvailable: true}
		buyer := uuid.New()
		catalog.EXPECT().GetProduct(gomock.Any(), p.ProductID).Return(p, nil)
		repo.EXPECT().
			Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, n *negotiation.Negotiation) error {
				assert.Equal(t, buyer, n.BuyerID)
				assert.Equal(t, p.FarmerID, n.FarmerID)
				require.Len(t, n.Messages, 1)
				assert.True(t, n.Messages[0].OfferedPrice.Equal(decimal.NewFromInt(25)))
				return nil
			})

		n, err := svc.Create(context.Background(), CreateInput{ProductID: p.ProductID, BuyerID: buyer, Quantity: 4, OfferedPrice: price("25")})
		require.NoError(t, err)
		assert.Equal(t, 4, n.Quantity)
	})
}

func TestService_CounterOfferThenAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.open(t, "100")

	_, err := f.svc.AddMessage(ctx, AddMessageInput{
		NegotiationID: n.NegotiationID,
		SenderID:      n.FarmerID,
		SenderRole:    negotiation.RoleFarmer,
		OfferedPrice:  price("90"),
	})
	require.NoError(t, err)

	accepted, err := f.svc.Accept(ctx, n.NegotiationID, f.buyer, nil)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.FinalPrice)
	assert.True(t, accepted.FinalPrice.Equal(decimal.NewFromInt(90)))

	final, err := f.svc.GetFinalPrice(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.True(t, final.Equal(decimal.NewFromInt(90)))

	events := f.pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, negotiation.EventNewMessage, events[0].Type)
	assert.Equal(t, negotiation.EventAccepted, events[1].Type)
	assert.Equal(t, negotiation.KindAcceptance, events[1].Message.Kind)
	assert.Equal(t, int64(3), events[1].Negotiation.Version)
}

func TestService_SelfAcceptanceLeavesNegotiationOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.open(t, "100")

	_, err := f.svc.Accept(ctx, n.NegotiationID, f.buyer, nil)
	assert.ErrorIs(t, err, negotiation.ErrSelfAcceptance)

	stored, err := f.svc.Get(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusOpen, stored.Status)
	assert.Len(t, stored.Messages, 1)
	assert.Empty(t, f.pub.snapshot())
}

func TestService_FarmerDeclines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.open(t, "100")

	declined, err := f.svc.Decline(ctx, n.NegotiationID, n.FarmerID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusRejected, declined.Status)
	assert.Nil(t, declined.FinalPrice)
	require.Len(t, declined.Messages, 2)
	assert.Equal(t, negotiation.KindDecline, declined.Messages[1].Kind)

	_, err = f.svc.GetFinalPrice(ctx, n.NegotiationID)
	assert.ErrorIs(t, err, negotiation.ErrNotAccepted)

	_, err = f.svc.AddMessage(ctx, AddMessageInput{
		NegotiationID: n.NegotiationID,
		SenderID:      f.buyer,
		SenderRole:    negotiation.RoleBuyer,
		OfferedPrice:  price("95"),
	})
	assert.ErrorIs(t, err, negotiation.ErrNotOpen)
	assert.Len(t, f.pub.snapshot(), 1)
}

func TestService_ConcurrentAcceptExactlyOneWins(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		n := f.open(t, "100")
		_, err := f.svc.AddMessage(context.Background(), AddMessageInput{
			NegotiationID: n.NegotiationID,
			SenderID:      n.FarmerID,
			SenderRole:    negotiation.RoleFarmer,
			Note:          strPtr("let me think"),
		})
		require.NoError(t, err)

		var (
			mu        sync.Mutex
			successes int
			notOpen   int
		)
		var g errgroup.Group
		for i := 0; i < 2; i++ {
			g.Go(func() error {
				_, err := f.svc.Accept(context.Background(), n.NegotiationID, n.FarmerID, nil)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, negotiation.ErrNotOpen):
					notOpen++
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, notOpen)

		accepted := 0
		for _, ev := range f.pub.snapshot() {
			if ev.Type == negotiation.EventAccepted {
				accepted++
			}
		}
		assert.Equal(t, 1, accepted)
		assert.Zero(t, f.svc.gate.size())
	}
}

func TestService_EventsFollowApplyOrder(t *testing.T) {
	f := newFixture(t)
	n := f.open(t, "100")

	var g errgroup.Group
	for i := 0; i < 25; i++ {
		sender, role := n.FarmerID, negotiation.RoleFarmer
		if i%2 == 0 {
			sender, role = f.buyer, negotiation.RoleBuyer
		}
		g.Go(func() error {
			_, err := f.svc.AddMessage(context.Background(), AddMessageInput{
				NegotiationID: n.NegotiationID,
				SenderID:      sender,
				SenderRole:    role,
				OfferedPrice:  price("99"),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := f.svc.Get(context.Background(), n.NegotiationID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 26)

	events := f.pub.snapshot()
	require.Len(t, events, 25)
	for i, ev := range events {
		assert.Equal(t, stored.Messages[i+1].MessageID, ev.Message.MessageID)
		assert.Equal(t, int64(i+2), ev.Negotiation.Version)
	}
}

func TestService_AbandonedWaiterNeverRuns(t *testing.T) {
	f := newFixture(t)
	n := f.open(t, "100")

	release, err := f.svc.gate.acquire(context.Background(), n.NegotiationID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.AddMessage(ctx, AddMessageInput{
		NegotiationID: n.NegotiationID,
		SenderID:      n.FarmerID,
		SenderRole:    negotiation.RoleFarmer,
		OfferedPrice:  price("80"),
	})
	assert.ErrorIs(t, err, negotiation.ErrStoreTimeout)
	release()

	stored, err := f.svc.Get(context.Background(), n.NegotiationID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1)
	assert.Empty(t, f.pub.snapshot())
	assert.Zero(t, f.svc.gate.size())
}

func TestService_AdmittedMutationSurvivesCallerCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := negotiationMocks.NewMockRepository(ctrl)
	pub := negotiationMocks.NewMockPublisher(ctrl)
	svc := NewService(repo, productMocks.NewMockCatalog(ctrl), pub, nil, time.Second, zerolog.Nop())

	n, err := negotiation.New(negotiation.Draft{
		ProductID: uuid.New(), BuyerID: uuid.New(), FarmerID: uuid.New(),
		Quantity: 1, Unit: negotiation.UnitKg, ListPrice: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	n.Version = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo.EXPECT().
		GetByID(gomock.Any(), n.NegotiationID).
		DoAndReturn(func(_ context.Context, _ uuid.UUID) (*negotiation.Negotiation, error) {
			cancel()
			return n.Clone(), nil
		})
	repo.EXPECT().
		Update(gomock.Any(), gomock.Any(), gomock.Len(1)).
		DoAndReturn(func(opCtx context.Context, updated *negotiation.Negotiation, _ []negotiation.Message) error {
			assert.NoError(t, opCtx.Err())
			assert.Equal(t, negotiation.StatusAccepted, updated.Status)
			updated.Version++
			return nil
		})
	pub.EXPECT().
		Publish(gomock.Any()).
		Do(func(ev negotiation.Event) {
			assert.Equal(t, negotiation.EventAccepted, ev.Type)
		})

	got, err := svc.Accept(ctx, n.NegotiationID, n.FarmerID, nil)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusAccepted, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestService_StoreTimeoutIsRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := negotiationMocks.NewMockRepository(ctrl)
	svc := NewService(repo, productMocks.NewMockCatalog(ctrl), nil, nil, time.Second, zerolog.Nop())

	id := uuid.New()
	repo.EXPECT().GetByID(gomock.Any(), id).Return(nil, context.DeadlineExceeded)

	_, err := svc.Decline(context.Background(), id, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, negotiation.ErrStoreTimeout)
	assert.True(t, negotiation.IsRetryable(err))
}

func TestService_FailedUpdatePublishesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := negotiationMocks.NewMockRepository(ctrl)
	pub := negotiationMocks.NewMockPublisher(ctrl)
	svc := NewService(repo, productMocks.NewMockCatalog(ctrl), pub, nil, time.Second, zerolog.Nop())

	n, err := negotiation.New(negotiation.Draft{
		ProductID: uuid.New(), BuyerID: uuid.New(), FarmerID: uuid.New(),
		Quantity: 1, Unit: negotiation.UnitKg, ListPrice: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	repo.EXPECT().GetByID(gomock.Any(), n.NegotiationID).Return(n, nil)
	repo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(negotiation.ErrStoreConflict)
	pub.EXPECT().Publish(gomock.Any()).Times(0)

	_, err = svc.Decline(context.Background(), n.NegotiationID, n.FarmerID)
	assert.ErrorIs(t, err, negotiation.ErrStoreConflict)
	assert.Equal(t, negotiation.StatusOpen, n.Status)
}

func TestService_FinalizeForOrder(t *testing.T) {
	t.Run("hook failure keeps negotiation accepted", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		n := f.open(t, "100")
		_, err := f.svc.Accept(ctx, n.NegotiationID, n.FarmerID, nil)
		require.NoError(t, err)

		hookErr := errors.New("order rejected")
		_, err = f.svc.FinalizeForOrder(ctx, n.NegotiationID, func(context.Context, *negotiation.Negotiation) (func(context.Context), error) {
			return nil, hookErr
		})
		assert.ErrorIs(t, err, hookErr)

		stored, err := f.svc.Get(ctx, n.NegotiationID)
		require.NoError(t, err)
		assert.Equal(t, negotiation.StatusAccepted, stored.Status)
	})

	t.Run("hook sees finalized snapshot", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		n := f.open(t, "100")
		_, err := f.svc.Accept(ctx, n.NegotiationID, n.FarmerID, price("95"))
		require.NoError(t, err)

		var seen *negotiation.Negotiation
		undone := false
		finalized, err := f.svc.FinalizeForOrder(ctx, n.NegotiationID, func(_ context.Context, snap *negotiation.Negotiation) (func(context.Context), error) {
			seen = snap
			return func(context.Context) { undone = true }, nil
		})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.False(t, undone)
		assert.Equal(t, negotiation.StatusFinalized, seen.Status)
		assert.Equal(t, negotiation.StatusFinalized, finalized.Status)
		assert.True(t, finalized.FinalPrice.Equal(decimal.NewFromInt(95)))

		events := f.pub.snapshot()
		assert.Equal(t, negotiation.EventFinalized, events[len(events)-1].Type)

		_, err = f.svc.Finalize(ctx, n.NegotiationID)
		assert.ErrorIs(t, err, negotiation.ErrNotAccepted)
	})

	t.Run("undo runs when finalized state cannot be stored", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := negotiationMocks.NewMockRepository(ctrl)
		pub := negotiationMocks.NewMockPublisher(ctrl)
		svc := NewService(repo, productMocks.NewMockCatalog(ctrl), pub, nil, time.Second, zerolog.Nop())

		n, err := negotiation.New(negotiation.Draft{
			ProductID: uuid.New(), BuyerID: uuid.New(), FarmerID: uuid.New(),
			Quantity: 1, Unit: negotiation.UnitKg, ListPrice: decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		_, err = n.Accept(n.FarmerID, nil)
		require.NoError(t, err)

		repo.EXPECT().GetByID(gomock.Any(), n.NegotiationID).Return(n, nil)
		repo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(context.DeadlineExceeded)
		pub.EXPECT().Publish(gomock.Any()).Times(0)

		undone := 0
		_, err = svc.FinalizeForOrder(context.Background(), n.NegotiationID, func(context.Context, *negotiation.Negotiation) (func(context.Context), error) {
			return func(ctx context.Context) {
				assert.NoError(t, ctx.Err())
				undone++
			}, nil
		})
		assert.ErrorIs(t, err, negotiation.ErrStoreTimeout)
		assert.Equal(t, 1, undone)
		assert.Equal(t, negotiation.StatusAccepted, n.Status)
	})

	t.Run("open negotiation cannot be finalized", func(t *testing.T) {
		f := newFixture(t)
		n := f.open(t, "100")
		_, err := f.svc.Finalize(context.Background(), n.NegotiationID)
		assert.ErrorIs(t, err, negotiation.ErrNotAccepted)
	})
}

func TestService_ListClampsPage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := negotiationMocks.NewMockRepository(ctrl)
	svc := NewService(repo, productMocks.NewMockCatalog(ctrl), nil, nil, time.Second, zerolog.Nop())

	buyer := uuid.New()
	farmer := uuid.New()
	repo.EXPECT().ListByBuyer(gomock.Any(), buyer, DefaultPageSize, 0).Return(nil, nil)
	repo.EXPECT().ListByFarmer(gomock.Any(), farmer, MaxPageSize, 5).Return(nil, nil)

	_, err := svc.ListForBuyer(context.Background(), buyer, 0, -3)
	require.NoError(t, err)
	_, err = svc.ListForFarmer(context.Background(), farmer, 500, 5)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }
