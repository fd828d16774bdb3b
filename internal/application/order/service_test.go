package order

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/domain/order"
	"github.com/agri-market/agri-market/internal/domain/product"
	productMocks "github.com/agri-market/agri-market/internal/domain/product/mocks"
	"github.com/agri-market/agri-market/internal/infrastructure/memory"
)

type fixture struct {
	svc          *Service
	negotiations *appNegotiation.Service
	orders       *memory.OrderRepository
	products     *memory.ProductRepository
	product      *product.Product
	buyer        uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	products := memory.NewProductRepository()
	orders := memory.NewOrderRepository()
	p := &product.Product{
		FarmerID:    uuid.New(),
		Name:        "Basmati rice",
		Category:    "grains",
		Price:       decimal.NewFromInt(80),
		Unit:        "kg",
		Quantity:    10,
		IsAvailable: true,
	}
	require.NoError(t, products.Create(context.Background(), p))
	negotiations := appNegotiation.NewService(memory.NewNegotiationRepository(), products, nil, nil, time.Second, zerolog.Nop())
	return &fixture{
		svc:          NewService(orders, products, negotiations, time.Second, zerolog.Nop()),
		negotiations: negotiations,
		orders:       orders,
		products:     products,
		product:      p,
		buyer:        uuid.New(),
	}
}

func (f *fixture) acceptedNegotiation(t *testing.T, offer string) *negotiation.Negotiation {
	t.Helper()
	ctx := context.Background()
	d := decimal.RequireFromString(offer)
	n, err := f.negotiations.Create(ctx, appNegotiation.CreateInput{
		ProductID:    f.product.ProductID,
		BuyerID:      f.buyer,
		Quantity:     4,
		OfferedPrice: &d,
	})
	require.NoError(t, err)
	n, err = f.negotiations.Accept(ctx, n.NegotiationID, f.product.FarmerID, nil)
	require.NoError(t, err)
	return n
}

func TestPlaceOrder_AtListPrice(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:   f.buyer,
		ProductID: f.product.ProductID,
		Quantity:  3,
	})
	require.NoError(t, err)

	assert.Nil(t, o.NegotiationID)
	assert.Equal(t, "240", o.TotalAmount.String())
	assert.Equal(t, order.PaymentCashOnDelivery, o.PaymentMethod)
	assert.Regexp(t, `^AC\d{11}$`, o.OrderNumber)

	p, err := f.products.GetProduct(context.Background(), f.product.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Quantity)
}

func TestPlaceOrder_AtNegotiatedPrice(t *testing.T) {
	f := newFixture(t)
	n := f.acceptedNegotiation(t, "72.50")

	o, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer,
		ProductID:     f.product.ProductID,
		Quantity:      4,
		NegotiationID: &n.NegotiationID,
		PaymentMethod: order.PaymentBankTransfer,
	})
	require.NoError(t, err)
	require.NotNil(t, o.NegotiationID)
	assert.Equal(t, n.NegotiationID, *o.NegotiationID)
	assert.True(t, o.PricePerUnit.Equal(decimal.RequireFromString("72.5")))
	assert.Equal(t, "290", o.TotalAmount.String())

	got, err := f.negotiations.Get(context.Background(), n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusFinalized, got.Status)

	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer,
		ProductID:     f.product.ProductID,
		Quantity:      1,
		NegotiationID: &n.NegotiationID,
	})
	assert.ErrorIs(t, err, negotiation.ErrNotAccepted)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	t.Run("open negotiation", func(t *testing.T) {
		f := newFixture(t)
		n, err := f.negotiations.Create(context.Background(), appNegotiation.CreateInput{
			ProductID: f.product.ProductID,
			BuyerID:   f.buyer,
			Quantity:  1,
		})
		require.NoError(t, err)

		_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			BuyerID: f.buyer, ProductID: f.product.ProductID, Quantity: 1, NegotiationID: &n.NegotiationID,
		})
		assert.ErrorIs(t, err, negotiation.ErrNotAccepted)
	})

	t.Run("someone else's negotiation", func(t *testing.T) {
		f := newFixture(t)
		n := f.acceptedNegotiation(t, "75")

		_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			BuyerID: uuid.New(), ProductID: f.product.ProductID, Quantity: 1, NegotiationID: &n.NegotiationID,
		})
		assert.ErrorIs(t, err, negotiation.ErrNotAuthorized)

		got, err := f.negotiations.Get(context.Background(), n.NegotiationID)
		require.NoError(t, err)
		assert.Equal(t, negotiation.StatusAccepted, got.Status)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			BuyerID: f.buyer, ProductID: f.product.ProductID, Quantity: 11,
		})
		assert.ErrorIs(t, err, negotiation.ErrValidation)
	})

	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			BuyerID: f.buyer, ProductID: uuid.New(), Quantity: 1,
		})
		assert.ErrorIs(t, err, negotiation.ErrNotFound)
	})

	t.Run("total beyond the stored range", func(t *testing.T) {
		f := newFixture(t)
		p := &product.Product{
			FarmerID:    uuid.New(),
			Name:        "Saffron",
			Category:    "spices",
			Price:       decimal.RequireFromString("999999999999"),
			Unit:        "kg",
			Quantity:    5,
			IsAvailable: true,
		}
		require.NoError(t, f.products.Create(context.Background(), p))

		_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			BuyerID: f.buyer, ProductID: p.ProductID, Quantity: 2,
		})
		assert.ErrorIs(t, err, negotiation.ErrValidation)

		got, err := f.products.GetProduct(context.Background(), p.ProductID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Quantity)
	})

	t.Run("bad payment method", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			BuyerID: f.buyer, ProductID: f.product.ProductID, Quantity: 1, PaymentMethod: "barter",
		})
		assert.ErrorIs(t, err, negotiation.ErrValidation)
	})
}

func TestPlaceOrder_ReleasesStockWhenOrderFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	p := &product.Product{
		ProductID:   uuid.New(),
		FarmerID:    uuid.New(),
		Price:       decimal.NewFromInt(10),
		Unit:        "kg",
		Quantity:    5,
		IsAvailable: true,
	}
	products := productMocks.NewMockRepository(ctrl)
	products.EXPECT().GetProduct(gomock.Any(), p.ProductID).Return(p, nil)
	products.EXPECT().Reserve(gomock.Any(), p.ProductID, 2).Return(nil)
	products.EXPECT().Release(gomock.Any(), p.ProductID, 2).Return(nil)

	svc := NewService(failingOrders{}, products, nil, time.Second, zerolog.Nop())
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{BuyerID: uuid.New(), ProductID: p.ProductID, Quantity: 2})
	assert.ErrorIs(t, err, negotiation.ErrStoreTimeout)
}

// flakyNegotiations fails every Update while failing is set.
type flakyNegotiations struct {
	*memory.NegotiationRepository
	failing bool
}

func (r *flakyNegotiations) Update(ctx context.Context, n *negotiation.Negotiation, appended []negotiation.Message) error {
	if r.failing {
		return context.DeadlineExceeded
	}
	return r.NegotiationRepository.Update(ctx, n, appended)
}

func TestPlaceOrder_RevokedWhenFinalizeCannotBeStored(t *testing.T) {
	f := newFixture(t)
	store := &flakyNegotiations{NegotiationRepository: memory.NewNegotiationRepository()}
	f.negotiations = appNegotiation.NewService(store, f.products, nil, nil, time.Second, zerolog.Nop())
	f.svc = NewService(f.orders, f.products, f.negotiations, time.Second, zerolog.Nop())
	n := f.acceptedNegotiation(t, "70")
	ctx := context.Background()
	in := PlaceOrderInput{
		BuyerID:       f.buyer,
		ProductID:     f.product.ProductID,
		Quantity:      4,
		NegotiationID: &n.NegotiationID,
	}

	store.failing = true
	_, err := f.svc.PlaceOrder(ctx, in)
	require.ErrorIs(t, err, negotiation.ErrStoreTimeout)
	assert.True(t, negotiation.IsRetryable(err))

	orders, err := f.orders.ListByBuyer(ctx, f.buyer, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	p, err := f.products.GetProduct(ctx, f.product.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
	got, err := f.negotiations.Get(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusAccepted, got.Status)

	store.failing = false
	o, err := f.svc.PlaceOrder(ctx, in)
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(280)))
	got, err = f.negotiations.Get(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusFinalized, got.Status)
	p, err = f.products.GetProduct(ctx, f.product.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 6, p.Quantity)
}

func TestListForBuyer(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{BuyerID: f.buyer, ProductID: f.product.ProductID, Quantity: 1})
		require.NoError(t, err)
	}
	out, err := f.svc.ListForBuyer(context.Background(), f.buyer, 2, 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = f.svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

type failingOrders struct{}

func (failingOrders) Create(context.Context, *order.Order) error {
	return context.DeadlineExceeded
}

func (failingOrders) GetByID(context.Context, uuid.UUID) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (failingOrders) Delete(context.Context, uuid.UUID) error {
	return order.ErrNotFound
}

func (failingOrders) ListByBuyer(context.Context, uuid.UUID, int, int) ([]*order.Order, error) {
	return nil, nil
}
