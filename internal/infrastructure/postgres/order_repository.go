package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agri-market/agri-market/internal/domain/order"
)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `order_id, order_number, buyer_id, farmer_id, product_id, negotiation_id, quantity, unit, price_per_unit::text, total_amount::text, status, payment_method, notes, created_at`

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders
		(order_id, order_number, buyer_id, farmer_id, product_id, negotiation_id, quantity, unit, price_per_unit, total_amount, status, payment_method, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10::numeric,$11,$12,$13,$14)
	`, o.OrderID, o.OrderNumber, o.BuyerID, o.FarmerID, o.ProductID, o.NegotiationID, o.Quantity, o.Unit, decimalArg(o.PricePerUnit), decimalArg(o.TotalAmount), o.Status, o.PaymentMethod, o.Notes, o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && o.NegotiationID != nil {
			return fmt.Errorf("%w: %s", order.ErrNegotiationAlreadyUsed, *o.NegotiationID)
		}
		return storeError(err)
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE order_id=$1`, orderID)
	if err != nil {
		return storeError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", order.ErrNotFound, orderID)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_id=$1
	`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", order.ErrNotFound, orderID)
		}
		return nil, storeError(err)
	}
	return o, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, buyerID, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	defer rows.Close()

	out := make([]*order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeError(err)
		}
		out = append(out, o)
	}
	return out, storeError(rows.Err())
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o            order.Order
		pricePerUnit string
		total        string
	)
	if err := row.Scan(&o.OrderID, &o.OrderNumber, &o.BuyerID, &o.FarmerID, &o.ProductID, &o.NegotiationID, &o.Quantity, &o.Unit, &pricePerUnit, &total, &o.Status, &o.PaymentMethod, &o.Notes, &o.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.PricePerUnit, err = parseDecimal(pricePerUnit); err != nil {
		return nil, err
	}
	if o.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, err
	}
	return &o, nil
}
