package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agri-market/agri-market/internal/domain/product"
)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	pool *pgxpool.Pool
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if p.ProductID == uuid.Nil {
		p.ProductID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products
		(product_id, farmer_id, name, category, price, unit, quantity, is_available, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10)
	`, p.ProductID, p.FarmerID, p.Name, p.Category, decimalArg(p.Price), p.Unit, p.Quantity, p.IsAvailable, p.CreatedAt, p.UpdatedAt)
	return storeError(err)
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID uuid.UUID) (*product.Product, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT product_id, farmer_id, name, category, price::text, unit, quantity, is_available, created_at, updated_at
		FROM products
		WHERE product_id=$1
	`, productID)
	p, err := scanProduct(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", product.ErrNotFound, productID)
		}
		return nil, storeError(err)
	}
	return p, nil
}

// Reserve decrements stock in one statement so concurrent orders cannot
// oversell.
func (r *ProductRepository) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products
		SET quantity = quantity - $1,
		    is_available = (quantity - $1) > 0,
		    updated_at = now()
		WHERE product_id=$2 AND is_available AND quantity >= $1
	`, quantity, productID)
	if err != nil {
		return storeError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	return p.CanSupply(quantity)
}

func (r *ProductRepository) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products
		SET quantity = quantity + $1,
		    is_available = (quantity + $1) > 0,
		    updated_at = now()
		WHERE product_id=$2
	`, quantity, productID)
	if err != nil {
		return storeError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", product.ErrNotFound, productID)
	}
	return nil
}

func scanProduct(row pgx.Row) (*product.Product, error) {
	var (
		p     product.Product
		price string
	)
	if err := row.Scan(&p.ProductID, &p.FarmerID, &p.Name, &p.Category, &price, &p.Unit, &p.Quantity, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &p, nil
}
