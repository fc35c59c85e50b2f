package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockRepo stores variant stock in Postgres. Adjust is a single conditional
// UPDATE: the row lock it takes serialises writers on the same variant and
// the WHERE clause keeps the count non-negative.
type StockRepo struct{ DB *pgxpool.Pool }

const stockColumns = `product_id, variant_id, units_in_stock, in_stock, stock_status, updated_at`

func scanStock(row pgx.Row) (VariantStock, error) {
	var s VariantStock
	var status string
	if err := row.Scan(&s.ProductID, &s.VariantID, &s.UnitsInStock, &s.InStock, &status, &s.UpdatedAt); err != nil {
		return VariantStock{}, err
	}
	s.StockStatus = StockStatus(status)
	return s, nil
}

func (r *StockRepo) Get(ctx context.Context, key VariantKey) (VariantStock, error) {
	s, err := scanStock(r.DB.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM variant_stock WHERE product_id=$1 AND variant_id=$2`,
		key.ProductID, key.VariantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return VariantStock{}, fmt.Errorf("%w: %s", ErrStockNotFound, key)
	}
	return s, err
}

func (r *StockRepo) Adjust(ctx context.Context, key VariantKey, delta int) (VariantStock, error) {
	s, err := scanStock(r.DB.QueryRow(ctx, `
		UPDATE variant_stock
		SET units_in_stock = units_in_stock + $3,
		    in_stock       = units_in_stock + $3 > 0,
		    stock_status   = CASE WHEN units_in_stock + $3 > 0 THEN 'in_stock' ELSE 'out_of_stock' END,
		    updated_at     = now()
		WHERE product_id=$1 AND variant_id=$2 AND units_in_stock + $3 >= 0
		RETURNING `+stockColumns,
		key.ProductID, key.VariantID, delta))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return VariantStock{}, err
	}

	// no row matched: either the variant is unknown or the count would go negative
	cur, err := r.Get(ctx, key)
	if err != nil {
		return VariantStock{}, err
	}
	return cur, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, key, cur.UnitsInStock, -delta)
}

func (r *StockRepo) Put(ctx context.Context, stock VariantStock) (VariantStock, error) {
	if stock.UnitsInStock < 0 {
		return VariantStock{}, fmt.Errorf("%w: %s units %d", ErrInvalidQuantity, stock.Key(), stock.UnitsInStock)
	}
	inStock, status := Derive(stock.UnitsInStock)
	return scanStock(r.DB.QueryRow(ctx, `
		INSERT INTO variant_stock(product_id, variant_id, units_in_stock, in_stock, stock_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (product_id, variant_id) DO UPDATE
		SET units_in_stock = EXCLUDED.units_in_stock,
		    in_stock       = EXCLUDED.in_stock,
		    stock_status   = EXCLUDED.stock_status,
		    updated_at     = EXCLUDED.updated_at
		RETURNING `+stockColumns,
		stock.ProductID, stock.VariantID, stock.UnitsInStock, inStock, string(status)))
}
