package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repo) Create(ctx context.Context, order Order) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, external_id, status, subtotal, tax, shipping_fee, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10)`,
		order.ID, order.UserID, nullable(order.ExternalID), string(order.Status),
		order.Subtotal.String(), order.Tax.String(), order.ShippingFee.String(), order.TotalAmount.String(),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ExternalID)
		}
		return Order{}, err
	}

	for i, it := range order.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, variant_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			order.ID, i, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice.String(),
		); err != nil {
			return Order{}, err
		}
	}

	// a cancelled ctx must not turn a commit the server accepted into an error
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return Order{}, err
	}
	return order.clone(), nil
}

const orderColumns = `id, user_id, COALESCE(external_id, ''), status,
	subtotal::text, tax::text, shipping_fee::text, total_amount::text, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	var subtotal, tax, shipping, total string
	if err := row.Scan(&o.ID, &o.UserID, &o.ExternalID, &status,
		&subtotal, &tax, &shipping, &total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.Tax, tax}, {&o.ShippingFee, shipping}, {&o.TotalAmount, total}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return Order{}, fmt.Errorf("decode amount %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return o, nil
}

func (r *Repo) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, variant_id, quantity, unit_price::text
		FROM order_items WHERE order_id=$1 ORDER BY line_no`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		var price string
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Quantity, &price); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("decode unit price %q: %w", price, err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *Repo) getWhere(ctx context.Context, where string, args ...any) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderNotFound, args[len(args)-1])
	}
	if err != nil {
		return Order{}, err
	}
	if err := r.loadItems(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.getWhere(ctx, `id=$1`, id)
}

func (r *Repo) FindByExternalID(ctx context.Context, userID, externalID string) (Order, error) {
	return r.getWhere(ctx, `user_id=$1 AND external_id=$2`, userID, externalID)
}

// UpdateStatus writes and reads back in one statement; the items are loaded
// detached from ctx so a committed change is never reported as a failure
// because of a follow-up read.
func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status=$3, updated_at=$4
		WHERE id=$1 AND status=$2
		RETURNING `+orderColumns, id, string(from), string(to), at))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return Order{}, gerr
		}
		return Order{}, fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, cur.Status, from)
	}
	if err != nil {
		return Order{}, err
	}
	if err := r.loadItems(context.WithoutCancel(ctx), &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) AppendRestocks(ctx context.Context, entries []RestockEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO order_restocks(order_id, line_no, product_id, variant_id, quantity, ok, error, source, attempted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.OrderID, e.LineNo, e.ProductID, e.VariantID, e.Quantity, e.OK, e.Error, e.Source, e.AttemptedAt)
	}
	return r.DB.SendBatch(ctx, batch).Close()
}

func (r *Repo) ListRestocks(ctx context.Context, orderID string) ([]RestockEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, line_no, product_id, variant_id, quantity, ok, error, source, attempted_at
		FROM order_restocks WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RestockEntry
	for rows.Next() {
		var e RestockEntry
		if err := rows.Scan(&e.OrderID, &e.LineNo, &e.ProductID, &e.VariantID, &e.Quantity,
			&e.OK, &e.Error, &e.Source, &e.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
