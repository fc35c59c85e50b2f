// Package firestorex keeps variant stock in Firestore documents at
// products/{productId}/variants/{variantId}.
package firestorex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
)

const defaultTxAttempts = 10

type stockDoc struct {
	UnitsInStock int64     `firestore:"units_in_stock"`
	InStock      bool      `firestore:"in_stock"`
	StockStatus  string    `firestore:"stock_status"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

func (d stockDoc) toStock(key inventory.VariantKey) inventory.VariantStock {
	return inventory.VariantStock{
		ProductID:    key.ProductID,
		VariantID:    key.VariantID,
		UnitsInStock: int(d.UnitsInStock),
		InStock:      d.InStock,
		StockStatus:  inventory.StockStatus(d.StockStatus),
		UpdatedAt:    d.UpdatedAt,
	}
}

func fromStock(s inventory.VariantStock) stockDoc {
	return stockDoc{
		UnitsInStock: int64(s.UnitsInStock),
		InStock:      s.InStock,
		StockStatus:  string(s.StockStatus),
		UpdatedAt:    s.UpdatedAt,
	}
}

// StockStore adjusts stock inside a Firestore transaction. Firestore retries
// the transaction when another writer touched the document first, which
// makes each adjustment an optimistic compare-and-retry on a single document.
type StockStore struct {
	client   *firestore.Client
	clock    func() time.Time
	attempts int
}

func NewStockStore(client *firestore.Client, attempts int, clock func() time.Time) *StockStore {
	if attempts <= 0 {
		attempts = defaultTxAttempts
	}
	if clock == nil {
		clock = time.Now
	}
	return &StockStore{client: client, clock: clock, attempts: attempts}
}

func (s *StockStore) doc(key inventory.VariantKey) *firestore.DocumentRef {
	return s.client.Collection("products").Doc(key.ProductID).Collection("variants").Doc(key.VariantID)
}

func decode(key inventory.VariantKey, snap *firestore.DocumentSnapshot) (inventory.VariantStock, error) {
	var d stockDoc
	if err := snap.DataTo(&d); err != nil {
		return inventory.VariantStock{}, fmt.Errorf("decode stock %s: %w", key, err)
	}
	return d.toStock(key), nil
}

func (s *StockStore) Get(ctx context.Context, key inventory.VariantKey) (inventory.VariantStock, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return inventory.VariantStock{}, fmt.Errorf("%w: %s", inventory.ErrStockNotFound, key)
	}
	if err != nil {
		return inventory.VariantStock{}, err
	}
	return decode(key, snap)
}

func (s *StockStore) Adjust(ctx context.Context, key inventory.VariantKey, delta int) (inventory.VariantStock, error) {
	ref := s.doc(key)
	var out inventory.VariantStock

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", inventory.ErrStockNotFound, key)
		}
		if err != nil {
			return err
		}
		cur, err := decode(key, snap)
		if err != nil {
			return err
		}
		units := cur.UnitsInStock + delta
		if delta < 0 && units < 0 {
			out = cur
			return fmt.Errorf("%w: %s has %d, requested %d", inventory.ErrInsufficientStock, key, cur.UnitsInStock, -delta)
		}
		out = cur.WithUnits(units, s.clock().UTC())
		return tx.Update(ref, []firestore.Update{
			{Path: "units_in_stock", Value: int64(out.UnitsInStock)},
			{Path: "in_stock", Value: out.InStock},
			{Path: "stock_status", Value: string(out.StockStatus)},
			{Path: "updated_at", Value: out.UpdatedAt},
		})
	}, firestore.MaxAttempts(s.attempts))

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, inventory.ErrInsufficientStock):
		return out, err
	case errors.Is(err, inventory.ErrStockNotFound):
		return inventory.VariantStock{}, err
	case status.Code(err) == codes.Aborted:
		return inventory.VariantStock{}, fmt.Errorf("%w: %s: %v", inventory.ErrConcurrentConflict, key, err)
	default:
		return inventory.VariantStock{}, err
	}
}

func (s *StockStore) Put(ctx context.Context, stock inventory.VariantStock) (inventory.VariantStock, error) {
	if stock.UnitsInStock < 0 {
		return inventory.VariantStock{}, fmt.Errorf("%w: %s units %d", inventory.ErrInvalidQuantity, stock.Key(), stock.UnitsInStock)
	}
	rec := stock.WithUnits(stock.UnitsInStock, s.clock().UTC())
	if _, err := s.doc(rec.Key()).Set(ctx, fromStock(rec)); err != nil {
		return inventory.VariantStock{}, err
	}
	return rec, nil
}
