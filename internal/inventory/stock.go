package inventory

import (
	"context"
	"time"
)

type StockStatus string

const (
	StatusInStock    StockStatus = "in_stock"
	StatusOutOfStock StockStatus = "out_of_stock"
)

// VariantKey identifies one stock record.
type VariantKey struct {
	ProductID string
	VariantID string
}

func (k VariantKey) String() string { return k.ProductID + "/" + k.VariantID }

// VariantStock is the stock record of a single purchasable variant.
// InStock and StockStatus are derived from UnitsInStock on every write.
type VariantStock struct {
	ProductID    string      `json:"product_id"`
	VariantID    string      `json:"variant_id"`
	UnitsInStock int         `json:"units_in_stock"`
	InStock      bool        `json:"in_stock"`
	StockStatus  StockStatus `json:"stock_status"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (s VariantStock) Key() VariantKey {
	return VariantKey{ProductID: s.ProductID, VariantID: s.VariantID}
}

// WithUnits returns a copy carrying the new unit count, derived flags and timestamp.
func (s VariantStock) WithUnits(units int, now time.Time) VariantStock {
	s.UnitsInStock = units
	s.InStock, s.StockStatus = Derive(units)
	s.UpdatedAt = now
	return s
}

// Derive computes the in-stock flag and status for a unit count.
func Derive(units int) (bool, StockStatus) {
	if units > 0 {
		return true, StatusInStock
	}
	return false, StatusOutOfStock
}

// Line is one quantity to reserve or release against a variant.
type Line struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (l Line) Key() VariantKey {
	return VariantKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Store is keyed access to VariantStock records.
//
// Adjust applies units += delta as a single atomic step per key. A negative
// delta that would drive the count below zero fails with ErrInsufficientStock
// and returns the unchanged record so callers can report what is available.
// Implementations retry internally on write conflicts; ErrConcurrentConflict
// only escapes when the retry budget is exhausted.
type Store interface {
	Get(ctx context.Context, key VariantKey) (VariantStock, error)
	Adjust(ctx context.Context, key VariantKey, delta int) (VariantStock, error)
	Put(ctx context.Context, stock VariantStock) (VariantStock, error)
}
