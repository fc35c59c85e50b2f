package redisx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
)

const (
	fieldUnits     = "units_in_stock"
	fieldInStock   = "in_stock"
	fieldStatus    = "stock_status"
	fieldUpdatedAt = "updated_at"
)

// adjustScript runs the whole read-check-write on the server, so
// adjustments on one key are applied one after another.
// Returns {0, units} on success, {-1, 0} when missing, {-2, units} when short.
var adjustScript = redis.NewScript(`
local units = redis.call('HGET', KEYS[1], 'units_in_stock')
if not units then
  return {-1, 0}
end
units = tonumber(units)
local delta = tonumber(ARGV[1])
local nextUnits = units + delta
if delta < 0 and nextUnits < 0 then
  return {-2, units}
end
local status = 'out_of_stock'
local inStock = '0'
if nextUnits > 0 then
  status = 'in_stock'
  inStock = '1'
end
redis.call('HSET', KEYS[1], 'units_in_stock', nextUnits, 'in_stock', inStock, 'stock_status', status, 'updated_at', ARGV[2])
return {0, nextUnits}
`)

// StockStore keeps variant stock in Redis hashes.
type StockStore struct {
	rdb   redis.Cmdable
	clock func() time.Time
}

func NewStockStore(rdb redis.Cmdable, clock func() time.Time) *StockStore {
	if clock == nil {
		clock = time.Now
	}
	return &StockStore{rdb: rdb, clock: clock}
}

func stockKey(k inventory.VariantKey) string {
	return fmt.Sprintf(KeyStock, k.ProductID, k.VariantID)
}

func (s *StockStore) Get(ctx context.Context, key inventory.VariantKey) (inventory.VariantStock, error) {
	fields, err := s.rdb.HGetAll(ctx, stockKey(key)).Result()
	if err != nil {
		return inventory.VariantStock{}, err
	}
	if len(fields) == 0 {
		return inventory.VariantStock{}, fmt.Errorf("%w: %s", inventory.ErrStockNotFound, key)
	}
	units, err := strconv.Atoi(fields[fieldUnits])
	if err != nil {
		return inventory.VariantStock{}, fmt.Errorf("decode %s of %s: %w", fieldUnits, key, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return inventory.VariantStock{}, fmt.Errorf("decode %s of %s: %w", fieldUpdatedAt, key, err)
	}
	out := inventory.VariantStock{ProductID: key.ProductID, VariantID: key.VariantID}
	return out.WithUnits(units, updated), nil
}

func (s *StockStore) Adjust(ctx context.Context, key inventory.VariantKey, delta int) (inventory.VariantStock, error) {
	now := s.clock().UTC()
	res, err := adjustScript.Run(ctx, s.rdb, []string{stockKey(key)}, delta, now.Format(time.RFC3339Nano)).Int64Slice()
	if err != nil {
		return inventory.VariantStock{}, err
	}
	if len(res) != 2 {
		return inventory.VariantStock{}, fmt.Errorf("adjust %s: unexpected reply %v", key, res)
	}
	base := inventory.VariantStock{ProductID: key.ProductID, VariantID: key.VariantID}
	switch res[0] {
	case 0:
		return base.WithUnits(int(res[1]), now), nil
	case -1:
		return inventory.VariantStock{}, fmt.Errorf("%w: %s", inventory.ErrStockNotFound, key)
	default:
		cur := base.WithUnits(int(res[1]), time.Time{})
		return cur, fmt.Errorf("%w: %s has %d, requested %d", inventory.ErrInsufficientStock, key, cur.UnitsInStock, -delta)
	}
}

func (s *StockStore) Put(ctx context.Context, stock inventory.VariantStock) (inventory.VariantStock, error) {
	if stock.UnitsInStock < 0 {
		return inventory.VariantStock{}, fmt.Errorf("%w: %s units %d", inventory.ErrInvalidQuantity, stock.Key(), stock.UnitsInStock)
	}
	rec := stock.WithUnits(stock.UnitsInStock, s.clock().UTC())
	inStock := "0"
	if rec.InStock {
		inStock = "1"
	}
	err := s.rdb.HSet(ctx, stockKey(rec.Key()),
		fieldUnits, rec.UnitsInStock,
		fieldInStock, inStock,
		fieldStatus, string(rec.StockStatus),
		fieldUpdatedAt, rec.UpdatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return inventory.VariantStock{}, err
	}
	return rec, nil
}
