package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

var fixedNow = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func TestStockStoreGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewStockStore(db, func() time.Time { return fixedNow })
	key := inventory.VariantKey{ProductID: "p1", VariantID: "250g"}

	mock.ExpectHGetAll("stock:p1:250g").SetVal(map[string]string{
		"units_in_stock": "4",
		"in_stock":       "1",
		"stock_status":   "in_stock",
		"updated_at":     fixedNow.Format(time.RFC3339Nano),
	})
	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 4, got.UnitsInStock)
	assert.True(t, got.InStock)
	assert.Equal(t, inventory.StatusInStock, got.StockStatus)
	assert.True(t, fixedNow.Equal(got.UpdatedAt))

	mock.ExpectHGetAll("stock:p1:250g").SetVal(map[string]string{})
	_, err = store.Get(context.Background(), key)
	assert.ErrorIs(t, err, inventory.ErrStockNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockStoreGetRejectsCorruptHash(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewStockStore(db, func() time.Time { return fixedNow })
	key := inventory.VariantKey{ProductID: "p1", VariantID: "250g"}

	mock.ExpectHGetAll("stock:p1:250g").SetVal(map[string]string{
		"units_in_stock": "4",
		"updated_at":     "yesterday",
	})
	_, err := store.Get(context.Background(), key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updated_at")

	mock.ExpectHGetAll("stock:p1:250g").SetVal(map[string]string{
		"units_in_stock": "four",
		"updated_at":     fixedNow.Format(time.RFC3339Nano),
	})
	_, err = store.Get(context.Background(), key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "units_in_stock")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockStoreAdjust(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewStockStore(db, func() time.Time { return fixedNow })
	key := inventory.VariantKey{ProductID: "p1", VariantID: "250g"}
	stamp := fixedNow.Format(time.RFC3339Nano)

	mock.ExpectEvalSha(adjustScript.Hash(), []string{"stock:p1:250g"}, -3, stamp).
		SetVal([]interface{}{int64(0), int64(7)})
	got, err := store.Adjust(context.Background(), key, -3)
	require.NoError(t, err)
	assert.Equal(t, 7, got.UnitsInStock)
	assert.Equal(t, inventory.StatusInStock, got.StockStatus)

	mock.ExpectEvalSha(adjustScript.Hash(), []string{"stock:p1:250g"}, -9, stamp).
		SetVal([]interface{}{int64(-2), int64(7)})
	got, err = store.Adjust(context.Background(), key, -9)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 7, got.UnitsInStock)

	mock.ExpectEvalSha(adjustScript.Hash(), []string{"stock:p1:250g"}, 2, stamp).
		SetVal([]interface{}{int64(-1), int64(0)})
	_, err = store.Adjust(context.Background(), key, 2)
	assert.ErrorIs(t, err, inventory.ErrStockNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCacheRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewOrderCache(db)
	ctx := context.Background()

	mock.ExpectGet("order:o1").RedisNil()
	_, ok, err := cache.Get(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	o := orders.Order{
		ID:          "o1",
		UserID:      "u1",
		Status:      orders.StatusPlaced,
		Items:       []orders.Item{{ProductID: "p1", VariantID: "v1", Quantity: 2, UnitPrice: decimal.RequireFromString("4.50")}},
		TotalAmount: decimal.RequireFromString("9.00"),
	}
	b, err := json.Marshal(o)
	require.NoError(t, err)

	mock.ExpectSet("order:o1", b, TTLOrderCache).SetVal("OK")
	require.NoError(t, cache.Put(ctx, o))

	mock.ExpectGet("order:o1").SetVal(string(b))
	got, ok, err := cache.Get(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, orders.StatusPlaced, got.Status)
	assert.True(t, got.TotalAmount.Equal(o.TotalAmount))

	mock.ExpectSetNX("order:o1", b, TTLOrderCache).SetVal(false)
	require.NoError(t, cache.Add(ctx, o))

	mock.ExpectDel("order:o1").SetErr(errors.New("boom"))
	assert.Error(t, cache.Invalidate(ctx, "o1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupFirstSeen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := NewDedup(db)

	mock.ExpectSetNX("dedup:auditor:e1", "1", TTLDedup).SetVal(true)
	mock.ExpectSetNX("dedup:auditor:e1", "1", TTLDedup).SetVal(false)

	first, err := d.FirstSeen(context.Background(), "auditor", "e1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(context.Background(), "auditor", "e1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, mock.ExpectationsWereMet())
}
