package inventory_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/postgres"
)

func newStockRepo(t *testing.T) *inventory.StockRepo {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return &inventory.StockRepo{DB: pool}
}

func TestStockRepoAdjust(t *testing.T) {
	repo := newStockRepo(t)
	ctx := context.Background()
	key := inventory.VariantKey{ProductID: fmt.Sprintf("p-%d", time.Now().UnixNano()), VariantID: "250g"}

	_, err := repo.Get(ctx, key)
	require.ErrorIs(t, err, inventory.ErrStockNotFound)
	_, err = repo.Adjust(ctx, key, 1)
	require.ErrorIs(t, err, inventory.ErrStockNotFound)

	_, err = repo.Put(ctx, inventory.VariantStock{ProductID: key.ProductID, VariantID: key.VariantID, UnitsInStock: 20})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Adjust(ctx, key, -1)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnitsInStock)
	assert.Equal(t, inventory.StatusOutOfStock, got.StockStatus)

	cur, err := repo.Adjust(ctx, key, -1)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 0, cur.UnitsInStock)
}
