package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-retail-orders/internal/auth"
	"github.com/ariefcatur/go-retail-orders/internal/httpx"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	ledger   *inventory.Ledger
	verifier *auth.Verifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithCache(t, nil)
}

func newHarnessWithCache(t *testing.T, cache httpx.OrderCache) *harness {
	t.Helper()
	ledger := inventory.NewLedger(inventory.NewMemoryStore())
	ctx := context.Background()
	for _, s := range []inventory.VariantStock{
		{ProductID: "rice", VariantID: "5kg", UnitsInStock: 5},
		{ProductID: "dal", VariantID: "1kg", UnitsInStock: 0},
	} {
		_, err := ledger.Seed(ctx, s)
		require.NoError(t, err)
	}
	svc, err := orders.NewService(orders.ServiceDeps{Orders: orders.NewMemoryStore(), Ledger: ledger})
	require.NoError(t, err)
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)

	router := httpx.NewRouter(nil)
	router.Group(func(r chi.Router) {
		r.Use(httpx.Authenticate(verifier))
		(&httpx.OrdersHandler{Service: svc, Cache: cache}).Register(r)
		(&httpx.StockHandler{Ledger: ledger}).Register(r)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, ledger: ledger, verifier: verifier}
}

func (h *harness) token(userID, role string) string {
	tok, err := h.verifier.Issue(auth.Identity{UserID: userID, Role: role}, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token, body string, headers ...string) (int, map[string]any) {
	h.t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (h *harness) units(productID, variantID string) int {
	s, err := h.ledger.Stock(context.Background(), inventory.VariantKey{ProductID: productID, VariantID: variantID})
	require.NoError(h.t, err)
	return s.UnitsInStock
}

const riceOrder = `{"items":[{"product_id":"rice","variant_id":"5kg","quantity":3,"unit_price":"2.50"}],"subtotal":"7.50","total_amount":"7.50"}`

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(http.MethodPost, "/orders", "", riceOrder)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthenticated", body["error"])

	code, _ = h.do(http.MethodPost, "/orders", "not-a-jwt", riceOrder)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 5, h.units("rice", "5kg"))
}

func TestCreateOrderAndReplay(t *testing.T) {
	h := newHarness(t)
	tok := h.token("u1", auth.RoleUser)

	code, body := h.do(http.MethodPost, "/orders", tok, riceOrder, "Idempotency-Key", "cart-1")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "placed", body["status"])
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, "7.5", body["total_amount"])
	id := body["id"].(string)

	code, body = h.do(http.MethodPost, "/orders", tok, riceOrder, "Idempotency-Key", "cart-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, 2, h.units("rice", "5kg"))
}

func TestCreateOrderErrors(t *testing.T) {
	h := newHarness(t)
	tok := h.token("u1", auth.RoleUser)

	code, body := h.do(http.MethodPost, "/orders", tok, `{"items":[{"product_id":"rice","variant_id":"5kg","quantity":1},{"product_id":"dal","variant_id":"1kg","quantity":2}]}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "insufficient_stock", body["error"])
	assert.Equal(t, "dal", body["product_id"])
	assert.Equal(t, float64(0), body["available"])
	assert.Equal(t, float64(2), body["requested"])
	assert.Equal(t, 5, h.units("rice", "5kg"))

	code, body = h.do(http.MethodPost, "/orders", tok, `{"items":[{"product_id":"rice","variant_id":"9kg","quantity":1}]}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "stock_not_found", body["error"])

	code, body = h.do(http.MethodPost, "/orders", tok, `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", body["error"])

	code, _ = h.do(http.MethodPost, "/orders", tok, `{"items":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetOrderVisibility(t *testing.T) {
	h := newHarness(t)
	_, body := h.do(http.MethodPost, "/orders", h.token("u1", auth.RoleUser), riceOrder)
	id := body["id"].(string)

	code, _ := h.do(http.MethodGet, "/orders/"+id, h.token("u1", auth.RoleUser), "")
	assert.Equal(t, http.StatusOK, code)

	code, body = h.do(http.MethodGet, "/orders/"+id, h.token("u2", auth.RoleUser), "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])

	code, _ = h.do(http.MethodGet, "/orders/"+id, h.token("ops", auth.RoleStaff), "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	owner := h.token("u1", auth.RoleUser)
	_, body := h.do(http.MethodPost, "/orders", owner, riceOrder)
	id := body["id"].(string)

	code, body := h.do(http.MethodPost, "/orders/"+id+"/cancel", h.token("u2", auth.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", body["error"])

	code, body = h.do(http.MethodPost, "/orders/"+id+"/cancel", owner, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, 5, h.units("rice", "5kg"))

	code, body = h.do(http.MethodPost, "/orders/"+id+"/cancel", owner, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, "cancelled", body["current_status"])
	assert.Equal(t, 5, h.units("rice", "5kg"))
}

func TestUpdateStatusRequiresStaff(t *testing.T) {
	h := newHarness(t)
	_, body := h.do(http.MethodPost, "/orders", h.token("u1", auth.RoleUser), riceOrder)
	id := body["id"].(string)
	staff := h.token("ops", auth.RoleStaff)

	code, _ := h.do(http.MethodPatch, "/orders/"+id+"/status", h.token("u1", auth.RoleUser), `{"status":"processing"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.do(http.MethodPatch, "/orders/"+id+"/status", staff, `{"status":"teleported"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", body["error"])

	code, body = h.do(http.MethodPatch, "/orders/"+id+"/status", staff, `{"status":"delivered"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "placed", body["current_status"])
	assert.Equal(t, "delivered", body["requested_status"])

	code, body = h.do(http.MethodPatch, "/orders/"+id+"/status", staff, `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "processing", body["status"])

	code, _ = h.do(http.MethodPatch, "/orders/missing/status", staff, `{"status":"processing"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListRestocks(t *testing.T) {
	h := newHarness(t)
	owner := h.token("u1", auth.RoleUser)
	_, body := h.do(http.MethodPost, "/orders", owner, riceOrder)
	id := body["id"].(string)
	h.do(http.MethodPost, "/orders/"+id+"/cancel", owner, "")

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/orders/"+id+"/restocks", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.token("ops", auth.RoleStaff))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []orders.RestockEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OK)
	assert.Equal(t, 3, entries[0].Quantity)
}

func TestStockEndpoints(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodGet, "/stock/rice/5kg", h.token("u1", auth.RoleUser), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(5), body["units_in_stock"])
	assert.Equal(t, true, body["in_stock"])

	code, _ = h.do(http.MethodPut, "/stock/dal/1kg", h.token("ops", auth.RoleStaff), `{"units_in_stock":4}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.do(http.MethodPut, "/stock/dal/1kg", h.token("root", auth.RoleAdmin), `{"units_in_stock":4}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(4), body["units_in_stock"])
	assert.Equal(t, 4, h.units("dal", "1kg"))

	code, _ = h.do(http.MethodPut, "/stock/dal/1kg", h.token("root", auth.RoleAdmin), `{"units_in_stock":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodGet, "/stock/none/x", h.token("u1", auth.RoleUser), "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "stock_not_found", body["error"])
}

type flakyCache struct {
	mu          sync.Mutex
	orders      map[string]orders.Order
	failPuts    bool
	missReads   bool
	invalidated []string
}

func (c *flakyCache) Get(_ context.Context, id string) (orders.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missReads {
		return orders.Order{}, false, nil
	}
	o, ok := c.orders[id]
	return o, ok, nil
}

func (c *flakyCache) Add(_ context.Context, o orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[o.ID]; !ok {
		c.orders[o.ID] = o
	}
	return nil
}

func (c *flakyCache) Put(_ context.Context, o orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPuts {
		return errors.New("cache unavailable")
	}
	c.orders[o.ID] = o
	return nil
}

func (c *flakyCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestOrderCacheIsRefreshedOrDropped(t *testing.T) {
	cache := &flakyCache{orders: map[string]orders.Order{}}
	h := newHarnessWithCache(t, cache)
	owner := h.token("u1", auth.RoleUser)

	_, body := h.do(http.MethodPost, "/orders", owner, riceOrder)
	id := body["id"].(string)
	cached, ok, _ := cache.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPlaced, cached.Status)

	cache.mu.Lock()
	cache.failPuts = true
	cache.mu.Unlock()

	code, _ := h.do(http.MethodPost, "/orders/"+id+"/cancel", owner, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{id}, cache.invalidated)

	code, body = h.do(http.MethodGet, "/orders/"+id, owner, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])
}

func TestOrderReadDoesNotOverwriteNewerCacheEntry(t *testing.T) {
	cache := &flakyCache{orders: map[string]orders.Order{}}
	h := newHarnessWithCache(t, cache)
	owner := h.token("u1", auth.RoleUser)

	_, body := h.do(http.MethodPost, "/orders", owner, riceOrder)
	id := body["id"].(string)

	// a cancel stored its document after this reader loaded the placed order
	cache.mu.Lock()
	newer := cache.orders[id]
	newer.Status = orders.StatusCancelled
	cache.orders[id] = newer
	cache.missReads = true
	cache.mu.Unlock()

	code, body := h.do(http.MethodGet, "/orders/"+id, owner, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "placed", body["status"])

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, orders.StatusCancelled, cache.orders[id].Status)
}

func TestOrderReadFillsEmptyCache(t *testing.T) {
	cache := &flakyCache{orders: map[string]orders.Order{}}
	h := newHarnessWithCache(t, cache)
	owner := h.token("u1", auth.RoleUser)

	_, body := h.do(http.MethodPost, "/orders", owner, riceOrder)
	id := body["id"].(string)
	require.NoError(t, cache.Invalidate(context.Background(), id))

	code, _ := h.do(http.MethodGet, "/orders/"+id, owner, "")
	require.Equal(t, http.StatusOK, code)
	cached, ok, _ := cache.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPlaced, cached.Status)
}
