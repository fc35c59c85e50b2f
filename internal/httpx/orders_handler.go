package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/auth"
	"github.com/ariefcatur/go-retail-orders/internal/logging"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// OrderCache is an optional read-through cache for GET /orders/{id}.
type OrderCache interface {
	Get(ctx context.Context, id string) (orders.Order, bool, error)
	Put(ctx context.Context, o orders.Order) error
	// Add stores o only if the id is not cached yet.
	Add(ctx context.Context, o orders.Order) error
	Invalidate(ctx context.Context, id string) error
}

type OrdersHandler struct {
	Service *orders.Service
	Cache   OrderCache
}

type CreateOrderReq struct {
	ExternalID  string          `json:"external_id"`
	Items       []orders.Item   `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.With(RequireStaff).Patch("/orders/{id}/status", h.updateStatus)
	r.With(RequireStaff).Get("/orders/{id}/restocks", h.listRestocks)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req CreateOrderReq
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = req.ExternalID
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, existed, err := h.Service.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:         id.UserID,
		IdempotencyKey: key,
		Items:          req.Items,
		Amounts: orders.Amounts{
			Subtotal:    req.Subtotal,
			Tax:         req.Tax,
			ShippingFee: req.ShippingFee,
			TotalAmount: req.TotalAmount,
		},
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.cache(ctx, order)

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, order)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, ok := h.cached(ctx, orderID)
	if !ok {
		var err error
		order, err = h.Service.GetOrder(ctx, orderID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		h.fill(ctx, order)
	}
	if order.UserID != id.UserID && !id.IsStaff() {
		// same answer as a missing order so ids cannot be enumerated
		WriteError(w, r, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Service.UpdateStatus(ctx, chi.URLParam(r, "id"), status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.cache(ctx, order)
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Service.CancelByUser(ctx, id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.cache(ctx, order)
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) listRestocks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.Restocks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []orders.RestockEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *OrdersHandler) cached(ctx context.Context, orderID string) (orders.Order, bool) {
	if h.Cache == nil {
		return orders.Order{}, false
	}
	o, ok, err := h.Cache.Get(ctx, orderID)
	if err != nil {
		logging.FromContext(ctx).Warn("order cache read", zap.String("order_id", orderID), zap.Error(err))
		return orders.Order{}, false
	}
	return o, ok
}

// fill populates a cache miss without overwriting an entry a status change
// stored after this read hit the database.
func (h *OrdersHandler) fill(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Add(ctx, o); err != nil {
		logging.FromContext(ctx).Warn("order cache fill", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) cache(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Put(ctx, o); err != nil {
		logging.FromContext(ctx).Warn("order cache write", zap.String("order_id", o.ID), zap.Error(err))
		// a stale status must not outlive a failed refresh
		if err := h.Cache.Invalidate(ctx, o.ID); err != nil {
			logging.FromContext(ctx).Warn("order cache invalidate", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}
