package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/logging"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("forbidden")
	errBadRequest      = errors.New("bad request")
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps an error onto the JSON error envelope and its HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	message := err.Error()
	body := map[string]any{}

	var item *inventory.ItemError
	var transition *orders.TransitionError
	switch {
	case errors.Is(err, errUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errForbidden), errors.Is(err, orders.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, errBadRequest), errors.Is(err, orders.ErrValidation), errors.Is(err, inventory.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, inventory.ErrInsufficientStock):
		status, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, inventory.ErrStockNotFound):
		status, code = http.StatusNotFound, "stock_not_found"
	case errors.Is(err, orders.ErrOrderNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrStatusConflict), errors.Is(err, inventory.ErrConcurrentConflict):
		status, code = http.StatusConflict, "conflict"
	default:
		message = "internal error"
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}

	if errors.As(err, &item) {
		body["product_id"] = item.Line.ProductID
		body["variant_id"] = item.Line.VariantID
		body["requested"] = item.Line.Quantity
		if errors.Is(err, inventory.ErrInsufficientStock) {
			body["available"] = item.Available
		}
	}
	if errors.As(err, &transition) {
		body["current_status"] = transition.From
		body["requested_status"] = transition.To
	}

	body["error"] = code
	body["message"] = message
	body["status"] = status
	if id := middleware.GetReqID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}
