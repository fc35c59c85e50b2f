package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
)

type StockHandler struct {
	Ledger *inventory.Ledger
}

type PutStockReq struct {
	UnitsInStock int `json:"units_in_stock"`
}

func (h *StockHandler) Register(r chi.Router) {
	r.Get("/stock/{productID}/{variantID}", h.getStock)
	r.With(RequireAdmin).Put("/stock/{productID}/{variantID}", h.putStock)
}

func variantKey(r *http.Request) inventory.VariantKey {
	return inventory.VariantKey{
		ProductID: chi.URLParam(r, "productID"),
		VariantID: chi.URLParam(r, "variantID"),
	}
}

func (h *StockHandler) getStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.Ledger.Stock(r.Context(), variantKey(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (h *StockHandler) putStock(w http.ResponseWriter, r *http.Request) {
	var req PutStockReq
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	key := variantKey(r)
	stock, err := h.Ledger.Seed(r.Context(), inventory.VariantStock{
		ProductID:    key.ProductID,
		VariantID:    key.VariantID,
		UnitsInStock: req.UnitsInStock,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}
