package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
)

type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ExternalID  string          `json:"external_id,omitempty"`
	Items       []Item          `json:"items"`
	Status      Status          `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Item is one order line. Quantity is exactly what was reserved at creation
// and is what gets replayed on release.
type Item struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (it Item) Line() inventory.Line {
	return inventory.Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity}
}

func lines(items []Item) []inventory.Line {
	out := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		out = append(out, it.Line())
	}
	return out
}

func (o Order) clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}

// Amounts are computed upstream and stored verbatim.
type Amounts struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type CreateOrderInput struct {
	UserID         string
	IdempotencyKey string
	Items          []Item
	Amounts        Amounts
}

// RestockEntry records one release attempt for one order line.
type RestockEntry struct {
	OrderID     string    `json:"order_id"`
	LineNo      int       `json:"line_no"`
	ProductID   string    `json:"product_id"`
	VariantID   string    `json:"variant_id"`
	Quantity    int       `json:"quantity"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	Source      string    `json:"source"`
	AttemptedAt time.Time `json:"attempted_at"`
}

const (
	RestockSourceTransition = "transition"
	RestockSourceRetry      = "retry"
)
