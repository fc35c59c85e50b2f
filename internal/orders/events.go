package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventRestockFailed      = "RestockFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Items       []ItemQty       `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	From      Status `json:"from"`
	To        Status `json:"to"`
	Restocked bool   `json:"restocked"`
}

// RestockFailure identifies an order line whose release failed.
type RestockFailure struct {
	LineNo    int    `json:"line_no"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type RestockFailedPayload struct {
	OrderID  string           `json:"order_id"`
	Status   Status           `json:"status"`
	Failures []RestockFailure `json:"failures"`
}

func itemQtys(items []Item) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return out
}
