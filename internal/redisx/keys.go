package redisx

import "time"

const (
	// Variant stock hash: stock:{product_id}:{variant_id}
	KeyStock = "stock:%s:%s"

	// Cached order document: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Dedup of event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
