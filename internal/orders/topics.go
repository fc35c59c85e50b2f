package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicRestockFailed      = "order.restock.failed"
)

// Partition key = order id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
