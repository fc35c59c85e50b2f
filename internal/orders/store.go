package orders

import (
	"context"
	"time"
)

// Store persists order documents. Only Service writes through it.
type Store interface {
	// Create fails with ErrDuplicateOrder when (UserID, ExternalID) is taken.
	Create(ctx context.Context, order Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	FindByExternalID(ctx context.Context, userID, externalID string) (Order, error)
	// UpdateStatus moves the order from -> to and fails with
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (Order, error)
	AppendRestocks(ctx context.Context, entries []RestockEntry) error
	ListRestocks(ctx context.Context, orderID string) ([]RestockEntry, error)
}
