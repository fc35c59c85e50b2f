package orders

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type externalKey struct{ userID, externalID string }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]Order
	external map[externalKey]string
	restocks map[string][]RestockEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]Order),
		external: make(map[externalKey]string),
		restocks: make(map[string][]RestockEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context, order Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return Order{}, fmt.Errorf("orders: id %s already exists", order.ID)
	}
	if order.ExternalID != "" {
		k := externalKey{order.UserID, order.ExternalID}
		if _, ok := m.external[k]; ok {
			return Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ExternalID)
		}
		m.external[k] = order.ID
	}
	m.orders[order.ID] = order.clone()
	return order.clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return o.clone(), nil
}

func (m *MemoryStore) FindByExternalID(ctx context.Context, userID, externalID string) (Order, error) {
	m.mu.RLock()
	id, ok := m.external[externalKey{userID, externalID}]
	m.mu.RUnlock()
	if !ok {
		return Order{}, fmt.Errorf("%w: external id %s", ErrOrderNotFound, externalID)
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, at time.Time) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if o.Status != from {
		return Order{}, fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, o.Status, from)
	}
	o.Status = to
	o.UpdatedAt = at
	m.orders[id] = o
	return o.clone(), nil
}

func (m *MemoryStore) AppendRestocks(_ context.Context, entries []RestockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.restocks[e.OrderID] = append(m.restocks[e.OrderID], e)
	}
	return nil
}

func (m *MemoryStore) ListRestocks(_ context.Context, orderID string) ([]RestockEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.orders[orderID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return append([]RestockEntry(nil), m.restocks[orderID]...), nil
}
