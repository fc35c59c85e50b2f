package inventory

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps stock records in process. Every record is an immutable
// snapshot behind an atomic pointer; Adjust is a compare-and-swap loop, so
// concurrent writers on one key never overwrite each other and writers on
// different keys never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[VariantKey]*atomic.Pointer[VariantStock]

	clock       func() time.Time
	maxAttempts int

	// beforeSwap runs between load and CAS; tests use it to force conflicts.
	beforeSwap func(VariantKey)
}

type MemoryOption func(*MemoryStore)

func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMaxAttempts bounds the CAS retries of Adjust. Zero or less retries until success.
func WithMaxAttempts(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxAttempts = n }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[VariantKey]*atomic.Pointer[VariantStock]),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) now() time.Time { return s.clock().UTC() }

func (s *MemoryStore) lookup(key VariantKey) (*atomic.Pointer[VariantStock], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[key]
	return p, ok
}

func (s *MemoryStore) Get(_ context.Context, key VariantKey) (VariantStock, error) {
	p, ok := s.lookup(key)
	if !ok {
		return VariantStock{}, fmt.Errorf("%w: %s", ErrStockNotFound, key)
	}
	return *p.Load(), nil
}

func (s *MemoryStore) Put(_ context.Context, stock VariantStock) (VariantStock, error) {
	if stock.UnitsInStock < 0 {
		return VariantStock{}, fmt.Errorf("%w: %s units %d", ErrInvalidQuantity, stock.Key(), stock.UnitsInStock)
	}
	rec := stock.WithUnits(stock.UnitsInStock, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[rec.Key()]
	if !ok {
		p = new(atomic.Pointer[VariantStock])
		s.records[rec.Key()] = p
	}
	p.Store(&rec)
	return rec, nil
}

func (s *MemoryStore) Adjust(ctx context.Context, key VariantKey, delta int) (VariantStock, error) {
	p, ok := s.lookup(key)
	if !ok {
		return VariantStock{}, fmt.Errorf("%w: %s", ErrStockNotFound, key)
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return VariantStock{}, err
		}
		cur := p.Load()
		units := cur.UnitsInStock + delta
		if delta < 0 && units < 0 {
			return *cur, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, key, cur.UnitsInStock, -delta)
		}
		next := cur.WithUnits(units, s.now())
		if s.beforeSwap != nil {
			s.beforeSwap(key)
		}
		if p.CompareAndSwap(cur, &next) {
			return next, nil
		}
		if s.maxAttempts > 0 && attempt >= s.maxAttempts {
			return *p.Load(), fmt.Errorf("%w: %s after %d attempts", ErrConcurrentConflict, key, attempt)
		}
		runtime.Gosched()
	}
}
