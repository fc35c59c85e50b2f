package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultCompensationTimeout = 10 * time.Second

// Ledger applies reserve/release rules on top of a Store. It is the only
// writer of stock counts.
type Ledger struct {
	store   Store
	logger  *zap.Logger
	timeout time.Duration
}

type LedgerOption func(*Ledger)

func WithLogger(logger *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithCompensationTimeout bounds rollback and release runs, which ignore caller cancellation.
func WithCompensationTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:   store,
		logger:  zap.NewNop(),
		timeout: defaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stock returns the current record for a variant.
func (l *Ledger) Stock(ctx context.Context, key VariantKey) (VariantStock, error) {
	return l.store.Get(ctx, key)
}

// Seed creates or overwrites a stock record on behalf of the catalog.
func (l *Ledger) Seed(ctx context.Context, stock VariantStock) (VariantStock, error) {
	if stock.ProductID == "" || stock.VariantID == "" {
		return VariantStock{}, fmt.Errorf("%w: product and variant ids are required", ErrInvalidQuantity)
	}
	return l.store.Put(ctx, stock)
}

// ReserveAll decrements every line in order. The first failure stops forward
// progress and every line reserved so far is credited back before returning,
// even if ctx has been cancelled in the meantime. The returned error is an
// *ItemError naming the failing line.
//
// Each decrement runs detached from ctx: a client that gives up after the
// server applied the write would otherwise leave a decrement nobody credits
// back. Cancellation is honoured between lines instead.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	for i, line := range lines {
		if line.Quantity <= 0 {
			return &ItemError{Index: i, Line: line, Err: ErrInvalidQuantity}
		}
	}

	reserved := make([]Line, 0, len(lines))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			l.rollback(ctx, reserved)
			return &ItemError{Index: i, Line: line, Err: err}
		}
		stock, err := l.adjust(ctx, line.Key(), -line.Quantity)
		if err != nil {
			l.rollback(ctx, reserved)
			ie := &ItemError{Index: i, Line: line, Err: err}
			if stock.Key() == line.Key() {
				ie.Available = stock.UnitsInStock
			}
			return ie
		}
		reserved = append(reserved, line)
	}
	return nil
}

func (l *Ledger) adjust(ctx context.Context, key VariantKey, delta int) (VariantStock, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	return l.store.Adjust(actx, key, delta)
}

func (l *Ledger) rollback(ctx context.Context, reserved []Line) {
	if len(reserved) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if _, err := l.store.Adjust(rctx, line.Key(), line.Quantity); err != nil {
			l.logger.Error("inventory rollback failed",
				zap.String("product_id", line.ProductID),
				zap.String("variant_id", line.VariantID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

// ReleaseAll credits every line independently. A failing line never blocks
// the others; all failures come back together as a *PartialReleaseError.
// ReleaseAll does not deduplicate: callers must invoke it at most once per
// reservation.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []Line) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	var failures []ItemError
	for i, line := range lines {
		if line.Quantity <= 0 {
			failures = append(failures, ItemError{Index: i, Line: line, Err: ErrInvalidQuantity})
			continue
		}
		if _, err := l.store.Adjust(rctx, line.Key(), line.Quantity); err != nil {
			failures = append(failures, ItemError{Index: i, Line: line, Err: err})
		}
	}
	if len(failures) > 0 {
		return &PartialReleaseError{Failures: failures}
	}
	return nil
}
