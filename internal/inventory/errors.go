package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrStockNotFound indicates no stock record exists for the variant.
	ErrStockNotFound = errors.New("inventory: variant stock not found")
	// ErrInsufficientStock indicates a reservation exceeds the units on hand.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrConcurrentConflict indicates an adjustment lost every optimistic retry.
	ErrConcurrentConflict = errors.New("inventory: concurrent update conflict")
	// ErrInvalidQuantity indicates a non-positive line quantity or negative stock level.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
)

// ItemError ties a failure to the line that caused it.
type ItemError struct {
	Index     int
	Line      Line
	Available int
	Err       error
}

func (e *ItemError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("inventory: line %d (%s/%s qty %d): %v",
		e.Index, e.Line.ProductID, e.Line.VariantID, e.Line.Quantity, e.Err)
}

func (e *ItemError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PartialReleaseError lists every line a release could not restock.
type PartialReleaseError struct {
	Failures []ItemError
}

func (e *PartialReleaseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("inventory: release failed for %d line(s)", len(e.Failures))
}

func (e *PartialReleaseError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Failures))
	for i := range e.Failures {
		out = append(out, &e.Failures[i])
	}
	return out
}
