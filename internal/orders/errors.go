package orders

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("orders: validation failed")
	ErrOrderNotFound     = errors.New("orders: order not found")
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	ErrUnauthorized      = errors.New("orders: not allowed for this user")
	// ErrStatusConflict means the stored status changed between read and write.
	ErrStatusConflict = errors.New("orders: status changed concurrently")
	// ErrDuplicateOrder means an order with the same user and external id exists.
	ErrDuplicateOrder = errors.New("orders: duplicate external id")
)

// TransitionError names the rejected status pair.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("orders: cannot move from %q to %q", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
