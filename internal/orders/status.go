package orders

import "fmt"

type Status string

const (
	StatusPlaced     Status = "placed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// validNext maps each status to its allowed successors; the value says
// whether entering that successor restocks the order's items.
var validNext = map[Status]map[Status]bool{
	StatusPlaced:     {StatusProcessing: false, StatusCancelled: true},
	StatusProcessing: {StatusShipped: false, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: false, StatusReturned: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
	StatusReturned:   {},
}

// statuses a shopper may cancel from
var userCancellable = map[Status]bool{
	StatusPlaced:     true,
	StatusProcessing: true,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func CanTransition(from, to Status) bool {
	_, ok := validNext[from][to]
	return ok
}

// ValidateTransition reports whether from -> to is allowed and whether it
// must release the order's stock. Terminal statuses accept nothing, which is
// what keeps a second cancellation from restocking twice.
func ValidateTransition(from, to Status) (releaseRequired bool, err error) {
	release, ok := validNext[from][to]
	if !ok {
		return false, &TransitionError{From: from, To: to}
	}
	return release, nil
}
