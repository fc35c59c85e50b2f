package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/logging"
)

const (
	defaultReleaseTimeout = 10 * time.Second
	maxStatusAttempts     = 5
)

// StockLedger reserves and releases order lines.
type StockLedger interface {
	ReserveAll(ctx context.Context, lines []inventory.Line) error
	ReleaseAll(ctx context.Context, lines []inventory.Line) error
}

// Publisher hands an event to the message bus without blocking on delivery.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type ServiceDeps struct {
	Orders         Store
	Ledger         StockLedger
	Events         Publisher
	Logger         *zap.Logger
	Clock          func() time.Time
	IDGenerator    func() string
	ServiceName    string
	ReleaseTimeout time.Duration
}

// Service owns the order lifecycle. It is the only writer of orders and
// the only caller of the stock ledger.
type Service struct {
	orders         Store
	ledger         StockLedger
	events         Publisher
	logger         *zap.Logger
	clock          func() time.Time
	newID          func() string
	name           string
	releaseTimeout time.Duration
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order store is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: stock ledger is required")
	}
	s := &Service{
		orders:         deps.Orders,
		ledger:         deps.Ledger,
		events:         deps.Events,
		logger:         deps.Logger,
		clock:          deps.Clock,
		newID:          deps.IDGenerator,
		name:           deps.ServiceName,
		releaseTimeout: deps.ReleaseTimeout,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.name == "" {
		s.name = "order-api"
	}
	if s.releaseTimeout <= 0 {
		s.releaseTimeout = defaultReleaseTimeout
	}
	return s, nil
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) log(ctx context.Context) *zap.Logger {
	if l := logging.FromContext(ctx); l != logging.Nop() {
		return l
	}
	return s.logger
}

func validateCreate(in CreateOrderInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return validationError("user id is required")
	}
	if len(in.Items) == 0 {
		return validationError("order must contain at least one item")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" || strings.TrimSpace(it.VariantID) == "" {
			return validationError("item %d: product_id and variant_id are required", i)
		}
		if it.Quantity <= 0 {
			return validationError("item %d: quantity must be positive, got %d", i, it.Quantity)
		}
		if it.UnitPrice.IsNegative() {
			return validationError("item %d: unit price must not be negative", i)
		}
		if !isMoney(it.UnitPrice) {
			return validationError("item %d: unit price has more than %d decimal places", i, moneyPlaces)
		}
	}
	a := in.Amounts
	if a.Subtotal.IsNegative() || a.Tax.IsNegative() || a.ShippingFee.IsNegative() || a.TotalAmount.IsNegative() {
		return validationError("amounts must not be negative")
	}
	if !isMoney(a.Subtotal) || !isMoney(a.Tax) || !isMoney(a.ShippingFee) || !isMoney(a.TotalAmount) {
		return validationError("amounts must have at most %d decimal places", moneyPlaces)
	}
	return nil
}

// moneyPlaces matches the scale of the NUMERIC(14,2) money columns, which
// would otherwise round extra digits away on insert.
const moneyPlaces = 2

func isMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyPlaces))
}

// CreateOrder reserves stock for every item and then persists the order as
// placed. A reservation failure is returned unchanged with nothing persisted.
// With an idempotency key, a repeated request returns the original order and
// existing=true without touching stock.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (order Order, existing bool, err error) {
	if err := validateCreate(in); err != nil {
		return Order{}, false, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		prev, err := s.orders.FindByExternalID(ctx, in.UserID, key)
		if err == nil {
			return prev, true, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return Order{}, false, err
		}
	}

	items := append([]Item(nil), in.Items...)
	if err := s.ledger.ReserveAll(ctx, lines(items)); err != nil {
		return Order{}, false, err
	}

	now := s.now()
	order = Order{
		ID:          s.newID(),
		UserID:      in.UserID,
		ExternalID:  key,
		Items:       items,
		Status:      StatusPlaced,
		Subtotal:    in.Amounts.Subtotal,
		Tax:         in.Amounts.Tax,
		ShippingFee: in.Amounts.ShippingFee,
		TotalAmount: in.Amounts.TotalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	saved, err := s.orders.Create(ctx, order)
	if err != nil && !errors.Is(err, ErrDuplicateOrder) {
		saved, err = s.confirmCreate(ctx, order, err)
		if errors.Is(err, errOutcomeUnknown) {
			return Order{}, false, err
		}
	}
	if err != nil {
		// the reservation belongs to no order: give it back
		s.compensate(ctx, order)
		if errors.Is(err, ErrDuplicateOrder) {
			prev, ferr := s.orders.FindByExternalID(context.WithoutCancel(ctx), in.UserID, key)
			if ferr != nil {
				return Order{}, false, ferr
			}
			return prev, true, nil
		}
		return Order{}, false, fmt.Errorf("persist order: %w", err)
	}

	s.log(ctx).Info("order placed",
		zap.String("order_id", saved.ID),
		zap.String("user_id", saved.UserID),
		zap.Int("items", len(saved.Items)),
	)
	s.publish(ctx, TopicOrderPlaced, EventOrderPlaced, saved.ID, OrderPlacedPayload{
		OrderID:     saved.ID,
		UserID:      saved.UserID,
		Items:       itemQtys(saved.Items),
		TotalAmount: saved.TotalAmount,
	})
	return saved, false, nil
}

// errOutcomeUnknown marks a write whose effect could not be confirmed either way.
var errOutcomeUnknown = errors.New("orders: write outcome unknown")

// confirmCreate decides what a failed Create really did. The commit may have
// landed even though the call reported an error; releasing the reservation of
// a stored order would credit its stock twice.
func (s *Service) confirmCreate(ctx context.Context, order Order, createErr error) (Order, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()

	stored, err := s.orders.Get(rctx, order.ID)
	switch {
	case err == nil:
		s.log(ctx).Warn("order persisted despite create error",
			zap.String("order_id", order.ID),
			zap.NamedError("create_error", createErr),
		)
		return stored, nil
	case errors.Is(err, ErrOrderNotFound):
		return Order{}, createErr
	default:
		// neither release nor keep is safe: leave it to an operator
		s.log(ctx).Error("order create outcome unknown, reservation kept",
			zap.String("order_id", order.ID),
			zap.Any("items", itemQtys(order.Items)),
			zap.NamedError("create_error", createErr),
			zap.Error(err),
		)
		return Order{}, fmt.Errorf("%w: order %s: %v", errOutcomeUnknown, order.ID, createErr)
	}
}

func (s *Service) compensate(ctx context.Context, order Order) {
	if err := s.ledger.ReleaseAll(ctx, lines(order.Items)); err != nil {
		s.log(ctx).Error("release of unpersisted reservation failed",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.orders.Get(ctx, orderID)
}

func (s *Service) Restocks(ctx context.Context, orderID string) ([]RestockEntry, error) {
	return s.orders.ListRestocks(ctx, orderID)
}

// UpdateStatus moves an order along the status graph. Entering cancelled or
// returned restocks every item once; per-item restock failures are logged and
// recorded but never block the transition.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (Order, error) {
	return s.transition(ctx, orderID, to, nil)
}

// CancelByUser cancels an order on behalf of its owner, only from placed or processing.
func (s *Service) CancelByUser(ctx context.Context, userID, orderID string) (Order, error) {
	return s.transition(ctx, orderID, StatusCancelled, func(o Order) error {
		if o.UserID != userID {
			return fmt.Errorf("%w: order %s", ErrUnauthorized, orderID)
		}
		if !userCancellable[o.Status] {
			return &TransitionError{From: o.Status, To: StatusCancelled}
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, orderID string, to Status, guard func(Order) error) (Order, error) {
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return Order{}, err
		}
		if guard != nil {
			if err := guard(order); err != nil {
				return Order{}, err
			}
		}
		release, err := ValidateTransition(order.Status, to)
		if err != nil {
			return Order{}, err
		}

		// The status write is a compare-and-set on the status we validated,
		// so of two racing transitions only one commits and restocks.
		at := s.now().Truncate(time.Microsecond)
		updated, err := s.writeStatus(ctx, order, to, at)
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			return Order{}, err
		}

		if release {
			s.restock(ctx, updated)
		}
		s.log(ctx).Info("order status changed",
			zap.String("order_id", orderID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(to)),
		)
		s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
			OrderID:   orderID,
			UserID:    updated.UserID,
			From:      order.Status,
			To:        to,
			Restocked: release,
		})
		return updated, nil
	}
	return Order{}, fmt.Errorf("%w: order %s after %d attempts", ErrStatusConflict, orderID, maxStatusAttempts)
}

// writeStatus runs the compare-and-set detached from ctx. When it fails for
// any reason other than a conflict, the order is read back: a write that
// landed must still be followed by its restock, or the stock is gone for good
// because the terminal status rejects every retry.
func (s *Service) writeStatus(ctx context.Context, order Order, to Status, at time.Time) (Order, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()

	updated, err := s.orders.UpdateStatus(wctx, order.ID, order.Status, to, at)
	if err == nil || errors.Is(err, ErrStatusConflict) {
		return updated, err
	}
	stored, gerr := s.orders.Get(wctx, order.ID)
	if gerr != nil {
		s.log(ctx).Error("status write outcome unknown",
			zap.String("order_id", order.ID),
			zap.String("to", string(to)),
			zap.NamedError("write_error", err),
			zap.Error(gerr),
		)
		return Order{}, err
	}
	// the timestamp tells our write apart from a concurrent one to the same status
	if stored.Status == to && stored.UpdatedAt.Equal(at) {
		s.log(ctx).Warn("status write landed despite error",
			zap.String("order_id", order.ID),
			zap.NamedError("write_error", err),
		)
		return stored, nil
	}
	if stored.Status != order.Status {
		return Order{}, fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, order.ID, stored.Status, order.Status)
	}
	return Order{}, err
}

func (s *Service) restock(ctx context.Context, order Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()

	failures := s.release(ctx, order, allLines(order.Items), RestockSourceTransition)
	if len(failures) == 0 {
		return
	}
	s.publish(ctx, TopicRestockFailed, EventRestockFailed, order.ID, RestockFailedPayload{
		OrderID:  order.ID,
		Status:   order.Status,
		Failures: failures,
	})
}

func allLines(items []Item) []int {
	idx := make([]int, len(items))
	for i := range items {
		idx[i] = i
	}
	return idx
}

// release credits the given line numbers of order, records one restock
// entry per line and returns the lines that failed.
func (s *Service) release(ctx context.Context, order Order, lineNos []int, source string) []RestockFailure {
	batch := make([]inventory.Line, 0, len(lineNos))
	for _, n := range lineNos {
		batch = append(batch, order.Items[n].Line())
	}

	failed := make(map[int]error)
	if err := s.ledger.ReleaseAll(ctx, batch); err != nil {
		var partial *inventory.PartialReleaseError
		if errors.As(err, &partial) {
			for _, f := range partial.Failures {
				failed[lineNos[f.Index]] = f.Err
			}
		} else {
			for _, n := range lineNos {
				failed[n] = err
			}
		}
	}

	now := s.now()
	entries := make([]RestockEntry, 0, len(lineNos))
	var failures []RestockFailure
	for _, n := range lineNos {
		it := order.Items[n]
		entry := RestockEntry{
			OrderID:     order.ID,
			LineNo:      n,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			Quantity:    it.Quantity,
			OK:          true,
			Source:      source,
			AttemptedAt: now,
		}
		if ferr, ok := failed[n]; ok {
			entry.OK = false
			entry.Error = ferr.Error()
			failures = append(failures, RestockFailure{
				LineNo:    n,
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Quantity:  it.Quantity,
				Reason:    ferr.Error(),
			})
			s.log(ctx).Error("restock failed",
				zap.String("order_id", order.ID),
				zap.String("product_id", it.ProductID),
				zap.String("variant_id", it.VariantID),
				zap.Int("quantity", it.Quantity),
				zap.String("source", source),
				zap.Error(ferr),
			)
		}
		entries = append(entries, entry)
	}
	if err := s.orders.AppendRestocks(ctx, entries); err != nil {
		s.log(ctx).Error("record restock log", zap.String("order_id", order.ID), zap.Error(err))
	}
	return failures
}

// RetryRestock re-attempts release of lines that failed during a releasing
// transition and returns those that still fail. Each failure must match the
// stored order line exactly; anything else is ignored.
func (s *Service) RetryRestock(ctx context.Context, orderID string, failures []RestockFailure) ([]RestockFailure, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusCancelled && order.Status != StatusReturned {
		return nil, &TransitionError{From: order.Status, To: StatusCancelled}
	}

	seen := make(map[int]bool)
	var lineNos []int
	for _, f := range failures {
		if f.LineNo < 0 || f.LineNo >= len(order.Items) || seen[f.LineNo] {
			continue
		}
		it := order.Items[f.LineNo]
		if it.ProductID != f.ProductID || it.VariantID != f.VariantID || it.Quantity != f.Quantity {
			s.log(ctx).Warn("restock retry does not match order line",
				zap.String("order_id", orderID),
				zap.Int("line_no", f.LineNo),
			)
			continue
		}
		seen[f.LineNo] = true
		lineNos = append(lineNos, f.LineNo)
	}
	if len(lineNos) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()
	return s.release(ctx, order, lineNos, RestockSourceRetry), nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.events == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.name,
		TraceID:       logging.RequestID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.events.Publish(topic, PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
