// Package auditor follows up on restocks that failed during a cancellation
// or return: it retries the failed lines once and escalates what still fails.
package auditor

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// Restocker retries failed restock lines of an order.
type Restocker interface {
	RetryRestock(ctx context.Context, orderID string, failures []orders.RestockFailure) ([]orders.RestockFailure, error)
}

// Deduper claims an event id so redeliveries are processed once.
type Deduper interface {
	FirstSeen(ctx context.Context, scope, id string) (bool, error)
}

type Service struct {
	Orders      Restocker
	Dedup       Deduper
	Logger      *zap.Logger
	ServiceName string
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// HandleRestockFailed is installed as the consumer handler for order.restock.failed.
func (s *Service) HandleRestockFailed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// a malformed message will never decode; log and let it be committed
		s.logger().Error("undecodable restock event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventRestockFailed {
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.RestockFailedPayload](env.Payload)
	if err != nil {
		s.logger().Error("undecodable restock payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	log := s.logger().With(zap.String("order_id", p.OrderID), zap.String("event_id", env.EventID))
	remaining, err := s.Orders.RetryRestock(ctx, p.OrderID, p.Failures)
	if err != nil {
		log.Error("restock retry skipped, needs operator follow-up", zap.Error(err))
		return nil
	}
	if len(remaining) == 0 {
		log.Info("restock retry succeeded", zap.Int("lines", len(p.Failures)))
		return nil
	}
	for _, f := range remaining {
		log.Error("restock still failing, needs operator follow-up",
			zap.Int("line_no", f.LineNo),
			zap.String("product_id", f.ProductID),
			zap.String("variant_id", f.VariantID),
			zap.Int("quantity", f.Quantity),
			zap.String("reason", f.Reason),
		)
	}
	return nil
}
