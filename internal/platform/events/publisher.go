package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skyfield-eats/api/internal/platform/requestctx"
	"github.com/skyfield-eats/api/internal/services"
)

// LogOrderEventPublisher emits order domain events to the structured log
// stream. Downstream consumers tail the log pipeline instead of a broker.
type LogOrderEventPublisher struct {
	logger  *zap.Logger
	marshal func(any) ([]byte, error)
}

// NewLogOrderEventPublisher constructs a log backed order event publisher.
func NewLogOrderEventPublisher(logger *zap.Logger) (*LogOrderEventPublisher, error) {
	if logger == nil {
		return nil, errors.New("order event publisher: logger is required")
	}
	return &LogOrderEventPublisher{
		logger:  logger,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent writes the event as a structured log record.
func (p *LogOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.logger == nil {
		return errors.New("order event publisher: not initialised")
	}

	logger := requestctx.Logger(ctx)
	if logger == requestctx.NoopLogger() {
		logger = p.logger
	}

	payload, err := p.marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal order event metadata: %w", err)
	}

	logger.Info("order.event",
		zap.String("event_type", event.Type),
		zap.String("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("previous_status", event.PreviousStatus),
		zap.String("current_status", event.CurrentStatus),
		zap.String("actor_id", event.ActorID),
		zap.Time("occurred_at", event.OccurredAt),
		zap.ByteString("metadata", payload),
	)
	return nil
}
