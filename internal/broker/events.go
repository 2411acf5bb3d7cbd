package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the part of Producer the publisher needs
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing promotion domain events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// PublishCartRepriced publishes CartRepriced event
func (ep *EventPublisher) PublishCartRepriced(ctx context.Context, event *models.CartRepricedEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("cart-%d", event.CartID), event)
}

// PublishVoucherDetached publishes VoucherDetached event
func (ep *EventPublisher) PublishVoucherDetached(ctx context.Context, event *models.VoucherDetachedEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("cart-%d", event.CartID), event)
}

// PublishVoucherUsageAdjusted publishes VoucherUsageAdjusted event
func (ep *EventPublisher) PublishVoucherUsageAdjusted(ctx context.Context, event *models.VoucherUsageAdjustedEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("voucher-%d", event.VoucherID), event)
}

// PublishUserLevelChanged publishes UserLevelChanged event
func (ep *EventPublisher) PublishUserLevelChanged(ctx context.Context, event *models.UserLevelChangedEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("user-%d", event.UserID), event)
}

// EventHandler routes persistence trigger events to registered handlers
type EventHandler struct {
	onCartWritten          func(context.Context, *models.CartWrittenEvent) error
	onOrderCreated         func(context.Context, *models.OrderCreatedEvent) error
	onOrderStatusChanged   func(context.Context, *models.OrderStatusChangedEvent) error
	onLevelSettingsWritten func(context.Context, *models.LevelSettingsWrittenEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Component("kafka.router")}
}

// OnCartWritten registers a handler for CartWritten events
func (eh *EventHandler) OnCartWritten(handler func(context.Context, *models.CartWrittenEvent) error) {
	eh.onCartWritten = handler
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// OnLevelSettingsWritten registers a handler for LevelSettingsWritten events
func (eh *EventHandler) OnLevelSettingsWritten(handler func(context.Context, *models.LevelSettingsWrittenEvent) error) {
	eh.onLevelSettingsWritten = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCartWritten:
		if eh.onCartWritten != nil {
			var event models.CartWrittenEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CartWritten event: %w", err)
			}
			return eh.onCartWritten(ctx, &event)
		}

	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCreated event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			return eh.onOrderStatusChanged(ctx, &event)
		}

	case models.EventTypeLevelSettingsWritten:
		if eh.onLevelSettingsWritten != nil {
			var event models.LevelSettingsWrittenEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LevelSettingsWritten event: %w", err)
			}
			return eh.onLevelSettingsWritten(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
