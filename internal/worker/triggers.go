package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cogivn/daisy-flower-sub000/internal/broker"
	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/service"
	"github.com/cogivn/daisy-flower-sub000/internal/store"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventLog remembers which trigger events were already handled.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// OrderReader loads the order a trigger refers to.
type OrderReader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
}

// TriggerWorker consumes persistence write events and runs the pricing
// pipeline and the ledger for them.
type TriggerWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	events   EventLog
	orders   OrderReader
	carts    *service.CartService
	ledger   *service.LedgerService
	logger   *zap.Logger
}

// NewTriggerWorker creates a new trigger worker. consumer may be nil when
// messages are fed through HandleMessage directly.
func NewTriggerWorker(
	consumer *broker.Consumer,
	events EventLog,
	orders OrderReader,
	carts *service.CartService,
	ledger *service.LedgerService,
) *TriggerWorker {
	w := &TriggerWorker{
		consumer: consumer,
		handler:  broker.NewEventHandler(),
		events:   events,
		orders:   orders,
		carts:    carts,
		ledger:   ledger,
		logger:   util.Component("trigger-worker"),
	}

	w.handler.OnCartWritten(w.handleCartWritten)
	w.handler.OnOrderCreated(w.handleOrderCreated)
	w.handler.OnOrderStatusChanged(w.handleOrderStatusChanged)
	w.handler.OnLevelSettingsWritten(w.handleLevelSettingsWritten)
	return w
}

// Start starts the worker
func (w *TriggerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting trigger worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *TriggerWorker) Stop() error {
	w.logger.Info("Stopping trigger worker")
	return w.consumer.Close()
}

// HandleMessage decodes and dispatches one trigger message.
func (w *TriggerWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.handler.HandleMessage(ctx, msg)
}

// once runs fn unless the event was already handled or carries the skip
// flag for this trigger. The event is marked only after fn succeeds, so a
// failed run is retried on redelivery.
func (w *TriggerWorker) once(ctx context.Context, base models.BaseEvent, skip bool, fn func(context.Context) error) error {
	if skip {
		util.TriggerEventsTotal.WithLabelValues(base.EventType, "skipped").Inc()
		return nil
	}

	if base.EventID != "" {
		done, err := w.events.IsEventProcessed(ctx, base.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event log: %w", err)
		}
		if done {
			util.TriggerEventsTotal.WithLabelValues(base.EventType, "duplicate").Inc()
			w.logger.Debug("Event already processed", zap.String("event_id", base.EventID))
			return nil
		}
	}

	if err := fn(ctx); err != nil {
		util.TriggerEventsTotal.WithLabelValues(base.EventType, "failed").Inc()
		return err
	}

	if base.EventID != "" {
		if err := w.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
			w.logger.Error("Failed to mark event processed",
				zap.String("event_id", base.EventID),
				zap.Error(err))
		}
	}
	util.TriggerEventsTotal.WithLabelValues(base.EventType, "handled").Inc()
	return nil
}

func (w *TriggerWorker) handleCartWritten(ctx context.Context, event *models.CartWrittenEvent) error {
	return w.once(ctx, event.BaseEvent, event.SkipRecompute, func(ctx context.Context) error {
		_, err := w.carts.Recompute(ctx, event.CartID, service.OptionsFromFlags(event.WriteFlags))
		if errors.Is(err, service.ErrCartNotFound) {
			w.logger.Warn("Cart from trigger no longer exists", zap.Int64("cart_id", event.CartID))
			return nil
		}
		return err
	})
}

func (w *TriggerWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return w.once(ctx, event.BaseEvent, event.SkipLedgerSync, func(ctx context.Context) error {
		order, err := w.loadOrder(ctx, event.Order)
		if err != nil || order == nil {
			return err
		}
		return w.ledger.OnOrderCreated(ctx, order, service.OptionsFromFlags(event.WriteFlags))
	})
}

func (w *TriggerWorker) handleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return w.once(ctx, event.BaseEvent, event.SkipLedgerSync, func(ctx context.Context) error {
		order, err := w.loadOrder(ctx, event.Order)
		if err != nil || order == nil {
			return err
		}
		if event.Status != "" {
			order.Status = event.Status
		}
		return w.ledger.OnOrderStatusChanged(ctx, order, event.PreviousStatus, service.OptionsFromFlags(event.WriteFlags))
	})
}

func (w *TriggerWorker) handleLevelSettingsWritten(ctx context.Context, event *models.LevelSettingsWrittenEvent) error {
	return w.once(ctx, event.BaseEvent, event.SkipLedgerSync, func(ctx context.Context) error {
		n, err := w.ledger.ResyncAllUsers(ctx)
		if err != nil {
			return err
		}
		w.logger.Info("Users resynced after level settings change", zap.Int("count", n))
		return nil
	})
}

// loadOrder reads the current order row. A nil order with a nil error
// means the order is gone and the trigger is dropped.
func (w *TriggerWorker) loadOrder(ctx context.Context, ref models.Ref[models.Order]) (*models.Order, error) {
	id, ok := ref.ID()
	if !ok {
		w.logger.Warn("Order trigger without an order reference")
		return nil, nil
	}

	order, err := w.orders.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Warn("Order from trigger no longer exists", zap.Int64("order_id", id))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return order, nil
}
