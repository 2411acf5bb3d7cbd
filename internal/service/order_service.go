package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/store"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var orderStateTransitions = map[string][]string{
	models.OrderStatusProcessing: {models.OrderStatusCompleted, models.OrderStatusCancelled},
	models.OrderStatusCompleted:  {models.OrderStatusRefunded},
	models.OrderStatusRefunded:   {models.OrderStatusCompleted},
	models.OrderStatusCancelled:  {models.OrderStatusCompleted},
}

// CanTransition reports whether the order state machine allows from -> to.
func CanTransition(from, to string) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isKnownStatus(status string) bool {
	_, ok := orderStateTransitions[status]
	return ok
}

const idempotencyTTL = 24 * time.Hour

// OrderService handles order business logic
type OrderService struct {
	orders      OrderStore
	carts       *CartService
	ledger      *LedgerService
	idempotency IdempotencyGuard
	logger      *zap.Logger
}

// NewOrderService creates a new order service. idempotency may be nil.
func NewOrderService(
	orders OrderStore,
	carts *CartService,
	ledger *LedgerService,
	idempotency IdempotencyGuard,
) *OrderService {
	return &OrderService{
		orders:      orders,
		carts:       carts,
		ledger:      ledger,
		idempotency: idempotency,
		logger:      util.Component("order"),
	}
}

// OrderDetails is an order with its line items
type OrderDetails struct {
	Order *models.Order      `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// CreateFromCart converts the caller's active cart into a processing order.
// The cart is repriced one last time and its voucher and discounts are
// copied into the order. Repeating a request with the same idempotency key
// returns the original order.
func (s *OrderService) CreateFromCart(ctx context.Context, userID int64, idempotencyKey string) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateFromCart")
	defer span.End()

	if userID == 0 {
		return nil, ErrAuthenticationRequired
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, fmt.Errorf("%w: idempotency key belongs to another user", ErrDuplicateRequest)
		}
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", idempotencyKey),
			zap.Int64("order_id", existing.ID))
		return s.details(ctx, existing)
	}

	if s.idempotency != nil {
		claimed, err := s.idempotency.SetIdempotencyKey(ctx, idempotencyKey, userID, idempotencyTTL)
		if err != nil {
			s.logger.Warn("Idempotency guard unavailable", zap.Error(err))
		} else if !claimed {
			return nil, ErrDuplicateRequest
		}
	}

	order, items, err := s.placeOrder(ctx, userID, idempotencyKey)
	if err != nil {
		if s.idempotency != nil {
			if derr := s.idempotency.DeleteIdempotencyKey(ctx, idempotencyKey); derr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.Error(derr))
			}
		}
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", order.Amount),
		zap.Int64("discount_amount", order.DiscountAmount),
		zap.Int64("level_discount", order.LevelDiscount))

	if err := s.ledger.OnOrderCreated(ctx, order, WriteOptions{}); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("order %d created but ledger update failed: %w", order.ID, err)
	}

	return &OrderDetails{Order: order, Items: items}, nil
}

func (s *OrderService) placeOrder(ctx context.Context, userID int64, idempotencyKey string) (*models.Order, []models.OrderItem, error) {
	cart, err := s.carts.RecomputeActive(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(cart.Items) == 0 {
		return nil, nil, fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}

	cartID := cart.ID
	order := &models.Order{
		UserID:         userID,
		CartID:         &cartID,
		Amount:         cart.Subtotal,
		Voucher:        cart.Voucher,
		VoucherCode:    cart.VoucherCode,
		DiscountAmount: cart.VoucherDiscount,
		LevelDiscount:  cart.LevelDiscount,
		Status:         models.OrderStatusProcessing,
		IdempotencyKey: idempotencyKey,
	}

	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	if err := s.orders.PlaceOrder(ctx, order, items); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, fmt.Errorf("%w: %v", ErrDuplicateRequest, err)
		}
		return nil, nil, fmt.Errorf("failed to place order: %w", err)
	}
	return order, items, nil
}

// TransitionStatus moves an order through the state machine and runs the
// ledger for the move. Writing the current status again is a no-op.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, target string, opts WriteOptions) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("target", target))
	defer span.End()

	if !isKnownStatus(target) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, target)
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order.Status == target {
		return order, nil
	}
	if !CanTransition(order.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	previous := order.Status
	updated, err := s.orders.UpdateOrderStatus(ctx, orderID, previous, target)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: order %d changed concurrently", ErrInvalidTransition, orderID)
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	util.OrderTransitionsTotal.WithLabelValues(previous, target).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", previous),
		zap.String("to", target))

	if err := s.ledger.OnOrderStatusChanged(ctx, updated, previous, opts); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("order %d moved to %s but ledger update failed: %w", orderID, target, err)
	}
	return updated, nil
}

// GetOrder retrieves an order by ID. userID scopes the lookup to the owner;
// zero skips the ownership check.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return s.details(ctx, order)
}

func (s *OrderService) details(ctx context.Context, order *models.Order) (*OrderDetails, error) {
	items, err := s.orders.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return &OrderDetails{Order: order, Items: items}, nil
}
