package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"

	"github.com/jmoiron/sqlx"
)

// PlaceOrder writes the order and its items and marks the source cart as
// purchased in one transaction. A cart that was already purchased yields
// ErrConflict.
func (s *Store) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if order.CartID != nil {
		res, err := tx.ExecContext(ctx,
			"UPDATE carts SET purchased_at = NOW(), updated_at = NOW() WHERE id = $1 AND purchased_at IS NULL",
			*order.CartID)
		if err != nil {
			return fmt.Errorf("failed to mark cart purchased: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: cart %d already purchased", ErrConflict, *order.CartID)
		}
	}

	if err := createOrder(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", conflict(err, "idempotency key %q", order.IdempotencyKey))
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := createOrderItem(ctx, tx, &items[i]); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	return tx.Commit()
}

func createOrder(ctx context.Context, q sqlx.QueryerContext, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, cart_id, amount, voucher_id, voucher_code,
			discount_amount, level_discount, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return q.QueryRowxContext(ctx, query,
		order.UserID, order.CartID, order.Amount, order.Voucher, order.VoucherCode,
		order.DiscountAmount, order.LevelDiscount, order.Status, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func createOrderItem(ctx context.Context, q sqlx.QueryerContext, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return q.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice,
	).Scan(&item.ID)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatus moves an order from one status to another. It returns
// ErrConflict when the stored status is no longer from.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`, to, orderID, from)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d is not %s", ErrConflict, orderID, from)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CountUserVoucherOrders counts the user's non-cancelled orders that used the voucher
func (s *Store) CountUserVoucherOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM orders WHERE user_id = $1 AND voucher_id = $2 AND status <> $3",
		userID, voucherID, models.OrderStatusCancelled)
	return n, err
}

// SumCompletedOrderAmounts totals the amounts of the user's completed orders
func (s *Store) SumCompletedOrderAmounts(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(amount), 0) FROM orders WHERE user_id = $1 AND status = $2",
		userID, models.OrderStatusCompleted)
	return total, err
}

// CancelStaleOrders cancels processing orders untouched since cutoff and
// returns the rows it actually flipped.
func (s *Store) CancelStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
		RETURNING *`, models.OrderStatusCancelled, models.OrderStatusProcessing, cutoff)
	return orders, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
