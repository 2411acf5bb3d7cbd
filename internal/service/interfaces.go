package service

import (
	"context"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/pricing"
)

// CartStore persists carts.
type CartStore interface {
	GetCartByID(ctx context.Context, id int64) (*models.Cart, error)
	GetActiveCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	ReleaseExpiredVoucherReservations(ctx context.Context, now time.Time) (int64, error)
}

// VoucherStore reads vouchers and moves their usage counter.
type VoucherStore interface {
	GetVoucherByID(ctx context.Context, id int64) (*models.Voucher, error)
	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	AdjustVoucherUsage(ctx context.Context, voucherID int64, delta int64) (int64, error)
}

// UserStore reads customers and the level threshold table.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateUserSpend(ctx context.Context, userID, totalSpent int64, level string) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	GetLevelSettings(ctx context.Context) (models.LevelSettings, error)
}

// OrderStore persists orders and answers the ledger's aggregate queries.
type OrderStore interface {
	PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (*models.Order, error)
	CountUserVoucherOrders(ctx context.Context, userID, voucherID int64) (int64, error)
	SumCompletedOrderAmounts(ctx context.Context, userID int64) (int64, error)
	CancelStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

// SaleEventStore flips cached sale statuses.
type SaleEventStore interface {
	ExpireSaleEvents(ctx context.Context, now time.Time) (int64, error)
	ActivateSaleEvents(ctx context.Context, now time.Time) (int64, error)
}

// Repository is the full persistence surface. Both store.Store and
// store.MemoryStore satisfy it.
type Repository interface {
	pricing.Catalog
	CartStore
	VoucherStore
	UserStore
	OrderStore
	SaleEventStore
}

// EventPublisher publishes outbound promotion events.
type EventPublisher interface {
	PublishCartRepriced(ctx context.Context, event *models.CartRepricedEvent) error
	PublishVoucherDetached(ctx context.Context, event *models.VoucherDetachedEvent) error
	PublishVoucherUsageAdjusted(ctx context.Context, event *models.VoucherUsageAdjustedEvent) error
	PublishUserLevelChanged(ctx context.Context, event *models.UserLevelChangedEvent) error
}

// Cache stores JSON snapshots.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyGuard claims request keys across replicas.
type IdempotencyGuard interface {
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	DeleteIdempotencyKey(ctx context.Context, key string) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishCartRepriced(context.Context, *models.CartRepricedEvent) error {
	return nil
}

func (NopPublisher) PublishVoucherDetached(context.Context, *models.VoucherDetachedEvent) error {
	return nil
}

func (NopPublisher) PublishVoucherUsageAdjusted(context.Context, *models.VoucherUsageAdjustedEvent) error {
	return nil
}

func (NopPublisher) PublishUserLevelChanged(context.Context, *models.UserLevelChangedEvent) error {
	return nil
}
