package models

import "time"

// Event types published by the persistence layer (inbound triggers)
const (
	EventTypeCartWritten          = "CART_WRITTEN"
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypeLevelSettingsWritten = "LEVEL_SETTINGS_WRITTEN"
)

// Event types published by the engine (outbound)
const (
	EventTypeCartRepriced         = "CART_REPRICED"
	EventTypeVoucherDetached      = "VOUCHER_DETACHED"
	EventTypeVoucherUsageAdjusted = "VOUCHER_USAGE_ADJUSTED"
	EventTypeUserLevelChanged     = "USER_LEVEL_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteFlags mark writes made by the engine itself so the trigger path does
// not feed them back into the pipeline.
type WriteFlags struct {
	SkipRecompute  bool `json:"skip_recompute,omitempty"`
	SkipLedgerSync bool `json:"skip_ledger_sync,omitempty"`
}

// CartWrittenEvent is emitted whenever a cart document is persisted.
type CartWrittenEvent struct {
	BaseEvent
	WriteFlags
	CartID int64 `json:"cart_id"`
}

// OrderCreatedEvent is emitted when an order document is first persisted.
type OrderCreatedEvent struct {
	BaseEvent
	WriteFlags
	Order Ref[Order] `json:"order"`
}

// OrderStatusChangedEvent is emitted when an order's status field is written.
type OrderStatusChangedEvent struct {
	BaseEvent
	WriteFlags
	Order          Ref[Order] `json:"order"`
	PreviousStatus string     `json:"previous_status"`
	Status         string     `json:"status"`
}

// LevelSettingsWrittenEvent is emitted when the global level thresholds are saved.
type LevelSettingsWrittenEvent struct {
	BaseEvent
	WriteFlags
}

// CartRepricedEvent is published after the pipeline persisted a new breakdown.
type CartRepricedEvent struct {
	BaseEvent
	WriteFlags
	CartID           int64   `json:"cart_id"`
	OriginalSubtotal int64   `json:"original_subtotal"`
	VoucherCode      *string `json:"voucher_code,omitempty"`
	VoucherDiscount  int64   `json:"voucher_discount"`
	LevelDiscount    int64   `json:"level_discount"`
	Subtotal         int64   `json:"subtotal"`
}

// VoucherDetachedEvent is published when a stale voucher is removed from a cart.
type VoucherDetachedEvent struct {
	BaseEvent
	WriteFlags
	CartID      int64  `json:"cart_id"`
	VoucherCode string `json:"voucher_code"`
	Reason      string `json:"reason"`
}

// VoucherUsageAdjustedEvent is published for every ledger adjustment.
type VoucherUsageAdjustedEvent struct {
	BaseEvent
	WriteFlags
	VoucherID int64  `json:"voucher_id"`
	OrderID   int64  `json:"order_id"`
	Delta     int    `json:"delta"`
	Cause     string `json:"cause"`
}

// UserLevelChangedEvent is published after a spend resync persisted the user.
type UserLevelChangedEvent struct {
	BaseEvent
	WriteFlags
	UserID        int64  `json:"user_id"`
	TotalSpent    int64  `json:"total_spent"`
	PreviousLevel string `json:"previous_level"`
	Level         string `json:"level"`
	LevelLocked   bool   `json:"level_locked"`
}
