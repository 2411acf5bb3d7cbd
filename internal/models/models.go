package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// Product represents a product in the catalog. Price is nullable: catalog
// entries without price data resolve to zero.
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     *int64    `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (p Product) GetID() int64 { return p.ID }

// Variant is a purchasable variation of a product with its own price.
type Variant struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Price     *int64 `db:"price" json:"price"`
}

func (v Variant) GetID() int64 { return v.ID }

// SaleEvent is a time-bound override of a product's price.
type SaleEvent struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	SalePrice int64     `db:"sale_price" json:"sale_price"`
	Status    string    `db:"status" json:"status"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time `db:"ends_at" json:"ends_at"`
}

// Sale event statuses
const (
	SaleStatusScheduled = "scheduled"
	SaleStatusActive    = "active"
	SaleStatusExpired   = "expired"
)

// CartItem is a line of a cart or order.
type CartItem struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CartItems is stored as a JSON column.
type CartItems []CartItem

func (c CartItems) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *CartItems) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported cart items source %T", src)
	}
	return json.Unmarshal(data, c)
}

// Cart is a mutable shopping cart. All monetary fields except the line items
// are derived by the pricing pipeline and never authored directly.
type Cart struct {
	ID                       int64        `db:"id" json:"id"`
	UserID                   *int64       `db:"user_id" json:"user_id"`
	Items                    CartItems    `db:"items" json:"items"`
	OriginalSubtotal         int64        `db:"original_subtotal" json:"original_subtotal"`
	VoucherCode              *string      `db:"voucher_code" json:"voucher_code"`
	Voucher                  Ref[Voucher] `db:"voucher_id" json:"applied_voucher"`
	VoucherDiscount          int64        `db:"voucher_discount" json:"voucher_discount"`
	LevelDiscount            int64        `db:"level_discount" json:"level_discount"`
	Subtotal                 int64        `db:"subtotal" json:"subtotal"`
	FreeShipping             bool         `db:"free_shipping" json:"free_shipping"`
	ReservedVoucherExpiresAt *time.Time   `db:"reserved_voucher_expires_at" json:"reserved_voucher_expires_at"`
	PurchasedAt              *time.Time   `db:"purchased_at" json:"purchased_at"`
	CreatedAt                time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time    `db:"updated_at" json:"updated_at"`
}

func (c Cart) GetID() int64 { return c.ID }

// IsActive reports whether the cart has not been converted into an order.
func (c *Cart) IsActive() bool {
	return c.PurchasedAt == nil
}

// HasVoucher reports whether a voucher code or reference is attached.
func (c *Cart) HasVoucher() bool {
	return (c.VoucherCode != nil && *c.VoucherCode != "") || !c.Voucher.IsZero()
}

// ClearVoucher detaches the voucher and its reservation.
func (c *Cart) ClearVoucher() {
	c.VoucherCode = nil
	c.Voucher = Ref[Voucher]{}
	c.VoucherDiscount = 0
	c.ReservedVoucherExpiresAt = nil
}

// Voucher types, scopes, assignment modes and statuses
const (
	VoucherTypePercent = "percent"
	VoucherTypeFixed   = "fixed"

	VoucherScopeAll      = "all"
	VoucherScopeSpecific = "specific"

	AssignModeAll           = "all"
	AssignModeByLevel       = "by-level"
	AssignModeSpecificUsers = "specific-users"

	VoucherStatusDraft     = "draft"
	VoucherStatusPublished = "published"
)

// Voucher is a promotional code. UsedCount is only ever adjusted by the
// usage ledger.
type Voucher struct {
	ID                 int64          `db:"id" json:"id"`
	Code               string         `db:"code" json:"code"`
	Type               string         `db:"type" json:"type"`
	Value              int64          `db:"value" json:"value"`
	MaxDiscount        *int64         `db:"max_discount" json:"max_discount"`
	Scope              string         `db:"scope" json:"scope"`
	ApplicableProducts pq.Int64Array  `db:"applicable_products" json:"applicable_products"`
	AssignMode         string         `db:"assign_mode" json:"assign_mode"`
	AllowedUserLevels  pq.StringArray `db:"allowed_user_levels" json:"allowed_user_levels"`
	AssignedUsers      pq.Int64Array  `db:"assigned_users" json:"assigned_users"`
	MaxUses            *int64         `db:"max_uses" json:"max_uses"`
	MaxUsesPerUser     *int64         `db:"max_uses_per_user" json:"max_uses_per_user"`
	UsedCount          int64          `db:"used_count" json:"used_count"`
	ValidFrom          *time.Time     `db:"valid_from" json:"valid_from"`
	ValidTo            *time.Time     `db:"valid_to" json:"valid_to"`
	MinOrderAmount     *int64         `db:"min_order_amount" json:"min_order_amount"`
	Status             string         `db:"status" json:"status"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

func (v Voucher) GetID() int64 { return v.ID }

// AppliesToProduct reports whether a line for productID is eligible for the voucher discount.
func (v *Voucher) AppliesToProduct(productID int64) bool {
	if v.Scope != VoucherScopeSpecific {
		return true
	}
	for _, id := range v.ApplicableProducts {
		if id == productID {
			return true
		}
	}
	return false
}

// Order represents a customer order. Voucher and discount fields are a
// snapshot taken once from the cart at creation time.
type Order struct {
	ID             int64        `db:"id" json:"id"`
	UserID         int64        `db:"user_id" json:"user_id"`
	CartID         *int64       `db:"cart_id" json:"cart_id,omitempty"`
	Amount         int64        `db:"amount" json:"amount"`
	Voucher        Ref[Voucher] `db:"voucher_id" json:"voucher"`
	VoucherCode    *string      `db:"voucher_code" json:"voucher_code,omitempty"`
	DiscountAmount int64        `db:"discount_amount" json:"discount_amount"`
	LevelDiscount  int64        `db:"level_discount" json:"level_discount"`
	Status         string       `db:"status" json:"status"`
	IdempotencyKey string       `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

func (o Order) GetID() int64 { return o.ID }

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	VariantID *int64 `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
}

// Order statuses
const (
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// IsTerminalStatus reports whether an order in this status no longer holds a
// voucher usage slot.
func IsTerminalStatus(status string) bool {
	return status == OrderStatusCancelled || status == OrderStatusRefunded
}

// User is a customer with a derived spending tier.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	TotalSpent  int64     `db:"total_spent" json:"total_spent"`
	Level       string    `db:"level" json:"level"`
	LevelLocked bool      `db:"level_locked" json:"level_locked"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (u User) GetID() int64 { return u.ID }

// LevelSetting is one row of the loyalty threshold table.
type LevelSetting struct {
	Level           string `db:"level" json:"level"`
	MinSpending     int64  `db:"min_spending" json:"min_spending"`
	DiscountPercent int64  `db:"discount_percent" json:"discount_percent"`
	FreeShipping    bool   `db:"free_shipping" json:"free_shipping"`
}

// LevelSettings is a read-only snapshot of the threshold table, ordered by
// MinSpending ascending.
type LevelSettings []LevelSetting

// NewLevelSettings copies and orders rows into a snapshot.
func NewLevelSettings(rows []LevelSetting) LevelSettings {
	out := make(LevelSettings, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinSpending < out[j].MinSpending
	})
	return out
}

// Lookup returns the setting for level.
func (s LevelSettings) Lookup(level string) (LevelSetting, bool) {
	for _, row := range s {
		if row.Level == level {
			return row, true
		}
	}
	return LevelSetting{}, false
}

// Rank returns the position of level in the ordering, or -1 when unknown.
func (s LevelSettings) Rank(level string) int {
	for i, row := range s {
		if row.Level == level {
			return i
		}
	}
	return -1
}

// Lowest returns the default tier.
func (s LevelSettings) Lowest() string {
	if len(s) == 0 {
		return ""
	}
	return s[0].Level
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
