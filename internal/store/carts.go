package store

import (
	"context"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
)

// GetCartByID retrieves a cart by ID
func (s *Store) GetCartByID(ctx context.Context, id int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "cart %d", id)
	}
	return &cart, nil
}

// GetActiveCartByUserID retrieves the user's most recent non-purchased cart
func (s *Store) GetActiveCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, `
		SELECT * FROM carts
		WHERE user_id = $1 AND purchased_at IS NULL
		ORDER BY updated_at DESC
		LIMIT 1`, userID)
	if err != nil {
		return nil, notFound(err, "active cart for user %d", userID)
	}
	return &cart, nil
}

// SaveCart inserts a new cart or overwrites the stored one
func (s *Store) SaveCart(ctx context.Context, cart *models.Cart) error {
	if cart.ID == 0 {
		query := `
			INSERT INTO carts (user_id, items, original_subtotal, voucher_code, voucher_id,
				voucher_discount, level_discount, subtotal, free_shipping,
				reserved_voucher_expires_at, purchased_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at`

		return s.db.QueryRowxContext(ctx, query,
			cart.UserID, cart.Items, cart.OriginalSubtotal, cart.VoucherCode, cart.Voucher,
			cart.VoucherDiscount, cart.LevelDiscount, cart.Subtotal, cart.FreeShipping,
			cart.ReservedVoucherExpiresAt, cart.PurchasedAt,
		).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	}

	query := `
		UPDATE carts SET
			user_id = $1, items = $2, original_subtotal = $3, voucher_code = $4, voucher_id = $5,
			voucher_discount = $6, level_discount = $7, subtotal = $8, free_shipping = $9,
			reserved_voucher_expires_at = $10, purchased_at = $11, updated_at = NOW()
		WHERE id = $12
		RETURNING updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		cart.UserID, cart.Items, cart.OriginalSubtotal, cart.VoucherCode, cart.Voucher,
		cart.VoucherDiscount, cart.LevelDiscount, cart.Subtotal, cart.FreeShipping,
		cart.ReservedVoucherExpiresAt, cart.PurchasedAt, cart.ID,
	).Scan(&cart.UpdatedAt)
	return notFound(err, "cart %d", cart.ID)
}

// ReleaseExpiredVoucherReservations clears voucher fields on active carts whose
// reservation lapsed. The subtotal keeps only the level discount.
func (s *Store) ReleaseExpiredVoucherReservations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE carts SET
			voucher_code = NULL,
			voucher_id = NULL,
			voucher_discount = 0,
			reserved_voucher_expires_at = NULL,
			subtotal = GREATEST(original_subtotal - level_discount, 0),
			updated_at = NOW()
		WHERE purchased_at IS NULL
			AND reserved_voucher_expires_at IS NOT NULL
			AND reserved_voucher_expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
