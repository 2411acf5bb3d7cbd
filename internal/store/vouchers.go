package store

import (
	"context"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
)

// GetVoucherByID retrieves a voucher by ID
func (s *Store) GetVoucherByID(ctx context.Context, id int64) (*models.Voucher, error) {
	var voucher models.Voucher
	err := s.db.GetContext(ctx, &voucher, "SELECT * FROM vouchers WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "voucher %d", id)
	}
	return &voucher, nil
}

// GetVoucherByCode retrieves a voucher by its normalized (uppercase) code
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := s.db.GetContext(ctx, &voucher, "SELECT * FROM vouchers WHERE code = $1", code)
	if err != nil {
		return nil, notFound(err, "voucher %s", code)
	}
	return &voucher, nil
}

// AdjustVoucherUsage atomically moves used_count by delta, never below zero,
// and returns the new count.
func (s *Store) AdjustVoucherUsage(ctx context.Context, voucherID int64, delta int64) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		UPDATE vouchers
		SET used_count = GREATEST(used_count + $1, 0), updated_at = NOW()
		WHERE id = $2
		RETURNING used_count`, delta, voucherID)
	if err != nil {
		return 0, notFound(err, "voucher %d", voucherID)
	}
	return count, nil
}
