package pricing

import "github.com/cogivn/daisy-flower-sub000/internal/models"

// Breakdown is the derived monetary state of a cart.
type Breakdown struct {
	OriginalSubtotal int64 `json:"original_subtotal"`
	VoucherDiscount  int64 `json:"voucher_discount"`
	LevelDiscount    int64 `json:"level_discount"`
	Subtotal         int64 `json:"subtotal"`
	FreeShipping     bool  `json:"free_shipping"`
}

// ComposeInput carries everything the composer needs. Voucher must already
// have passed ValidateVoucher; nil means no voucher.
type ComposeInput struct {
	Items   []models.CartItem
	Voucher *models.Voucher
	// Level is the user's current tier setting; nil for guests or unknown tiers.
	Level *models.LevelSetting
}

// Compose combines the voucher and level discounts into a final subtotal.
// Both discounts are computed from the undiscounted amounts. When together
// they exceed the original subtotal the level discount absorbs the cut.
func Compose(in ComposeInput) Breakdown {
	var original int64
	for _, item := range in.Items {
		original = addClamped(original, mulClamped(item.UnitPrice, int64(item.Quantity)))
	}

	out := Breakdown{OriginalSubtotal: original}

	if in.Voucher != nil {
		out.VoucherDiscount = minInt64(VoucherDiscount(in.Voucher, EligibleBase(in.Voucher, in.Items)), original)
	}

	if in.Level != nil {
		out.LevelDiscount = percentOf(original, minInt64(in.Level.DiscountPercent, 100))
		out.FreeShipping = in.Level.FreeShipping
	}

	if addClamped(out.VoucherDiscount, out.LevelDiscount) > original {
		out.LevelDiscount = maxInt64(original-out.VoucherDiscount, 0)
	}

	out.Subtotal = maxInt64(original-out.VoucherDiscount-out.LevelDiscount, 0)
	return out
}

// EligibleBase is the amount a voucher discounts: the whole cart, or only the
// matching lines for a specific-product voucher.
func EligibleBase(v *models.Voucher, items []models.CartItem) int64 {
	var base int64
	for _, item := range items {
		if v.AppliesToProduct(item.ProductID) {
			base = addClamped(base, mulClamped(item.UnitPrice, int64(item.Quantity)))
		}
	}
	return base
}

// VoucherDiscount computes the voucher's discount on base.
func VoucherDiscount(v *models.Voucher, base int64) int64 {
	if base <= 0 || v.Value <= 0 {
		return 0
	}
	switch v.Type {
	case models.VoucherTypePercent:
		discount := percentOf(base, minInt64(v.Value, 100))
		if v.MaxDiscount != nil && *v.MaxDiscount >= 0 {
			discount = minInt64(discount, *v.MaxDiscount)
		}
		return discount
	case models.VoucherTypeFixed:
		return minInt64(v.Value, base)
	default:
		return 0
	}
}
