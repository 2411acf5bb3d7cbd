package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
)

// Rejection reasons
const (
	ReasonNotFound             = "voucher_not_found"
	ReasonNotPublished         = "voucher_not_published"
	ReasonNotStarted           = "voucher_not_started"
	ReasonExpired              = "voucher_expired"
	ReasonUsageLimitReached    = "usage_limit_reached"
	ReasonUserLimitReached     = "user_usage_limit_reached"
	ReasonLevelNotAllowed      = "user_level_not_allowed"
	ReasonUserNotAssigned      = "user_not_assigned"
	ReasonNoApplicableProducts = "no_applicable_products"
	ReasonMinOrderNotMet       = "min_order_amount_not_met"
	ReasonReservationExpired   = "voucher_reservation_expired"
)

var rejectionMessages = map[string]string{
	ReasonNotFound:             "Voucher code does not exist",
	ReasonNotPublished:         "Voucher is not available",
	ReasonNotStarted:           "Voucher is not valid yet",
	ReasonExpired:              "Voucher has expired",
	ReasonUsageLimitReached:    "Voucher has reached its usage limit",
	ReasonUserLimitReached:     "You have already used this voucher the maximum number of times",
	ReasonLevelNotAllowed:      "Voucher is not available for your membership level",
	ReasonUserNotAssigned:      "Voucher is not assigned to your account",
	ReasonNoApplicableProducts: "Voucher does not apply to any product in your cart",
	ReasonMinOrderNotMet:       "Order does not reach the voucher minimum amount",
	ReasonReservationExpired:   "Voucher reservation has expired, please apply it again",
}

// Rejection is returned when a voucher fails an eligibility rule.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("voucher rejected: %s", r.Reason)
}

// Message is the user-facing explanation for the rejection.
func (r *Rejection) Message() string {
	if msg, ok := rejectionMessages[r.Reason]; ok {
		return msg
	}
	return "Voucher cannot be applied"
}

func reject(reason string) error {
	return &Rejection{Reason: reason}
}

// AsRejection unwraps a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// NormalizeCode canonicalises a voucher code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// EligibilityInput is the cart and customer state a voucher is checked against.
type EligibilityInput struct {
	ProductIDs       []int64
	OriginalSubtotal int64
	// User is nil for guest carts.
	User *models.User
	// UserUsage counts the user's orders referencing the voucher, excluding
	// cancelled ones.
	UserUsage int64
}

// ValidateVoucher runs every eligibility rule and returns a *Rejection for
// the first failing one.
func ValidateVoucher(v *models.Voucher, in EligibilityInput, now time.Time) error {
	if v == nil {
		return reject(ReasonNotFound)
	}
	if v.Status != models.VoucherStatusPublished {
		return reject(ReasonNotPublished)
	}

	if v.ValidFrom != nil && now.Before(*v.ValidFrom) {
		return reject(ReasonNotStarted)
	}
	if v.ValidTo != nil && now.After(*v.ValidTo) {
		return reject(ReasonExpired)
	}

	if v.MaxUses != nil && v.UsedCount >= *v.MaxUses {
		return reject(ReasonUsageLimitReached)
	}

	if v.MaxUsesPerUser != nil {
		// usage of a guest cannot be attributed
		if in.User == nil || in.UserUsage >= *v.MaxUsesPerUser {
			return reject(ReasonUserLimitReached)
		}
	}

	if err := checkAssignment(v, in.User); err != nil {
		return err
	}

	if v.Scope == models.VoucherScopeSpecific && !anyApplicable(v, in.ProductIDs) {
		return reject(ReasonNoApplicableProducts)
	}

	if v.MinOrderAmount != nil && in.OriginalSubtotal < *v.MinOrderAmount {
		return reject(ReasonMinOrderNotMet)
	}

	return nil
}

func checkAssignment(v *models.Voucher, user *models.User) error {
	switch v.AssignMode {
	case models.AssignModeByLevel:
		if user == nil {
			return reject(ReasonLevelNotAllowed)
		}
		for _, level := range v.AllowedUserLevels {
			if level == user.Level {
				return nil
			}
		}
		return reject(ReasonLevelNotAllowed)
	case models.AssignModeSpecificUsers:
		if user == nil {
			return reject(ReasonUserNotAssigned)
		}
		for _, id := range v.AssignedUsers {
			if id == user.ID {
				return nil
			}
		}
		return reject(ReasonUserNotAssigned)
	default:
		return nil
	}
}

func anyApplicable(v *models.Voucher, productIDs []int64) bool {
	for _, id := range productIDs {
		if v.AppliesToProduct(id) {
			return true
		}
	}
	return false
}
