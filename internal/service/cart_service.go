package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/pricing"
	"github.com/cogivn/daisy-flower-sub000/internal/store"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService runs the pricing pipeline on carts and owns the voucher
// operations exposed to customers.
type CartService struct {
	repo           Repository
	resolver       *pricing.Resolver
	levels         *LevelSettingsProvider
	publisher      EventPublisher
	reservationTTL time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(
	repo Repository,
	levels *LevelSettingsProvider,
	publisher EventPublisher,
	reservationTTL time.Duration,
) *CartService {
	logger := util.Component("cart")
	return &CartService{
		repo:           repo,
		resolver:       pricing.NewResolver(repo, logger),
		levels:         levels,
		publisher:      publisher,
		reservationTTL: reservationTTL,
		now:            time.Now,
		logger:         logger,
	}
}

// PreviewRequest carries the optional cart hints of a voucher preview.
type PreviewRequest struct {
	Code       string  `json:"code" binding:"required"`
	Subtotal   *int64  `json:"subtotal,omitempty"`
	ProductIDs []int64 `json:"product_ids,omitempty"`
}

// VoucherPreview is the outcome of a non-mutating eligibility check
type VoucherPreview struct {
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discount_amount"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// PaymentCheck is the outcome of the pre-capture voucher re-check
type PaymentCheck struct {
	Valid     bool              `json:"valid"`
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Breakdown pricing.Breakdown `json:"breakdown"`
}

// BreakdownOf reads the derived monetary fields of a cart
func BreakdownOf(cart *models.Cart) pricing.Breakdown {
	return pricing.Breakdown{
		OriginalSubtotal: cart.OriginalSubtotal,
		VoucherDiscount:  cart.VoucherDiscount,
		LevelDiscount:    cart.LevelDiscount,
		Subtotal:         cart.Subtotal,
		FreeShipping:     cart.FreeShipping,
	}
}

// Recompute reprices a stored cart and persists the new breakdown. Purchased
// carts are frozen and returned untouched.
func (s *CartService) Recompute(ctx context.Context, cartID int64, opts WriteOptions) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Recompute", attribute.Int64("cart_id", cartID))
	defer span.End()

	cart, err := s.repo.GetCartByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: cart %d", ErrCartNotFound, cartID)
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if opts.SkipRecompute || !cart.IsActive() {
		return cart, nil
	}

	if err := s.save(ctx, cart); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return cart, nil
}

// RecomputeActive reprices the caller's active cart
func (s *CartService) RecomputeActive(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RecomputeActive")
	defer span.End()

	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, cart); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return cart, nil
}

// ApplyVoucher attaches a voucher to the caller's active cart. A rejected
// voucher leaves the cart unmodified.
func (s *CartService) ApplyVoucher(ctx context.Context, userID int64, code string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ApplyVoucher")
	defer span.End()

	code = pricing.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: voucher code is required", ErrInvalidInput)
	}

	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	voucher, err := s.repo.GetVoucherByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.VouchersRejectedTotal.WithLabelValues("apply", pricing.ReasonNotFound).Inc()
			return nil, fmt.Errorf("%w: %s", ErrVoucherNotFound, code)
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}

	now := s.now()
	user := s.loadUser(ctx, cart.UserID)
	lines := s.resolver.Lines(ctx, cart.Items, now)

	in := pricing.EligibilityInput{
		ProductIDs:       productIDs(lines.Items),
		OriginalSubtotal: lines.OriginalSubtotal,
		User:             user,
		UserUsage:        s.userUsage(ctx, user, voucher),
	}
	if err := pricing.ValidateVoucher(voucher, in, now); err != nil {
		if rej, ok := pricing.AsRejection(err); ok {
			util.VouchersRejectedTotal.WithLabelValues("apply", rej.Reason).Inc()
		}
		return nil, fmt.Errorf("%w: %w", ErrVoucherRejected, err)
	}

	expires := now.Add(s.reservationTTL)
	voucherCode := voucher.Code
	cart.VoucherCode = &voucherCode
	cart.Voucher = models.RefTo(voucher)
	cart.ReservedVoucherExpiresAt = &expires

	if err := s.save(ctx, cart); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.VouchersAppliedTotal.Inc()
	s.logger.Info("Voucher applied",
		zap.Int64("cart_id", cart.ID),
		zap.String("code", voucher.Code),
		zap.Int64("voucher_discount", cart.VoucherDiscount))

	return cart, nil
}

// RemoveVoucher detaches any voucher from the caller's active cart
func (s *CartService) RemoveVoucher(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveVoucher")
	defer span.End()

	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart.ClearVoucher()
	if err := s.save(ctx, cart); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return cart, nil
}

// PreviewVoucher runs the eligibility checks without mutating any cart.
// Hints override the values taken from the caller's active cart.
func (s *CartService) PreviewVoucher(ctx context.Context, userID int64, req PreviewRequest) (*VoucherPreview, error) {
	ctx, span := util.StartSpan(ctx, "CartService.PreviewVoucher")
	defer span.End()

	if userID == 0 {
		return nil, ErrAuthenticationRequired
	}
	code := pricing.NormalizeCode(req.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: voucher code is required", ErrInvalidInput)
	}
	if req.Subtotal != nil && *req.Subtotal < 0 {
		return nil, fmt.Errorf("%w: subtotal must not be negative", ErrInvalidInput)
	}

	voucher, err := s.repo.GetVoucherByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.previewRejected(&pricing.Rejection{Reason: pricing.ReasonNotFound}), nil
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}

	now := s.now()
	user := s.loadUser(ctx, &userID)

	var items []models.CartItem
	var subtotal int64
	if cart, err := s.repo.GetActiveCartByUserID(ctx, userID); err == nil {
		lines := s.resolver.Lines(ctx, cart.Items, now)
		items = lines.Items
		subtotal = lines.OriginalSubtotal
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Active cart lookup failed during preview", zap.Error(err))
	}

	ids := productIDs(items)
	if req.ProductIDs != nil {
		ids = req.ProductIDs
	}

	base := pricing.EligibleBase(voucher, items)
	if req.Subtotal != nil {
		subtotal = *req.Subtotal
		base = subtotal
	}

	in := pricing.EligibilityInput{
		ProductIDs:       ids,
		OriginalSubtotal: subtotal,
		User:             user,
		UserUsage:        s.userUsage(ctx, user, voucher),
	}
	if err := pricing.ValidateVoucher(voucher, in, now); err != nil {
		rej, ok := pricing.AsRejection(err)
		if !ok {
			return nil, err
		}
		return s.previewRejected(rej), nil
	}

	discount := pricing.VoucherDiscount(voucher, base)
	if discount > subtotal {
		discount = subtotal
	}
	return &VoucherPreview{Valid: true, DiscountAmount: discount}, nil
}

func (s *CartService) previewRejected(rej *pricing.Rejection) *VoucherPreview {
	util.VouchersRejectedTotal.WithLabelValues("preview", rej.Reason).Inc()
	return &VoucherPreview{Valid: false, Reason: rej.Reason, Error: rej.Message()}
}

// ValidateForPayment re-checks the reserved voucher right before payment
// capture. A stale voucher is detached and the check fails, so payment never
// proceeds against a discount that no longer holds.
func (s *CartService) ValidateForPayment(ctx context.Context, userID int64) (*PaymentCheck, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ValidateForPayment")
	defer span.End()

	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !cart.HasVoucher() {
		return &PaymentCheck{Valid: true, Breakdown: BreakdownOf(cart)}, nil
	}

	detached, err := s.saveWithOutcome(ctx, cart)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if detached != nil {
		util.VouchersRejectedTotal.WithLabelValues("payment", detached.Reason).Inc()
		return &PaymentCheck{
			Valid:     false,
			Reason:    detached.Reason,
			Error:     detached.Message(),
			Breakdown: BreakdownOf(cart),
		}, nil
	}
	return &PaymentCheck{Valid: true, Breakdown: BreakdownOf(cart)}, nil
}

func (s *CartService) activeCart(ctx context.Context, userID int64) (*models.Cart, error) {
	if userID == 0 {
		return nil, ErrAuthenticationRequired
	}
	cart, err := s.repo.GetActiveCartByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load active cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) save(ctx context.Context, cart *models.Cart) error {
	_, err := s.saveWithOutcome(ctx, cart)
	return err
}

// saveWithOutcome reprices the cart, persists it and publishes the result.
// The returned rejection is set when a voucher had to be detached.
func (s *CartService) saveWithOutcome(ctx context.Context, cart *models.Cart) (*pricing.Rejection, error) {
	now := s.now()
	detachedCode := ""
	if cart.VoucherCode != nil {
		detachedCode = *cart.VoucherCode
	}

	rejection := s.reprice(ctx, cart, now)

	if err := s.repo.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	util.CartsRepricedTotal.Inc()

	if rejection != nil {
		util.VouchersDetachedTotal.WithLabelValues(rejection.Reason).Inc()
		s.logger.Info("Voucher detached from cart",
			zap.Int64("cart_id", cart.ID),
			zap.String("code", detachedCode),
			zap.String("reason", rejection.Reason))

		event := &models.VoucherDetachedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeVoucherDetached, now),
			WriteFlags:  engineWrite.Flags(),
			CartID:      cart.ID,
			VoucherCode: detachedCode,
			Reason:      rejection.Reason,
		}
		if err := s.publisher.PublishVoucherDetached(ctx, event); err != nil {
			s.logger.Error("Failed to publish VoucherDetached event", zap.Error(err))
		}
	}

	event := &models.CartRepricedEvent{
		BaseEvent:        newBaseEvent(models.EventTypeCartRepriced, now),
		WriteFlags:       engineWrite.Flags(),
		CartID:           cart.ID,
		OriginalSubtotal: cart.OriginalSubtotal,
		VoucherCode:      cart.VoucherCode,
		VoucherDiscount:  cart.VoucherDiscount,
		LevelDiscount:    cart.LevelDiscount,
		Subtotal:         cart.Subtotal,
	}
	if err := s.publisher.PublishCartRepriced(ctx, event); err != nil {
		s.logger.Error("Failed to publish CartRepriced event", zap.Error(err))
	}

	return rejection, nil
}

// reprice runs resolver, validator and composer over the cart in place. It
// never fails: missing data degrades to zero prices or no discount, and a
// voucher that no longer passes is detached.
func (s *CartService) reprice(ctx context.Context, cart *models.Cart, now time.Time) *pricing.Rejection {
	lines := s.resolver.Lines(ctx, cart.Items, now)
	cart.Items = lines.Items

	user := s.loadUser(ctx, cart.UserID)
	settings := s.snapshot(ctx)

	var voucher *models.Voucher
	var rejection *pricing.Rejection
	if cart.HasVoucher() {
		voucher, rejection = s.revalidate(ctx, cart, lines, user, now)
		if rejection != nil {
			cart.ClearVoucher()
		}
	}

	breakdown := pricing.Compose(pricing.ComposeInput{
		Items:   lines.Items,
		Voucher: voucher,
		Level:   levelFor(settings, user),
	})

	cart.OriginalSubtotal = breakdown.OriginalSubtotal
	cart.VoucherDiscount = breakdown.VoucherDiscount
	cart.LevelDiscount = breakdown.LevelDiscount
	cart.Subtotal = breakdown.Subtotal
	cart.FreeShipping = breakdown.FreeShipping

	if voucher != nil {
		code := voucher.Code
		cart.VoucherCode = &code
		cart.Voucher = models.RefID[models.Voucher](voucher.ID)
	}
	return rejection
}

// revalidate returns the attached voucher when it still applies. A lookup
// failure keeps the voucher attached with no discount for this pass.
func (s *CartService) revalidate(
	ctx context.Context,
	cart *models.Cart,
	lines pricing.ResolvedLines,
	user *models.User,
	now time.Time,
) (*models.Voucher, *pricing.Rejection) {
	if cart.ReservedVoucherExpiresAt != nil && cart.ReservedVoucherExpiresAt.Before(now) {
		return nil, &pricing.Rejection{Reason: pricing.ReasonReservationExpired}
	}

	voucher, err := s.attachedVoucher(ctx, cart)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &pricing.Rejection{Reason: pricing.ReasonNotFound}
		}
		s.logger.Warn("Voucher lookup failed during recompute",
			zap.Int64("cart_id", cart.ID),
			zap.Error(err))
		return nil, nil
	}

	in := pricing.EligibilityInput{
		ProductIDs:       productIDs(lines.Items),
		OriginalSubtotal: lines.OriginalSubtotal,
		User:             user,
		UserUsage:        s.userUsage(ctx, user, voucher),
	}
	if err := pricing.ValidateVoucher(voucher, in, now); err != nil {
		rej, _ := pricing.AsRejection(err)
		return nil, rej
	}
	return voucher, nil
}

func (s *CartService) attachedVoucher(ctx context.Context, cart *models.Cart) (*models.Voucher, error) {
	if id, ok := cart.Voucher.ID(); ok {
		return s.repo.GetVoucherByID(ctx, id)
	}
	return s.repo.GetVoucherByCode(ctx, pricing.NormalizeCode(*cart.VoucherCode))
}

func (s *CartService) loadUser(ctx context.Context, userID *int64) *models.User {
	if userID == nil || *userID == 0 {
		return nil
	}
	user, err := s.repo.GetUserByID(ctx, *userID)
	if err != nil {
		s.logger.Warn("User lookup failed, pricing as guest",
			zap.Int64("user_id", *userID),
			zap.Error(err))
		return nil
	}
	return user
}

func (s *CartService) userUsage(ctx context.Context, user *models.User, voucher *models.Voucher) int64 {
	if user == nil || voucher.MaxUsesPerUser == nil {
		return 0
	}
	n, err := s.repo.CountUserVoucherOrders(ctx, user.ID, voucher.ID)
	if err != nil {
		s.logger.Warn("Per-user voucher usage lookup failed",
			zap.Int64("user_id", user.ID),
			zap.Int64("voucher_id", voucher.ID),
			zap.Error(err))
		return 0
	}
	return n
}

func (s *CartService) snapshot(ctx context.Context) models.LevelSettings {
	settings, err := s.levels.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("Level settings unavailable, skipping level discount", zap.Error(err))
		return nil
	}
	return settings
}

func levelFor(settings models.LevelSettings, user *models.User) *models.LevelSetting {
	if user == nil {
		return nil
	}
	row, ok := settings.Lookup(user.Level)
	if !ok {
		return nil
	}
	return &row
}

func productIDs(items []models.CartItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
