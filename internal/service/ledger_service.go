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

// Ledger causes carried on VoucherUsageAdjusted events
const (
	CauseOrderCreated  = "order_created"
	CauseStatusChanged = "status_changed"
)

// UsageDelta is the voucher usage change implied by a status move. Leaving
// the terminal set claims a slot and entering it releases one.
func UsageDelta(previous, next string) int64 {
	wasTerminal := models.IsTerminalStatus(previous)
	isTerminal := models.IsTerminalStatus(next)
	switch {
	case !wasTerminal && isTerminal:
		return -1
	case wasTerminal && !isTerminal:
		return 1
	default:
		return 0
	}
}

// touchesCompleted reports whether a move enters or leaves completed
func touchesCompleted(previous, next string) bool {
	if previous == next {
		return false
	}
	return previous == models.OrderStatusCompleted || next == models.OrderStatusCompleted
}

// LedgerService keeps voucher usage counters and customer spend in step
// with order status writes.
type LedgerService struct {
	vouchers  VoucherStore
	orders    OrderStore
	users     UserStore
	levels    *LevelSettingsProvider
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(repo Repository, levels *LevelSettingsProvider, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		vouchers:  repo,
		orders:    repo,
		users:     repo,
		levels:    levels,
		publisher: publisher,
		now:       time.Now,
		logger:    util.Component("ledger"),
	}
}

// OnOrderCreated claims a voucher slot for a new non-terminal order and
// resyncs spend when the order is born completed.
func (l *LedgerService) OnOrderCreated(ctx context.Context, order *models.Order, opts WriteOptions) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.OnOrderCreated", attribute.Int64("order_id", order.ID))
	defer span.End()

	if opts.SkipLedgerSync {
		return nil
	}

	if !models.IsTerminalStatus(order.Status) {
		if err := l.adjustUsage(ctx, order, 1, CauseOrderCreated); err != nil {
			util.RecordError(span, err)
			return err
		}
	}

	if order.Status == models.OrderStatusCompleted {
		if _, err := l.SyncUserSpend(ctx, order.UserID, opts); err != nil {
			util.RecordError(span, err)
			return err
		}
	}
	return nil
}

// OnOrderStatusChanged applies the usage delta of a status move and resyncs
// spend when the move enters or leaves completed. order carries the new status.
func (l *LedgerService) OnOrderStatusChanged(ctx context.Context, order *models.Order, previous string, opts WriteOptions) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.OnOrderStatusChanged",
		attribute.Int64("order_id", order.ID),
		attribute.String("from", previous),
		attribute.String("to", order.Status))
	defer span.End()

	if opts.SkipLedgerSync {
		return nil
	}

	if delta := UsageDelta(previous, order.Status); delta != 0 {
		if err := l.adjustUsage(ctx, order, delta, CauseStatusChanged); err != nil {
			util.RecordError(span, err)
			return err
		}
	}

	if touchesCompleted(previous, order.Status) {
		if _, err := l.SyncUserSpend(ctx, order.UserID, opts); err != nil {
			util.RecordError(span, err)
			return err
		}
	}
	return nil
}

func (l *LedgerService) adjustUsage(ctx context.Context, order *models.Order, delta int64, cause string) error {
	voucherID, ok := order.Voucher.ID()
	if !ok {
		return nil
	}

	count, err := l.vouchers.AdjustVoucherUsage(ctx, voucherID, delta)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.logger.Warn("Order references a missing voucher",
				zap.Int64("order_id", order.ID),
				zap.Int64("voucher_id", voucherID))
			return nil
		}
		return fmt.Errorf("failed to adjust voucher usage: %w", err)
	}

	direction := "increment"
	if delta < 0 {
		direction = "decrement"
	}
	util.VoucherUsageAdjustmentsTotal.WithLabelValues(direction).Inc()
	l.logger.Info("Voucher usage adjusted",
		zap.Int64("voucher_id", voucherID),
		zap.Int64("order_id", order.ID),
		zap.Int64("delta", delta),
		zap.Int64("used_count", count))

	event := &models.VoucherUsageAdjustedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeVoucherUsageAdjusted, l.now()),
		WriteFlags: engineWrite.Flags(),
		VoucherID:  voucherID,
		OrderID:    order.ID,
		Delta:      int(delta),
		Cause:      cause,
	}
	if err := l.publisher.PublishVoucherUsageAdjusted(ctx, event); err != nil {
		l.logger.Error("Failed to publish VoucherUsageAdjusted event", zap.Error(err))
	}
	return nil
}

// SyncUserSpend recomputes the user's total spend from completed orders,
// resolves the level and applies the lock policy. The new spend is always
// persisted, even when a locked user's downgrade is blocked.
func (l *LedgerService) SyncUserSpend(ctx context.Context, userID int64, opts WriteOptions) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.SyncUserSpend", attribute.Int64("user_id", userID))
	defer span.End()

	user, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.logger.Warn("Spend resync for unknown user", zap.Int64("user_id", userID))
			return nil, nil
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	total, err := l.orders.SumCompletedOrderAmounts(ctx, userID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to sum completed orders: %w", err)
	}

	settings, err := l.levels.Snapshot(ctx)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	decision := pricing.DecideLevel(settings, *user, pricing.ResolveLevel(settings, total))

	if total == user.TotalSpent && !decision.Changed {
		util.UserLevelChangesTotal.WithLabelValues(levelOutcome(decision)).Inc()
		return user, nil
	}

	if err := l.users.UpdateUserSpend(ctx, userID, total, decision.Level); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update user spend: %w", err)
	}

	previous := user.Level
	user.TotalSpent = total
	user.Level = decision.Level

	util.UserLevelChangesTotal.WithLabelValues(levelOutcome(decision)).Inc()
	l.logger.Info("User spend resynced",
		zap.Int64("user_id", userID),
		zap.Int64("total_spent", total),
		zap.String("previous_level", previous),
		zap.String("level", user.Level),
		zap.Bool("downgrade_blocked", decision.Blocked))

	event := &models.UserLevelChangedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeUserLevelChanged, l.now()),
		WriteFlags:    engineWrite.Flags(),
		UserID:        userID,
		TotalSpent:    total,
		PreviousLevel: previous,
		Level:         user.Level,
		LevelLocked:   user.LevelLocked,
	}
	if err := l.publisher.PublishUserLevelChanged(ctx, event); err != nil {
		l.logger.Error("Failed to publish UserLevelChanged event", zap.Error(err))
	}
	return user, nil
}

// ResyncAllUsers re-resolves every user's level after the threshold table
// changed. Failures are logged per user and the sweep continues.
func (l *LedgerService) ResyncAllUsers(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.ResyncAllUsers")
	defer span.End()

	l.levels.Invalidate(ctx)

	ids, err := l.users.ListUserIDs(ctx)
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	synced := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := l.SyncUserSpend(ctx, id, WriteOptions{}); err != nil {
			l.logger.Error("User resync failed", zap.Int64("user_id", id), zap.Error(err))
			continue
		}
		synced++
	}
	return synced, nil
}

func levelOutcome(d pricing.LevelDecision) string {
	switch {
	case d.Blocked:
		return "downgrade_blocked"
	case d.Changed:
		return "changed"
	default:
		return "unchanged"
	}
}
