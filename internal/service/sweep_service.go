package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"go.uber.org/zap"
)

// Sweep job names, used for scheduling, locks and metrics
const (
	JobSaleEvents          = "sale-events"
	JobAbandonedOrders     = "abandoned-orders"
	JobVoucherReservations = "voucher-reservations"
)

// SweepService holds the reconciliation sweeps. Each sweep is a bulk
// conditional write, so repeated or overlapping runs are harmless.
type SweepService struct {
	sales        SaleEventStore
	orders       OrderStore
	carts        CartStore
	ledger       *LedgerService
	abandonAfter time.Duration
	logger       *zap.Logger
}

// NewSweepService creates a new sweep service
func NewSweepService(repo Repository, ledger *LedgerService, abandonAfter time.Duration) *SweepService {
	return &SweepService{
		sales:        repo,
		orders:       repo,
		carts:        repo,
		ledger:       ledger,
		abandonAfter: abandonAfter,
		logger:       util.Component("sweep"),
	}
}

// SaleSweepResult counts the sale events flipped by one run
type SaleSweepResult struct {
	Expired   int64
	Activated int64
}

// SweepSaleEvents expires ended sale events, then activates running ones.
func (s *SweepService) SweepSaleEvents(ctx context.Context, now time.Time) (SaleSweepResult, error) {
	ctx, span := util.StartSpan(ctx, "SweepService.SweepSaleEvents")
	defer span.End()

	var res SaleSweepResult
	var err error

	res.Expired, err = s.sales.ExpireSaleEvents(ctx, now)
	if err != nil {
		util.RecordError(span, err)
		return res, fmt.Errorf("failed to expire sale events: %w", err)
	}

	res.Activated, err = s.sales.ActivateSaleEvents(ctx, now)
	if err != nil {
		util.RecordError(span, err)
		return res, fmt.Errorf("failed to activate sale events: %w", err)
	}

	util.SweepRowsAffectedTotal.WithLabelValues(JobSaleEvents).Add(float64(res.Expired + res.Activated))
	if res.Expired > 0 || res.Activated > 0 {
		s.logger.Info("Sale events reconciled",
			zap.Int64("expired", res.Expired),
			zap.Int64("activated", res.Activated))
	}
	return res, nil
}

// SweepAbandonedOrders cancels processing orders idle longer than the
// abandon threshold. Every row the bulk update actually flipped is handed
// to the ledger, so each releases its voucher slot exactly once.
func (s *SweepService) SweepAbandonedOrders(ctx context.Context, now time.Time) (int, error) {
	ctx, span := util.StartSpan(ctx, "SweepService.SweepAbandonedOrders")
	defer span.End()

	flipped, err := s.orders.CancelStaleOrders(ctx, now.Add(-s.abandonAfter))
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to cancel stale orders: %w", err)
	}

	for i := range flipped {
		order := &flipped[i]
		util.OrderTransitionsTotal.WithLabelValues(models.OrderStatusProcessing, order.Status).Inc()
		if err := s.ledger.OnOrderStatusChanged(ctx, order, models.OrderStatusProcessing, WriteOptions{}); err != nil {
			s.logger.Error("Ledger update failed for abandoned order",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	util.SweepRowsAffectedTotal.WithLabelValues(JobAbandonedOrders).Add(float64(len(flipped)))
	if len(flipped) > 0 {
		s.logger.Info("Abandoned orders cancelled", zap.Int("count", len(flipped)))
	}
	return len(flipped), nil
}

// SweepVoucherReservations releases vouchers whose cart reservation lapsed.
// No ledger call: a reserved voucher was never consumed by an order.
func (s *SweepService) SweepVoucherReservations(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := util.StartSpan(ctx, "SweepService.SweepVoucherReservations")
	defer span.End()

	n, err := s.carts.ReleaseExpiredVoucherReservations(ctx, now)
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to release voucher reservations: %w", err)
	}

	util.SweepRowsAffectedTotal.WithLabelValues(JobVoucherReservations).Add(float64(n))
	if n > 0 {
		s.logger.Info("Voucher reservations released", zap.Int64("count", n))
	}
	return n, nil
}

// Jobs exposes the sweeps in the shape the scheduler runs them.
func (s *SweepService) Jobs() map[string]func(ctx context.Context, now time.Time) error {
	return map[string]func(ctx context.Context, now time.Time) error{
		JobSaleEvents: func(ctx context.Context, now time.Time) error {
			_, err := s.SweepSaleEvents(ctx, now)
			return err
		},
		JobAbandonedOrders: func(ctx context.Context, now time.Time) error {
			_, err := s.SweepAbandonedOrders(ctx, now)
			return err
		},
		JobVoucherReservations: func(ctx context.Context, now time.Time) error {
			_, err := s.SweepVoucherReservations(ctx, now)
			return err
		},
	}
}
