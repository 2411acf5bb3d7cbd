package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/store"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	repriced []*models.CartRepricedEvent
	detached []*models.VoucherDetachedEvent
	usage    []*models.VoucherUsageAdjustedEvent
	levels   []*models.UserLevelChangedEvent
}

func (p *recordingPublisher) PublishCartRepriced(_ context.Context, e *models.CartRepricedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repriced = append(p.repriced, e)
	return nil
}

func (p *recordingPublisher) PublishVoucherDetached(_ context.Context, e *models.VoucherDetachedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = append(p.detached, e)
	return nil
}

func (p *recordingPublisher) PublishVoucherUsageAdjusted(_ context.Context, e *models.VoucherUsageAdjustedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage = append(p.usage, e)
	return nil
}

func (p *recordingPublisher) PublishUserLevelChanged(_ context.Context, e *models.UserLevelChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, e)
	return nil
}

type fixture struct {
	ctx    context.Context
	now    time.Time
	store  *store.MemoryStore
	pub    *recordingPublisher
	carts  *CartService
	ledger *LedgerService
	orders *OrderService
	sweeps *SweepService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx: context.Background(),
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		pub: &recordingPublisher{},
	}
	clock := func() time.Time { return f.now }

	f.store = store.NewMemoryStore()
	f.store.Clock = clock
	f.store.SetLevelSettings([]models.LevelSetting{
		{Level: "silver", MinSpending: 5000, DiscountPercent: 5},
		{Level: "bronze", MinSpending: 0},
		{Level: "gold", MinSpending: 50000, DiscountPercent: 10, FreeShipping: true},
	})

	levels := NewLevelSettingsProvider(f.store, nil, time.Minute)
	f.carts = NewCartService(f.store, levels, f.pub, 15*time.Minute)
	f.carts.now = clock
	f.ledger = NewLedgerService(f.store, levels, f.pub)
	f.ledger.now = clock
	f.orders = NewOrderService(f.store, f.carts, f.ledger, nil)
	f.sweeps = NewSweepService(f.store, f.ledger, 30*time.Minute)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func ptr[T any](v T) *T {
	return &v
}

// seedUserCart creates a user at level with an active cart holding one line
// of productPrice x quantity. It returns the user, product and cart ids.
func (f *fixture) seedUserCart(t *testing.T, level string, productPrice int64, quantity int) (int64, int64, int64) {
	t.Helper()

	userID := f.store.PutUser(models.User{Email: "buyer@example.com", Level: level})
	productID := f.store.PutProduct(models.Product{SKU: "SKU-1", Name: "Rose bouquet", Price: ptr(productPrice)})

	cart := &models.Cart{
		UserID: &userID,
		Items:  models.CartItems{{ProductID: productID, Quantity: quantity}},
	}
	require.NoError(t, f.store.SaveCart(f.ctx, cart))
	return userID, productID, cart.ID
}

func (f *fixture) voucher(t *testing.T, v models.Voucher) int64 {
	t.Helper()
	if v.Status == "" {
		v.Status = models.VoucherStatusPublished
	}
	if v.Scope == "" {
		v.Scope = models.VoucherScopeAll
	}
	if v.AssignMode == "" {
		v.AssignMode = models.AssignModeAll
	}
	return f.store.PutVoucher(v)
}

func (f *fixture) usedCount(t *testing.T, voucherID int64) int64 {
	t.Helper()
	v, err := f.store.GetVoucherByID(f.ctx, voucherID)
	require.NoError(t, err)
	return v.UsedCount
}

func (f *fixture) user(t *testing.T, userID int64) *models.User {
	t.Helper()
	u, err := f.store.GetUserByID(f.ctx, userID)
	require.NoError(t, err)
	return u
}
