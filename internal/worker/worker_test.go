package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/service"
	"github.com/cogivn/daisy-flower-sub000/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctx    context.Context
	store  *store.MemoryStore
	worker *TriggerWorker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ms := store.NewMemoryStore()
	ms.SetLevelSettings([]models.LevelSetting{
		{Level: "bronze", MinSpending: 0},
		{Level: "silver", MinSpending: 5000, DiscountPercent: 5},
	})

	levels := service.NewLevelSettingsProvider(ms, nil, time.Minute)
	carts := service.NewCartService(ms, levels, service.NopPublisher{}, 15*time.Minute)
	ledger := service.NewLedgerService(ms, levels, service.NopPublisher{})

	return &harness{
		ctx:    context.Background(),
		store:  ms,
		worker: NewTriggerWorker(nil, ms, ms, carts, ledger),
	}
}

func (h *harness) deliver(t *testing.T, event interface{}) {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, h.worker.HandleMessage(h.ctx, kafka.Message{Value: value}))
}

func base(id, eventType string) models.BaseEvent {
	return models.BaseEvent{EventID: id, EventType: eventType, Timestamp: time.Now().UTC()}
}

func TestCartWrittenRecomputesOnce(t *testing.T) {
	h := newHarness(t)
	price := int64(1200)
	productID := h.store.PutProduct(models.Product{SKU: "TULIP", Price: &price})
	cart := &models.Cart{Items: models.CartItems{{ProductID: productID, Quantity: 2}}}
	require.NoError(t, h.store.SaveCart(h.ctx, cart))

	event := &models.CartWrittenEvent{BaseEvent: base("evt-cart-1", models.EventTypeCartWritten), CartID: cart.ID}
	h.deliver(t, event)

	got, err := h.store.GetCartByID(h.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), got.Subtotal)

	got.Items[0].Quantity = 5
	require.NoError(t, h.store.SaveCart(h.ctx, got))

	// redelivery of the same event is dropped
	h.deliver(t, event)
	got, err = h.store.GetCartByID(h.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), got.Subtotal)

	processed, err := h.store.IsEventProcessed(h.ctx, "evt-cart-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestEngineWritesAreNotFedBack(t *testing.T) {
	h := newHarness(t)
	price := int64(1200)
	productID := h.store.PutProduct(models.Product{SKU: "TULIP", Price: &price})
	cart := &models.Cart{Items: models.CartItems{{ProductID: productID, Quantity: 2}}}
	require.NoError(t, h.store.SaveCart(h.ctx, cart))

	h.deliver(t, &models.CartWrittenEvent{
		BaseEvent:  base("evt-cart-2", models.EventTypeCartWritten),
		WriteFlags: models.WriteFlags{SkipRecompute: true, SkipLedgerSync: true},
		CartID:     cart.ID,
	})

	got, err := h.store.GetCartByID(h.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Subtotal)
}

func TestCartWrittenForMissingCartIsDropped(t *testing.T) {
	h := newHarness(t)
	h.deliver(t, &models.CartWrittenEvent{BaseEvent: base("evt-cart-3", models.EventTypeCartWritten), CartID: 404})
}

func TestOrderStatusChangedReleasesVoucher(t *testing.T) {
	h := newHarness(t)
	voucherID := h.store.PutVoucher(models.Voucher{Code: "SPRING", Status: models.VoucherStatusPublished, UsedCount: 1})
	orderID := h.store.PutOrder(models.Order{
		UserID:         1,
		Voucher:        models.RefID[models.Voucher](voucherID),
		Status:         models.OrderStatusCancelled,
		IdempotencyKey: "k1",
	})

	event := &models.OrderStatusChangedEvent{
		BaseEvent:      base("evt-order-1", models.EventTypeOrderStatusChanged),
		Order:          models.RefID[models.Order](orderID),
		PreviousStatus: models.OrderStatusProcessing,
		Status:         models.OrderStatusCancelled,
	}
	h.deliver(t, event)
	h.deliver(t, event)

	v, err := h.store.GetVoucherByID(h.ctx, voucherID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.UsedCount)
}

func TestOrderCreatedClaimsVoucher(t *testing.T) {
	h := newHarness(t)
	voucherID := h.store.PutVoucher(models.Voucher{Code: "SPRING", Status: models.VoucherStatusPublished})
	orderID := h.store.PutOrder(models.Order{
		UserID:         1,
		Voucher:        models.RefID[models.Voucher](voucherID),
		Status:         models.OrderStatusProcessing,
		IdempotencyKey: "k1",
	})

	h.deliver(t, &models.OrderCreatedEvent{
		BaseEvent: base("evt-order-2", models.EventTypeOrderCreated),
		Order:     models.RefID[models.Order](orderID),
	})

	v, err := h.store.GetVoucherByID(h.ctx, voucherID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.UsedCount)

	// unknown orders are dropped without error
	h.deliver(t, &models.OrderCreatedEvent{
		BaseEvent: base("evt-order-3", models.EventTypeOrderCreated),
		Order:     models.RefID[models.Order](9999),
	})
}

func TestLevelSettingsWrittenResyncsUsers(t *testing.T) {
	h := newHarness(t)
	userID := h.store.PutUser(models.User{Level: "bronze"})
	h.store.PutOrder(models.Order{UserID: userID, Amount: 7000, Status: models.OrderStatusCompleted, IdempotencyKey: "k1"})

	h.deliver(t, &models.LevelSettingsWrittenEvent{BaseEvent: base("evt-levels-1", models.EventTypeLevelSettingsWritten)})

	user, err := h.store.GetUserByID(h.ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "silver", user.Level)
	assert.Equal(t, int64(7000), user.TotalSpent)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	released []string
	err      error
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.held[key] = "token-" + key
	return l.held[key], nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released = append(l.released, key)
	}
	return nil
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{"sweep-lock:sale-events": "other"}}
	s := NewScheduler(nil, 1, locker, time.Second)

	var runs int32
	job := Job{Name: "sale-events", Run: func(context.Context, time.Time) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}

	assert.False(t, s.RunOnce(context.Background(), job))
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestRunOnceReleasesLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{}}
	s := NewScheduler(nil, 1, locker, time.Second)

	job := Job{Name: "abandoned-orders", Run: func(context.Context, time.Time) error {
		return errors.New("db down")
	}}

	assert.True(t, s.RunOnce(context.Background(), job))
	assert.Equal(t, []string{"sweep-lock:abandoned-orders"}, locker.released)
	assert.Empty(t, locker.held)
}

func TestRunOnceFallsBackWhenLockerFails(t *testing.T) {
	s := NewScheduler(nil, 1, &fakeLocker{err: errors.New("redis down")}, time.Second)

	ran := false
	job := Job{Name: "voucher-reservations", Run: func(context.Context, time.Time) error {
		ran = true
		return nil
	}}

	assert.True(t, s.RunOnce(context.Background(), job))
	assert.True(t, ran)
}

func TestSchedulerRunsEveryJobAtStartup(t *testing.T) {
	seen := make(chan string, 10)
	jobs := []Job{
		{Name: "a", Interval: time.Hour, Run: func(context.Context, time.Time) error { seen <- "a"; return nil }},
		{Name: "b", Interval: time.Hour, Run: func(context.Context, time.Time) error { seen <- "b"; return nil }},
		{Name: "off", Interval: 0, Run: func(context.Context, time.Time) error { seen <- "off"; return nil }},
	}
	s := NewScheduler(jobs, 2, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case name := <-seen:
			got[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not run")
		}
	}
	cancel()
	<-done

	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)
}
