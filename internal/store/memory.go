package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
)

// MemoryStore keeps every table in process memory. It honours the same
// conditional-write contract as Store and backs STORE_DRIVER=memory and the
// service tests.
type MemoryStore struct {
	mu sync.Mutex

	// Clock stamps created_at/updated_at. Defaults to time.Now.
	Clock func() time.Time

	products   map[int64]models.Product
	variants   map[int64]models.Variant
	sales      map[int64]models.SaleEvent
	users      map[int64]models.User
	vouchers   map[int64]models.Voucher
	carts      map[int64]models.Cart
	orders     map[int64]models.Order
	orderItems map[int64][]models.OrderItem
	levels     []models.LevelSetting
	processed  map[string]string

	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Clock:      time.Now,
		products:   make(map[int64]models.Product),
		variants:   make(map[int64]models.Variant),
		sales:      make(map[int64]models.SaleEvent),
		users:      make(map[int64]models.User),
		vouchers:   make(map[int64]models.Voucher),
		carts:      make(map[int64]models.Cart),
		orders:     make(map[int64]models.Order),
		orderItems: make(map[int64][]models.OrderItem),
		processed:  make(map[string]string),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (m *MemoryStore) now() time.Time {
	return m.Clock()
}

func (m *MemoryStore) id(requested int64) int64 {
	if requested > m.nextID {
		m.nextID = requested
	}
	if requested != 0 {
		return requested
	}
	m.nextID++
	return m.nextID
}

// Migrate is a no-op for the memory store.
func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// PutProduct seeds or replaces a product and returns its id.
func (m *MemoryStore) PutProduct(p models.Product) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id(p.ID)
	m.products[p.ID] = p
	return p.ID
}

// PutVariant seeds or replaces a variant and returns its id.
func (m *MemoryStore) PutVariant(v models.Variant) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id(v.ID)
	m.variants[v.ID] = v
	return v.ID
}

// PutSaleEvent seeds or replaces a sale event and returns its id.
func (m *MemoryStore) PutSaleEvent(e models.SaleEvent) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id(e.ID)
	m.sales[e.ID] = e
	return e.ID
}

// PutUser seeds or replaces a user and returns its id.
func (m *MemoryStore) PutUser(u models.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.id(u.ID)
	m.users[u.ID] = u
	return u.ID
}

// PutVoucher seeds or replaces a voucher and returns its id.
func (m *MemoryStore) PutVoucher(v models.Voucher) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id(v.ID)
	v.Code = normalizeCode(v.Code)
	m.vouchers[v.ID] = v
	return v.ID
}

// PutOrder seeds or replaces an order without touching any cart.
func (m *MemoryStore) PutOrder(o models.Order) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.id(o.ID)
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = m.now()
	}
	m.orders[o.ID] = o
	return o.ID
}

// SetLevelSettings replaces the threshold table.
func (m *MemoryStore) SetLevelSettings(rows []models.LevelSetting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = append([]models.LevelSetting(nil), rows...)
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return &p, nil
}

func (m *MemoryStore) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: variant %d", ErrNotFound, id)
	}
	return &v, nil
}

func (m *MemoryStore) ListSaleEventsByProduct(ctx context.Context, productID int64) ([]models.SaleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []models.SaleEvent
	for _, e := range m.sales {
		if e.ProductID == productID && e.Status != models.SaleStatusExpired {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartsAt.Before(events[j].StartsAt)
	})
	return events, nil
}

func (m *MemoryStore) ExpireSaleEvents(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.sales {
		if e.EndsAt.Before(now) && e.Status != models.SaleStatusExpired {
			e.Status = models.SaleStatusExpired
			m.sales[id] = e
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ActivateSaleEvents(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.sales {
		if e.Status == models.SaleStatusActive {
			continue
		}
		if !now.Before(e.StartsAt) && !now.After(e.EndsAt) {
			e.Status = models.SaleStatusActive
			m.sales[id] = e
			n++
		}
	}
	return n, nil
}

// GetSaleEvent returns a copy of a stored sale event.
func (m *MemoryStore) GetSaleEvent(id int64) (models.SaleEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sales[id]
	return e, ok
}

func copyCart(c models.Cart) *models.Cart {
	c.Items = append(models.CartItems(nil), c.Items...)
	return &c
}

func (m *MemoryStore) GetCartByID(ctx context.Context, id int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return nil, fmt.Errorf("%w: cart %d", ErrNotFound, id)
	}
	return copyCart(c), nil
}

func (m *MemoryStore) GetActiveCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Cart
	for _, c := range m.carts {
		if c.UserID == nil || *c.UserID != userID || c.PurchasedAt != nil {
			continue
		}
		if found == nil || c.UpdatedAt.After(found.UpdatedAt) ||
			(c.UpdatedAt.Equal(found.UpdatedAt) && c.ID > found.ID) {
			found = copyCart(c)
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: active cart for user %d", ErrNotFound, userID)
	}
	return found, nil
}

func (m *MemoryStore) SaveCart(ctx context.Context, cart *models.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cart.ID == 0 {
		cart.ID = m.id(0)
		cart.CreatedAt = now
	} else if _, ok := m.carts[cart.ID]; !ok {
		return fmt.Errorf("%w: cart %d", ErrNotFound, cart.ID)
	}
	cart.UpdatedAt = now
	m.carts[cart.ID] = *copyCart(*cart)
	return nil
}

func (m *MemoryStore) ReleaseExpiredVoucherReservations(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.carts {
		if c.PurchasedAt != nil || c.ReservedVoucherExpiresAt == nil || !c.ReservedVoucherExpiresAt.Before(now) {
			continue
		}
		c.ClearVoucher()
		c.Subtotal = c.OriginalSubtotal - c.LevelDiscount
		if c.Subtotal < 0 {
			c.Subtotal = 0
		}
		c.UpdatedAt = m.now()
		m.carts[id] = c
		n++
	}
	return n, nil
}

func (m *MemoryStore) GetVoucherByID(ctx context.Context, id int64) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, fmt.Errorf("%w: voucher %d", ErrNotFound, id)
	}
	return &v, nil
}

func (m *MemoryStore) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if v.Code == code {
			v := v
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%w: voucher %s", ErrNotFound, code)
}

func (m *MemoryStore) AdjustVoucherUsage(ctx context.Context, voucherID int64, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[voucherID]
	if !ok {
		return 0, fmt.Errorf("%w: voucher %d", ErrNotFound, voucherID)
	}
	v.UsedCount += delta
	if v.UsedCount < 0 {
		v.UsedCount = 0
	}
	v.UpdatedAt = m.now()
	m.vouchers[voucherID] = v
	return v.UsedCount, nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return &u, nil
}

func (m *MemoryStore) UpdateUserSpend(ctx context.Context, userID, totalSpent int64, level string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	u.TotalSpent = totalSpent
	u.Level = level
	u.UpdatedAt = m.now()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) GetLevelSettings(ctx context.Context) (models.LevelSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.NewLevelSettings(m.levels), nil
}

func (m *MemoryStore) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.IdempotencyKey == order.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key %s already used", ErrConflict, order.IdempotencyKey)
		}
	}

	now := m.now()
	if order.CartID != nil {
		c, ok := m.carts[*order.CartID]
		if !ok {
			return fmt.Errorf("%w: cart %d", ErrNotFound, *order.CartID)
		}
		if c.PurchasedAt != nil {
			return fmt.Errorf("%w: cart %d already purchased", ErrConflict, *order.CartID)
		}
		c.PurchasedAt = &now
		c.UpdatedAt = now
		m.carts[c.ID] = c
	}

	order.ID = m.id(0)
	order.CreatedAt = now
	order.UpdatedAt = now
	m.orders[order.ID] = *order

	stored := make([]models.OrderItem, len(items))
	for i := range items {
		items[i].ID = m.id(0)
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	m.orderItems[order.ID] = stored
	return nil
}

func (m *MemoryStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return &o, nil
}

func (m *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.orderItems[orderID]...), nil
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return nil, fmt.Errorf("%w: order %d is not %s", ErrConflict, orderID, from)
	}
	o.Status = to
	o.UpdatedAt = m.now()
	m.orders[orderID] = o
	return &o, nil
}

func (m *MemoryStore) CountUserVoucherOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		id, ok := o.Voucher.ID()
		if o.UserID == userID && ok && id == voucherID && o.Status != models.OrderStatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SumCompletedOrderAmounts(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == models.OrderStatusCompleted {
			total += o.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) CancelStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var flipped []models.Order
	for id, o := range m.orders {
		if o.Status != models.OrderStatusProcessing || !o.UpdatedAt.Before(cutoff) {
			continue
		}
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = m.now()
		m.orders[id] = o
		flipped = append(flipped, o)
	}
	sort.Slice(flipped, func(i, j int) bool { return flipped[i].ID < flipped[j].ID })
	return flipped, nil
}

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = eventType
	}
	return nil
}
