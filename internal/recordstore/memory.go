package recordstore

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// Ensure Memory implements the ports at compile time.
var (
	_ Store = (*Memory)(nil)
	_ Feed  = (*Memory)(nil)
)

type memOrder struct {
	userID int64 // 0 means no owner
	status domain.OrderStatus
}

type memLineItem struct {
	orderID   string
	productID int64
	price     decimal.Decimal
}

type memProduct struct {
	name       string
	placements []int64
}

// Memory is an in-memory Store and Feed for local development and tests.
// Inserting a line item publishes an event to every live subscription.
type Memory struct {
	mu       sync.RWMutex
	orders   map[string]*memOrder
	items    map[string]memLineItem
	itemSeq  int64
	products map[int64]memProduct
	links    map[int64]uuid.UUID
	coins    map[int64]decimal.Decimal
	refunds  map[string]Credit
	subs     map[chan RawEvent]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[string]*memOrder),
		items:    make(map[string]memLineItem),
		products: make(map[int64]memProduct),
		links:    make(map[int64]uuid.UUID),
		coins:    make(map[int64]decimal.Decimal),
		refunds:  make(map[string]Credit),
		subs:     make(map[chan RawEvent]struct{}),
	}
}

// PutOrder creates or replaces an order. userID 0 leaves it without owner.
func (m *Memory) PutOrder(orderID string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID] = &memOrder{userID: userID, status: domain.StatusPending}
}

// PutProduct registers a product and the locations it is placed at.
func (m *Memory) PutProduct(productID int64, name string, placements ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = memProduct{name: name, placements: placements}
}

// LinkStaff links a staff uuid to a location.
func (m *Memory) LinkStaff(locationID int64, staffUUID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[locationID] = staffUUID
}

// AddLineItem stores a line item and publishes its insert event.
func (m *Memory) AddLineItem(ctx context.Context, orderID string, productID int64, price decimal.Decimal) string {
	m.mu.Lock()
	m.itemSeq++
	id := strconv.FormatInt(m.itemSeq, 10)
	m.items[id] = memLineItem{orderID: orderID, productID: productID, price: price}
	subs := make([]chan RawEvent, 0, len(m.subs))
	for ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	ev := RawEvent{Payload: encodeInsert(LineItemsTable, id)}
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return id
		}
	}
	return id
}

// Status returns the current status of an order.
func (m *Memory) Status(orderID string) domain.OrderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[orderID]; ok {
		return o.status
	}
	return ""
}

// Balance returns a user's coins and whether the row exists.
func (m *Memory) Balance(userID int64) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coins[userID]
	return c, ok
}

func (m *Memory) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.status = status
	return nil
}

func (m *Memory) GetOrderOwner(_ context.Context, orderID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok || o.userID == 0 {
		return 0, false, nil
	}
	return o.userID, true, nil
}

func (m *Memory) GetOrderPrice(_ context.Context, orderID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, it := range m.items {
		if it.orderID == orderID {
			total = total.Add(it.price)
		}
	}
	return total, nil
}

func (m *Memory) OrderExists(_ context.Context, orderID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.orders[orderID]
	return ok, nil
}

func (m *Memory) CreditBalance(_ context.Context, credit Credit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.refunds[credit.OrderID]; done {
		return false, nil
	}
	m.refunds[credit.OrderID] = credit
	m.coins[credit.UserID] = m.coins[credit.UserID].Add(credit.Amount)
	return true, nil
}

func (m *Memory) GetStaffPlacement(_ context.Context, staffUUID uuid.UUID, locationID int64) (*StaffPlacement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	linked, ok := m.links[locationID]
	if !ok || linked != staffUUID {
		return nil, nil
	}
	return &StaffPlacement{LocationID: locationID, StaffUUID: linked}, nil
}

func (m *Memory) ResolveLineItem(_ context.Context, lineItemID string) (*LineItemJoin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[lineItemID]
	if !ok {
		return nil, nil
	}
	join := &LineItemJoin{LineItemID: lineItemID, OrderID: it.orderID}
	if p, ok := m.products[it.productID]; ok {
		join.ProductName = p.name
		join.LocationIDs = append([]int64(nil), p.placements...)
	}
	return join, nil
}

// SubscribeInserts returns a fresh subscription; each call is independent,
// which is how a restart after disconnect looks to the consumer.
func (m *Memory) SubscribeInserts(ctx context.Context, _ string) (<-chan RawEvent, error) {
	ch := make(chan RawEvent, 16)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	out := make(chan RawEvent)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if !send(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish pushes a raw payload to every subscription, bypassing the tables.
// Tests use it to inject malformed or replayed events.
func (m *Memory) Publish(ctx context.Context, payload []byte) {
	m.mu.RLock()
	subs := make([]chan RawEvent, 0, len(m.subs))
	for ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- RawEvent{Payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *Memory) Close() error { return nil }
