// Package recordstore is the client for the persistent record store: orders,
// order line items, product placements, staff links and the coins ledger.
//
// The coordinator depends on the small interfaces below rather than on
// Postgres directly, so the in-memory implementation can stand in for local
// runs and tests.
package recordstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// LineItemsTable is the table whose inserts drive new-order notifications.
const LineItemsTable = "order_items"

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("recordstore: not found")

// Orders reads and updates the orders table.
type Orders interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	// GetOrderOwner returns ok=false when the order has no resolvable user.
	GetOrderOwner(ctx context.Context, orderID string) (userID int64, ok bool, err error)
	// GetOrderPrice sums line item prices; zero for an order without items.
	GetOrderPrice(ctx context.Context, orderID string) (decimal.Decimal, error)
	OrderExists(ctx context.Context, orderID string) (bool, error)
}

// Balances credits the coins ledger.
type Balances interface {
	// CreditBalance adds Amount to the user's balance, creating the row when
	// absent. Credits are keyed by OrderID: a repeated credit for the same
	// order is not applied again and reports applied=false.
	CreditBalance(ctx context.Context, credit Credit) (applied bool, err error)
}

// Placements validates staff-to-location links.
type Placements interface {
	// GetStaffPlacement returns nil when the pair does not exist.
	GetStaffPlacement(ctx context.Context, staffUUID uuid.UUID, locationID int64) (*StaffPlacement, error)
}

// LineItems resolves a line item to its order, product and placements.
type LineItems interface {
	// ResolveLineItem returns nil when the line item does not exist.
	ResolveLineItem(ctx context.Context, lineItemID string) (*LineItemJoin, error)
}

// Feed yields raw insert payloads for a table. The returned channel is
// closed once ctx is cancelled and the subscription has been released.
type Feed interface {
	SubscribeInserts(ctx context.Context, table string) (<-chan RawEvent, error)
}

// Store is the full record store client.
type Store interface {
	Orders
	Balances
	Placements
	LineItems
	Close() error
}

// Credit is one refund applied to a user's balance.
type Credit struct {
	OrderID string
	UserID  int64
	Amount  decimal.Decimal
}

// StaffPlacement is a row of partners_and_places_link.
type StaffPlacement struct {
	LocationID int64
	StaffUUID  uuid.UUID
}

// LineItemJoin is the result of joining a line item to product and placements.
// Fields are empty when the corresponding row is missing.
type LineItemJoin struct {
	LineItemID  string
	OrderID     string
	ProductName string
	// LocationIDs lists the product's placements in store order.
	LocationIDs []int64
}

// RawEvent is one change-feed notification.
type RawEvent struct {
	Payload []byte
	// Replayed is set for events re-read after a reconnect.
	Replayed bool
}
