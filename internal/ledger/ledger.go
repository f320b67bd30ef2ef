// Package ledger computes refund amounts and credits them to a user's coins.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-approvals/internal/recordstore"
)

// ErrNegativeAmount is returned for credits that would decrement a balance.
var ErrNegativeAmount = errors.New("ledger: refund amount must not be negative")

// Store is the subset of the record store the ledger needs.
type Store interface {
	GetOrderPrice(ctx context.Context, orderID string) (decimal.Decimal, error)
	CreditBalance(ctx context.Context, credit recordstore.Credit) (bool, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// ComputePrice sums the prices of the order's line items. An order without
// line items, or one that does not exist, totals zero.
func (l *Ledger) ComputePrice(ctx context.Context, orderID string) (decimal.Decimal, error) {
	total, err := l.store.GetOrderPrice(ctx, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("compute price of %s: %w", orderID, err)
	}
	return total, nil
}

// CreditUser adds amount to userID's balance as the refund for orderID,
// creating the balance when absent. A second credit for the same order is
// skipped and reported with applied=false.
func (l *Ledger) CreditUser(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) (bool, error) {
	if amount.IsNegative() {
		return false, ErrNegativeAmount
	}

	applied, err := l.store.CreditBalance(ctx, recordstore.Credit{OrderID: orderID, UserID: userID, Amount: amount})
	if err != nil {
		return false, fmt.Errorf("credit user %d for %s: %w", userID, orderID, err)
	}
	if !applied {
		slog.WarnContext(ctx, "refund already applied, skipping", "order_id", orderID, "user_id", userID)
		return false, nil
	}

	slog.InfoContext(ctx, "refund credited", "order_id", orderID, "user_id", userID, "amount", amount.String())
	return true, nil
}
