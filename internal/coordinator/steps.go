package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/ledger"
	"github.com/jcmexdev/order-approvals/internal/pkg/retry"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
)

// --- StatusStep ---

// StatusStep moves the order record to a terminal status. Compensation puts
// it back to pending.
type StatusStep struct {
	orders  recordstore.Orders
	retry   retry.Config
	orderID string
	status  domain.OrderStatus
}

func NewStatusStep(orders recordstore.Orders, cfg retry.Config, orderID string, status domain.OrderStatus) *StatusStep {
	return &StatusStep{orders: orders, retry: cfg, orderID: orderID, status: status}
}

func (s *StatusStep) Name() string { return "order_status" }

func (s *StatusStep) Execute(ctx context.Context) error {
	return s.set(ctx, s.status)
}

func (s *StatusStep) Compensate(ctx context.Context) error {
	return s.set(ctx, domain.StatusPending)
}

func (s *StatusStep) set(ctx context.Context, status domain.OrderStatus) error {
	err := retry.Run(ctx, s.retry, func(ctx context.Context) error {
		err := s.orders.UpdateOrderStatus(ctx, s.orderID, status)
		if errors.Is(err, recordstore.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, recordstore.ErrNotFound) {
		return fmt.Errorf("set status %s: %w: order missing from store", status, domain.ErrDataIntegrity)
	}
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// --- RefundStep ---

// Refunder credits a user for a rejected order. Credits are keyed by order
// so repeating one is safe.
type Refunder interface {
	CreditUser(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) (bool, error)
}

// RefundStep credits the order's total back to its owner. It is the last
// step of a rejection; once applied the credit is never reversed.
type RefundStep struct {
	ledger  Refunder
	retry   retry.Config
	orderID string
	userID  int64
	amount  decimal.Decimal

	applied bool
}

func NewRefundStep(ledger Refunder, cfg retry.Config, orderID string, userID int64, amount decimal.Decimal) *RefundStep {
	return &RefundStep{ledger: ledger, retry: cfg, orderID: orderID, userID: userID, amount: amount}
}

func (s *RefundStep) Name() string { return "refund" }

// Execute retries until the ledger confirms the credit. A retry after an
// ambiguous failure reports applied=false when the earlier attempt landed.
func (s *RefundStep) Execute(ctx context.Context) error {
	applied, err := retry.Do(ctx, s.retry, func(ctx context.Context) (bool, error) {
		applied, err := s.ledger.CreditUser(ctx, s.userID, s.amount, s.orderID)
		if errors.Is(err, ledger.ErrNegativeAmount) {
			return false, retry.Permanent(err)
		}
		return applied, err
	})
	if err != nil {
		return fmt.Errorf("credit user %d: %w", s.userID, err)
	}
	s.applied = applied
	return nil
}

// Compensate is a no-op: ledger balances are never decremented.
func (s *RefundStep) Compensate(context.Context) error { return nil }

// Applied reports whether Execute credited the balance, as opposed to
// finding the refund already recorded.
func (s *RefundStep) Applied() bool { return s.applied }
