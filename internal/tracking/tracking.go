// Package tracking owns the coordinator's shared state: the pending-order
// set, the delivered-copy index and the recorded decisions.
//
// ClaimPending is the one mandatory exclusion boundary: it checks for and
// removes a pending order in a single atomic step, so of two concurrent
// decisions on the same order exactly one observes it.
package tracking

import (
	"context"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// Store is implemented by Memory (single process) and Redis (shared).
type Store interface {
	// AddPending inserts p unless its order was already seen, pending or
	// decided. It reports whether the entry was created.
	AddPending(ctx context.Context, p domain.PendingOrder) (bool, error)
	// ClaimPending atomically removes and returns the pending entry, or
	// fails with domain.ErrOrderNotFound.
	ClaimPending(ctx context.Context, orderID string) (domain.PendingOrder, error)
	// RestorePending puts a claimed entry back after a failed decision.
	RestorePending(ctx context.Context, p domain.PendingOrder) error
	GetPending(ctx context.Context, orderID string) (domain.PendingOrder, bool, error)

	// AddCopy records a delivered message. If the order was already decided
	// the decision is returned so the caller can bring the copy in sync.
	AddCopy(ctx context.Context, c domain.DeliveredCopy) (*domain.Decision, error)
	Copies(ctx context.Context, orderID string) ([]domain.DeliveredCopy, error)

	SetDecision(ctx context.Context, d domain.Decision) error
	// GetDecision returns nil when the order has not been decided.
	GetDecision(ctx context.Context, orderID string) (*domain.Decision, error)
}
