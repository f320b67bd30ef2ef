// Package coordinator drives each order from pending to approved or
// rejected. It owns the pending set through tracking.Store, applies the
// record store side effects as compensable steps and keeps every delivered
// message copy in sync with the outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/order-approvals/internal/coordinator/auditlog"
	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/fanout"
	"github.com/jcmexdev/order-approvals/internal/pkg/retry"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
	"github.com/jcmexdev/order-approvals/internal/tracking"
)

const tracerName = "github.com/jcmexdev/order-approvals/internal/coordinator"

// Notifier fans notifications out and edits delivered copies.
type Notifier interface {
	Notify(ctx context.Context, n domain.OrderNotification) (fanout.Report, error)
	SyncDecision(ctx context.Context, d domain.Decision) (fanout.Report, error)
}

// Ledger computes refunds and credits them.
type Ledger interface {
	Refunder
	ComputePrice(ctx context.Context, orderID string) (decimal.Decimal, error)
}

// Deps are the collaborators of a Coordinator. Audit defaults to
// auditlog.Nop and Retry to retry.DefaultConfig.
type Deps struct {
	Orders   recordstore.Orders
	Ledger   Ledger
	Tracking tracking.Store
	Notifier Notifier
	Audit    auditlog.Repository
	Retry    retry.Config
}

type Coordinator struct {
	orders   recordstore.Orders
	ledger   Ledger
	tracking tracking.Store
	notifier Notifier
	audit    auditlog.Repository
	retry    retry.Config
	tracer   trace.Tracer
}

func New(d Deps) *Coordinator {
	if d.Audit == nil {
		d.Audit = auditlog.Nop{}
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry = retry.DefaultConfig()
	}
	return &Coordinator{
		orders:   d.Orders,
		ledger:   d.Ledger,
		tracking: d.Tracking,
		notifier: d.Notifier,
		audit:    d.Audit,
		retry:    d.Retry,
		tracer:   otel.Tracer(tracerName),
	}
}

// Submit registers a resolved notification as pending and fans it out.
// Duplicates are reported in the returned Report and change nothing.
func (c *Coordinator) Submit(ctx context.Context, n domain.OrderNotification) (fanout.Report, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Submit", trace.WithAttributes(
		attribute.String("order.id", n.OrderID),
		attribute.Int64("location.id", n.LocationID),
	))
	defer span.End()

	report, err := c.notifier.Notify(ctx, n)
	if err != nil {
		recordSpanError(span, err)
		return report, err
	}
	if report.Duplicate {
		span.SetAttributes(attribute.Bool("order.duplicate", true))
		return report, nil
	}

	var errs []string
	for _, f := range report.Failures {
		errs = append(errs, f.Error())
	}
	c.record(ctx, auditlog.NewEntry(ctx, n.OrderID, auditlog.EventPending, "", 0, map[string]any{
		"product_name": n.ProductName,
		"location_id":  n.LocationID,
		"recipients":   report.Attempted,
		"delivered":    report.Succeeded,
	}, errs))
	return report, nil
}

// Approve marks the order successful and edits every delivered copy to the
// approved rendering. It fails with domain.ErrOrderNotFound unless the order
// is pending, so of two racing decisions only one proceeds.
func (c *Coordinator) Approve(ctx context.Context, orderID string, actor domain.StaffID) (domain.Decision, error) {
	const op = "approve"
	ctx, span := c.startDecision(ctx, op, orderID, actor)
	defer span.End()
	// Once claimed, a decision runs to completion or is rolled back even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	p, err := c.claim(ctx, op, orderID)
	if err != nil {
		recordSpanError(span, err)
		return domain.Decision{}, err
	}

	saga := c.newOrchestrator(orderID, actor,
		NewStatusStep(c.orders, c.retry, orderID, domain.StatusSuccess),
	)
	if err := saga.Start(ctx); err != nil {
		return domain.Decision{}, c.fail(ctx, span, op, p, actor, err)
	}

	d := domain.Decision{
		OrderID:     orderID,
		ProductName: p.Notification.ProductName,
		Outcome:     domain.OutcomeApproved,
		DecidedBy:   actor,
	}
	c.finish(ctx, d, auditlog.EventApproved, nil)
	return d, nil
}

// Reject cancels the order, refunds its total to the owner and edits every
// delivered copy to the rejected rendering. A missing owner fails with
// domain.ErrDataIntegrity and leaves the order pending.
func (c *Coordinator) Reject(ctx context.Context, orderID string, actor domain.StaffID) (domain.Decision, error) {
	const op = "reject"
	ctx, span := c.startDecision(ctx, op, orderID, actor)
	defer span.End()
	// Once claimed, a decision runs to completion or is rolled back even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	p, err := c.claim(ctx, op, orderID)
	if err != nil {
		recordSpanError(span, err)
		return domain.Decision{}, err
	}

	owner, err := retry.Do(ctx, c.retry, func(ctx context.Context) (ownerLookup, error) {
		id, ok, err := c.orders.GetOrderOwner(ctx, orderID)
		return ownerLookup{userID: id, ok: ok}, err
	})
	if err != nil {
		return domain.Decision{}, c.fail(ctx, span, op, p, actor, fmt.Errorf("resolve owner: %w", err))
	}
	if !owner.ok {
		return domain.Decision{}, c.fail(ctx, span, op, p, actor,
			fmt.Errorf("resolve owner: %w: order has no user", domain.ErrDataIntegrity))
	}

	amount, err := retry.Do(ctx, c.retry, func(ctx context.Context) (decimal.Decimal, error) {
		return c.ledger.ComputePrice(ctx, orderID)
	})
	if err != nil {
		return domain.Decision{}, c.fail(ctx, span, op, p, actor, fmt.Errorf("compute refund: %w", err))
	}
	span.SetAttributes(attribute.String("refund.amount", amount.String()))

	userID := owner.userID
	refund := NewRefundStep(c.ledger, c.retry, orderID, userID, amount)
	saga := c.newOrchestrator(orderID, actor,
		NewStatusStep(c.orders, c.retry, orderID, domain.StatusCancel),
		refund,
	)
	if err := saga.Start(ctx); err != nil {
		return domain.Decision{}, c.fail(ctx, span, op, p, actor, err)
	}

	d := domain.Decision{
		OrderID:     orderID,
		ProductName: p.Notification.ProductName,
		Outcome:     domain.OutcomeRejected,
		Refund:      amount,
		DecidedBy:   actor,
	}
	c.finish(ctx, d, auditlog.EventRejected, map[string]any{
		"user_id":        userID,
		"refund":         amount.String(),
		"refund_applied": refund.Applied(),
	})
	return d, nil
}

// OrderView is the coordinator's knowledge of one order.
type OrderView struct {
	OrderID  string
	Pending  *domain.PendingOrder
	Decision *domain.Decision
	Copies   []domain.DeliveredCopy
}

// Inspect returns what is tracked for orderID, or domain.ErrOrderNotFound
// when the order was never seen.
func (c *Coordinator) Inspect(ctx context.Context, orderID string) (OrderView, error) {
	view := OrderView{OrderID: orderID}

	p, ok, err := c.tracking.GetPending(ctx, orderID)
	if err != nil {
		return view, &domain.OrderError{Op: "inspect", OrderID: orderID, Err: err}
	}
	if ok {
		view.Pending = &p
	}
	if view.Decision, err = c.tracking.GetDecision(ctx, orderID); err != nil {
		return view, &domain.OrderError{Op: "inspect", OrderID: orderID, Err: err}
	}
	if view.Copies, err = c.tracking.Copies(ctx, orderID); err != nil {
		return view, &domain.OrderError{Op: "inspect", OrderID: orderID, Err: err}
	}

	if view.Pending == nil && view.Decision == nil && len(view.Copies) == 0 {
		return view, &domain.OrderError{Op: "inspect", OrderID: orderID, Err: domain.ErrOrderNotFound}
	}
	return view, nil
}

type ownerLookup struct {
	userID int64
	ok     bool
}

func (c *Coordinator) startDecision(ctx context.Context, op, orderID string, actor domain.StaffID) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+op, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("staff.id", int64(actor)),
	))
}

// claim is the check-and-delete on the pending set.
func (c *Coordinator) claim(ctx context.Context, op, orderID string) (domain.PendingOrder, error) {
	p, err := c.tracking.ClaimPending(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		slog.InfoContext(ctx, "decision on unknown or decided order", "op", op, "order_id", orderID)
		return p, &domain.OrderError{Op: op, OrderID: orderID, Err: domain.ErrOrderNotFound}
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim pending order", "op", op, "order_id", orderID, "error", err)
		return p, &domain.OrderError{Op: op, OrderID: orderID, Err: fmt.Errorf("%w: claim: %w", domain.ErrStoreFailure, err)}
	}
	return p, nil
}

func (c *Coordinator) newOrchestrator(orderID string, actor domain.StaffID, steps ...Step) *Orchestrator {
	o := NewOrchestrator(steps...)
	o.onCompensated = func(ctx context.Context, step string) {
		c.record(ctx, auditlog.NewEntry(ctx, orderID, auditlog.EventCompensated, step, int64(actor), nil, nil))
	}
	return o
}

// fail puts the claimed order back into the pending set and classifies
// cause. The restore outlives the caller's context.
func (c *Coordinator) fail(ctx context.Context, span trace.Span, op string, p domain.PendingOrder, actor domain.StaffID, cause error) error {
	ctx = context.WithoutCancel(ctx)

	var step string
	var se *StepError
	if errors.As(cause, &se) {
		step = se.Step
	}
	c.record(ctx, auditlog.NewEntry(ctx, p.OrderID, auditlog.EventFailed, step, int64(actor), nil, []string{cause.Error()}))

	restoreErr := retry.Run(ctx, c.retry, func(ctx context.Context) error {
		return c.tracking.RestorePending(ctx, p)
	})
	if restoreErr != nil {
		slog.ErrorContext(ctx, "CRITICAL: failed to restore pending order",
			"op", op, "order_id", p.OrderID, "error", restoreErr)
	} else {
		c.record(ctx, auditlog.NewEntry(ctx, p.OrderID, auditlog.EventRestored, step, int64(actor), nil, nil))
	}

	var err error
	switch {
	case errors.Is(cause, domain.ErrDataIntegrity):
		err = cause
	default:
		err = fmt.Errorf("%w: %w", domain.ErrStoreFailure, cause)
	}
	if restoreErr != nil {
		err = errors.Join(err, fmt.Errorf("restore pending: %w", restoreErr))
	}
	err = &domain.OrderError{Op: op, OrderID: p.OrderID, Err: err}

	slog.ErrorContext(ctx, "order decision failed", "op", op, "order_id", p.OrderID, "error", err)
	recordSpanError(span, err)
	return err
}

// finish records the decision and edits the delivered copies. The store
// side effects have already been applied, so failures here are logged only.
func (c *Coordinator) finish(ctx context.Context, d domain.Decision, event auditlog.Event, detail map[string]any) {
	ctx = context.WithoutCancel(ctx)

	err := retry.Run(ctx, c.retry, func(ctx context.Context) error {
		return c.tracking.SetDecision(ctx, d)
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record decision", "order_id", d.OrderID, "error", err)
	}

	c.record(ctx, auditlog.NewEntry(ctx, d.OrderID, event, "", int64(d.DecidedBy), detail, nil))

	report, err := c.notifier.SyncDecision(ctx, d)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sync delivered copies", "order_id", d.OrderID, "error", err)
	} else if ferr := report.Err(); ferr != nil {
		slog.WarnContext(ctx, "some delivered copies were not updated", "order_id", d.OrderID, "error", ferr)
	}

	slog.InfoContext(ctx, "order decided",
		"order_id", d.OrderID, "outcome", d.Outcome, "staff_id", d.DecidedBy,
		"copies", report.Attempted, "synced", report.Succeeded)
}

func (c *Coordinator) record(ctx context.Context, entry *auditlog.Entry) {
	if err := c.audit.Save(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to write audit entry",
			"order_id", entry.OrderID, "event", entry.Event, "error", err)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
