// Package fanout delivers order notifications to every staff member at the
// order's location and keeps every delivered copy in sync with the order's
// decision.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/tracking"
)

// Messenger is the outbound messaging transport.
type Messenger interface {
	SendMessage(ctx context.Context, recipient domain.StaffID, text string, actions []domain.Action) (domain.MessageHandle, error)
	// EditMessage replaces text and actions; nil actions removes them.
	EditMessage(ctx context.Context, handle domain.MessageHandle, text string, actions []domain.Action) error
}

// Recipients lists staff registered at a location.
type Recipients interface {
	AtLocation(locationID int64) []domain.RegistrationEntry
}

// Report summarises one fan-out or edit pass.
type Report struct {
	OrderID   string
	Duplicate bool
	Attempted int
	Succeeded int
	Failures  []error
}

// Err joins the per-recipient failures, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d for order %s: %w",
		domain.ErrDeliveryFailure, len(r.Failures), r.Attempted, r.OrderID, errors.Join(r.Failures...))
}

type Fanout struct {
	recipients  Recipients
	store       tracking.Store
	messenger   Messenger
	maxParallel int
}

// New builds a Fanout. maxParallel bounds concurrent sends per order; zero
// or less means unbounded.
func New(recipients Recipients, store tracking.Store, messenger Messenger, maxParallel int) *Fanout {
	return &Fanout{
		recipients:  recipients,
		store:       store,
		messenger:   messenger,
		maxParallel: maxParallel,
	}
}

// Notify records n as pending and sends it to every matching staff member.
// A notification for an order that was already seen is a no-op reported as
// Duplicate. Failed sends are collected in the report and never roll back
// the pending entry.
func (f *Fanout) Notify(ctx context.Context, n domain.OrderNotification) (Report, error) {
	report := Report{OrderID: n.OrderID}

	created, err := f.store.AddPending(ctx, domain.PendingOrder{OrderID: n.OrderID, Notification: n})
	if err != nil {
		return report, &domain.OrderError{Op: "notify", OrderID: n.OrderID, Err: err}
	}
	if !created {
		report.Duplicate = true
		slog.DebugContext(ctx, "duplicate order trigger ignored", "order_id", n.OrderID)
		return report, nil
	}

	staff := f.recipients.AtLocation(n.LocationID)
	text, actions := RenderNewOrder(n)

	report.Attempted = len(staff)
	report.Failures = f.each(ctx, len(staff), func(ctx context.Context, i int) error {
		recipient := staff[i].StaffID
		handle, err := f.messenger.SendMessage(ctx, recipient, text, actions)
		if err != nil {
			slog.ErrorContext(ctx, "failed to send order notification",
				"order_id", n.OrderID, "staff_id", recipient, "error", err)
			return fmt.Errorf("send to %s: %w", recipient, err)
		}

		decision, err := f.store.AddCopy(ctx, domain.DeliveredCopy{OrderID: n.OrderID, Recipient: recipient, Handle: handle})
		if err != nil {
			slog.ErrorContext(ctx, "failed to track delivered copy",
				"order_id", n.OrderID, "staff_id", recipient, "error", err)
			return fmt.Errorf("track copy for %s: %w", recipient, err)
		}
		if decision != nil {
			// Decided while we were still sending; bring this copy in sync.
			if err := f.messenger.EditMessage(ctx, handle, RenderDecision(*decision), nil); err != nil {
				slog.ErrorContext(ctx, "failed to sync late copy",
					"order_id", n.OrderID, "staff_id", recipient, "error", err)
			}
		}
		return nil
	})
	report.Succeeded = report.Attempted - len(report.Failures)

	slog.InfoContext(ctx, "order notification fanned out",
		"order_id", n.OrderID, "location_id", n.LocationID,
		"recipients", report.Attempted, "delivered", report.Succeeded)
	return report, nil
}

// Sync edits every tracked copy of orderID to text and actions.
func (f *Fanout) Sync(ctx context.Context, orderID, text string, actions []domain.Action) (Report, error) {
	report := Report{OrderID: orderID}

	copies, err := f.store.Copies(ctx, orderID)
	if err != nil {
		return report, &domain.OrderError{Op: "sync", OrderID: orderID, Err: err}
	}

	report.Attempted = len(copies)
	report.Failures = f.each(ctx, len(copies), func(ctx context.Context, i int) error {
		c := copies[i]
		if err := f.messenger.EditMessage(ctx, c.Handle, text, actions); err != nil {
			slog.ErrorContext(ctx, "failed to edit delivered copy",
				"order_id", orderID, "staff_id", c.Recipient, "error", err)
			return fmt.Errorf("edit copy of %s: %w", c.Recipient, err)
		}
		return nil
	})
	report.Succeeded = report.Attempted - len(report.Failures)
	return report, nil
}

// SyncDecision edits every tracked copy to the decision's rendering.
func (f *Fanout) SyncDecision(ctx context.Context, d domain.Decision) (Report, error) {
	return f.Sync(ctx, d.OrderID, RenderDecision(d), nil)
}

// each runs fn for indexes [0, n) concurrently and waits for all of them.
// Failures are collected; none cancels the others.
func (f *Fanout) each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []error
	)
	if f.maxParallel > 0 {
		g.SetLimit(f.maxParallel)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := fn(ctx, i); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}
