// Package enrichment turns raw line-item insert events into routable order
// notifications.
package enrichment

import (
	"context"
	"fmt"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
)

// Resolver joins a line item to its order, product and placement. It holds
// no state and performs no writes, so one Resolver serves every event
// concurrently.
type Resolver struct {
	items recordstore.LineItems
}

func NewResolver(items recordstore.LineItems) *Resolver {
	return &Resolver{items: items}
}

// Resolve returns exactly one notification for a complete join. Events
// without a line-item id fail with ErrMalformedEvent; joins missing the
// order, product name or a placement fail with ErrUnresolvableJoin.
//
// When a product is placed at several locations the first placement in store
// order is used.
func (r *Resolver) Resolve(ctx context.Context, raw []byte) (domain.OrderNotification, error) {
	payload, err := recordstore.DecodeInsert(raw)
	if err != nil {
		return domain.OrderNotification{}, &domain.OrderError{Op: "resolve", Err: fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)}
	}
	if len(payload.Record) == 0 {
		return domain.OrderNotification{}, &domain.OrderError{Op: "resolve", Err: fmt.Errorf("%w: record is empty", domain.ErrMalformedEvent)}
	}
	lineItemID := payload.RecordID()
	if lineItemID == "" {
		return domain.OrderNotification{}, &domain.OrderError{Op: "resolve", Err: fmt.Errorf("%w: record has no id", domain.ErrMalformedEvent)}
	}

	join, err := r.items.ResolveLineItem(ctx, lineItemID)
	if err != nil {
		return domain.OrderNotification{}, &domain.OrderError{Op: "resolve", Err: err}
	}
	if join == nil {
		return domain.OrderNotification{}, &domain.OrderError{Op: "resolve",
			Err: fmt.Errorf("%w: line item %s not found", domain.ErrUnresolvableJoin, lineItemID)}
	}

	n := domain.OrderNotification{
		OrderID:     join.OrderID,
		ProductName: join.ProductName,
	}
	if len(join.LocationIDs) > 0 {
		n.LocationID = join.LocationIDs[0]
	}
	if !n.Valid() {
		return domain.OrderNotification{}, &domain.OrderError{Op: "resolve", OrderID: join.OrderID,
			Err: fmt.Errorf("%w: line item %s (product %q, %d placements)",
				domain.ErrUnresolvableJoin, lineItemID, join.ProductName, len(join.LocationIDs))}
	}
	return n, nil
}
