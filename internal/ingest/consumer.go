// Package ingest consumes the line item change feed and dispatches every
// event to its own worker for enrichment and fan-out.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/fanout"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
)

// Resolver turns a raw insert payload into a notification.
type Resolver interface {
	Resolve(ctx context.Context, raw []byte) (domain.OrderNotification, error)
}

// Submitter registers a notification as pending and fans it out.
type Submitter interface {
	Submit(ctx context.Context, n domain.OrderNotification) (fanout.Report, error)
}

type Config struct {
	Table string
	// MaxInFlight bounds concurrent workers; zero or less means unbounded.
	MaxInFlight int
	// ResubscribeDelay is the pause before resubscribing after the feed ends.
	ResubscribeDelay time.Duration
}

type Consumer struct {
	feed      recordstore.Feed
	resolver  Resolver
	submitter Submitter
	cfg       Config
}

func NewConsumer(feed recordstore.Feed, resolver Resolver, submitter Submitter, cfg Config) *Consumer {
	if cfg.Table == "" {
		cfg.Table = recordstore.LineItemsTable
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = time.Second
	}
	return &Consumer{feed: feed, resolver: resolver, submitter: submitter, cfg: cfg}
}

// Run consumes the feed until ctx is cancelled. Failing to subscribe the
// first time is returned as an error; later subscription losses are retried.
// In-flight workers are awaited before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	var workers errgroup.Group
	if c.cfg.MaxInFlight > 0 {
		workers.SetLimit(c.cfg.MaxInFlight)
	}
	defer func() { _ = workers.Wait() }()

	events, err := c.feed.SubscribeInserts(ctx, c.cfg.Table)
	if err != nil {
		return fmt.Errorf("ingest: subscribe to %s: %w", c.cfg.Table, err)
	}
	slog.InfoContext(ctx, "change feed subscribed", "table", c.cfg.Table)

	for {
		c.consume(ctx, events, &workers)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "change feed consumer stopping", "table", c.cfg.Table)
			return nil
		}

		slog.WarnContext(ctx, "change feed ended, resubscribing", "table", c.cfg.Table)
		events, err = c.resubscribe(ctx)
		if err != nil {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, events <-chan recordstore.RawEvent, workers *errgroup.Group) {
	for ev := range events {
		workers.Go(func() error {
			// Workers finish even if the consumer is shutting down.
			c.handle(context.WithoutCancel(ctx), ev)
			return nil
		})
	}
}

// resubscribe retries until it succeeds or ctx is done.
func (c *Consumer) resubscribe(ctx context.Context) (<-chan recordstore.RawEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.ResubscribeDelay):
		}
		events, err := c.feed.SubscribeInserts(ctx, c.cfg.Table)
		if err == nil {
			return events, nil
		}
		slog.ErrorContext(ctx, "failed to resubscribe to change feed", "table", c.cfg.Table, "error", err)
	}
}

func (c *Consumer) handle(ctx context.Context, ev recordstore.RawEvent) {
	n, err := c.resolver.Resolve(ctx, ev.Payload)
	switch {
	case errors.Is(err, domain.ErrMalformedEvent):
		slog.WarnContext(ctx, "discarding malformed change feed event", "error", err)
		return
	case errors.Is(err, domain.ErrUnresolvableJoin):
		slog.WarnContext(ctx, "discarding unresolvable line item", "error", err)
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to resolve line item", "error", err)
		return
	}

	report, err := c.submitter.Submit(ctx, n)
	if err != nil {
		slog.ErrorContext(ctx, "failed to submit order notification", "order_id", n.OrderID, "error", err)
		return
	}
	if ferr := report.Err(); ferr != nil {
		slog.WarnContext(ctx, "partial fan-out", "order_id", n.OrderID, "error", ferr)
	}
	if report.Duplicate && ev.Replayed {
		slog.DebugContext(ctx, "replayed event already handled", "order_id", n.OrderID)
	}
}
