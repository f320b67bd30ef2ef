package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/enrichment"
	"github.com/jcmexdev/order-approvals/internal/fanout"
	"github.com/jcmexdev/order-approvals/internal/fanout/fanouttest"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
	"github.com/jcmexdev/order-approvals/internal/registry"
	"github.com/jcmexdev/order-approvals/internal/tracking"
)

type countingResolver struct {
	Resolver
	calls atomic.Int32
}

func (r *countingResolver) Resolve(ctx context.Context, raw []byte) (domain.OrderNotification, error) {
	defer r.calls.Add(1)
	return r.Resolver.Resolve(ctx, raw)
}

type notifySubmitter struct{ f *fanout.Fanout }

func (s notifySubmitter) Submit(ctx context.Context, n domain.OrderNotification) (fanout.Report, error) {
	return s.f.Notify(ctx, n)
}

func TestConsumerDedupsAndDiscards(t *testing.T) {
	store := recordstore.NewMemory()
	store.PutOrder("o1", 10)
	store.PutProduct(1, "Latte", 7)
	store.PutProduct(2, "Ghost",) // no placement

	dir := registry.NewDirectory()
	dir.Put(domain.RegistrationEntry{StaffID: 1, LocationID: 7})
	track := tracking.NewMemory()
	msgr := fanouttest.NewMessenger()

	resolver := &countingResolver{Resolver: enrichment.NewResolver(store)}
	c := NewConsumer(store, resolver, notifySubmitter{fanout.New(dir, track, msgr, 0)}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	id := store.AddLineItem(ctx, "o1", 1, decimal.NewFromInt(2))
	// Redelivery of the same insert, as after a reconnect.
	store.Publish(ctx, []byte(`{"table":"order_items","type":"INSERT","record":{"id":"`+id+`"}}`))
	store.Publish(ctx, []byte(`not json`))
	store.AddLineItem(ctx, "o2", 2, decimal.NewFromInt(1))

	require.Eventually(t, func() bool { return resolver.calls.Load() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return store.Subscribers() == 0 }, time.Second, 5*time.Millisecond,
		"subscription released on shutdown")

	assert.Equal(t, 1, msgr.Count(), "exactly one fan-out")
	_, ok, err := track.GetPending(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = track.GetPending(context.Background(), "o2")
	require.NoError(t, err)
	assert.False(t, ok, "unresolvable join creates no pending order")
}

type fakeFeed struct {
	mu    sync.Mutex
	calls int
	err   error
	chans []chan recordstore.RawEvent
}

func (f *fakeFeed) SubscribeInserts(ctx context.Context, _ string) (<-chan recordstore.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan recordstore.RawEvent)
	f.chans = append(f.chans, ch)
	if f.calls == 1 {
		// First subscription drops straight away.
		close(ch)
	} else {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
	}
	return ch, nil
}

func (f *fakeFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestConsumerStartupFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("connection refused")}
	c := NewConsumer(feed, nil, nil, Config{})
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_items")
}

func TestConsumerResubscribes(t *testing.T) {
	feed := &fakeFeed{}
	c := NewConsumer(feed, nil, nil, Config{ResubscribeDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return feed.Calls() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
