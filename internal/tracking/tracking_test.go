package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisWithClient(client, "test", time.Hour)
		},
	}
}

func pending(orderID string) domain.PendingOrder {
	return domain.PendingOrder{
		OrderID:      orderID,
		Notification: domain.OrderNotification{OrderID: orderID, ProductName: "Latte", LocationID: 7},
	}
}

func TestStoreBackends(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("add pending is idempotent", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				created, err := s.AddPending(ctx, pending("o1"))
				require.NoError(t, err)
				assert.True(t, created)

				created, err = s.AddPending(ctx, pending("o1"))
				require.NoError(t, err)
				assert.False(t, created)

				got, ok, err := s.GetPending(ctx, "o1")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, pending("o1"), got)
			})

			t.Run("claimed order is not re-added by a replayed event", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				_, err := s.AddPending(ctx, pending("o2"))
				require.NoError(t, err)
				_, err = s.ClaimPending(ctx, "o2")
				require.NoError(t, err)

				created, err := s.AddPending(ctx, pending("o2"))
				require.NoError(t, err)
				assert.False(t, created)
			})

			t.Run("claim then claim again is not found", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				_, err := s.AddPending(ctx, pending("o3"))
				require.NoError(t, err)

				p, err := s.ClaimPending(ctx, "o3")
				require.NoError(t, err)
				assert.Equal(t, "o3", p.OrderID)

				_, err = s.ClaimPending(ctx, "o3")
				assert.ErrorIs(t, err, domain.ErrOrderNotFound)

				require.NoError(t, s.RestorePending(ctx, p))
				_, ok, err := s.GetPending(ctx, "o3")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("concurrent claims have one winner", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				_, err := s.AddPending(ctx, pending("o4"))
				require.NoError(t, err)

				var wins, misses atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 32; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.ClaimPending(ctx, "o4"); err == nil {
							wins.Add(1)
						} else if domain.IsNotFound(err) {
							misses.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
				assert.Equal(t, int32(31), misses.Load())
			})

			t.Run("copies and decisions", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()

				c1 := domain.DeliveredCopy{OrderID: "o5", Recipient: 1, Handle: domain.MessageHandle{Recipient: 1, MessageID: 10}}
				c2 := domain.DeliveredCopy{OrderID: "o5", Recipient: 2, Handle: domain.MessageHandle{Recipient: 2, MessageID: 11}}

				d, err := s.AddCopy(ctx, c1)
				require.NoError(t, err)
				assert.Nil(t, d)

				decision := domain.Decision{OrderID: "o5", ProductName: "Latte", Outcome: domain.OutcomeRejected, Refund: decimal.RequireFromString("6.5")}
				require.NoError(t, s.SetDecision(ctx, decision))

				d, err = s.AddCopy(ctx, c2)
				require.NoError(t, err)
				require.NotNil(t, d, "late copy must see the decision")
				assert.Equal(t, domain.OutcomeRejected, d.Outcome)
				assert.True(t, decision.Refund.Equal(d.Refund))

				copies, err := s.Copies(ctx, "o5")
				require.NoError(t, err)
				assert.Equal(t, []domain.DeliveredCopy{c1, c2}, copies)

				none, err := s.GetDecision(ctx, "unknown")
				require.NoError(t, err)
				assert.Nil(t, none)
			})
		})
	}
}

func TestRedisGenerateKey(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "orders", 0)
	assert.Equal(t, "orders:pending:abc123", r.GenerateKey("pending", "abc123"))
}
