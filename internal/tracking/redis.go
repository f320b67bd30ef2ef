package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

var _ Store = (*Redis)(nil)

// addPendingScript marks the order as seen and stores the pending entry only
// if it was not seen before.
var addPendingScript = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX') then
	redis.call('SET', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// Redis shares tracking state between coordinator replicas. GETDEL gives the
// atomic check-and-delete the claim needs.
type Redis struct {
	client      *redis.Client
	serviceName string
	// retention bounds how long seen markers, copies and decisions are kept;
	// zero keeps them forever.
	retention time.Duration
}

func NewRedis(addr, serviceName string, retention time.Duration) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), serviceName, retention)
}

func NewRedisWithClient(client *redis.Client, serviceName string, retention time.Duration) *Redis {
	return &Redis{client: client, serviceName: serviceName, retention: retention}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}

func (r *Redis) AddPending(ctx context.Context, p domain.PendingOrder) (bool, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("tracking: encode pending %q: %w", p.OrderID, err)
	}
	seenKey := r.GenerateKey("seen", p.OrderID)
	created, err := addPendingScript.Run(ctx, r.client,
		[]string{seenKey, r.GenerateKey("pending", p.OrderID)}, body).Int()
	if err != nil {
		return false, fmt.Errorf("tracking: add pending %q: %w", p.OrderID, err)
	}
	if created == 1 {
		r.expire(ctx, seenKey)
	}
	return created == 1, nil
}

func (r *Redis) ClaimPending(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	body, err := r.client.GetDel(ctx, r.GenerateKey("pending", orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingOrder{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("tracking: claim %q: %w", orderID, err)
	}
	var p domain.PendingOrder
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.PendingOrder{}, fmt.Errorf("tracking: decode pending %q: %w", orderID, err)
	}
	return p, nil
}

func (r *Redis) RestorePending(ctx context.Context, p domain.PendingOrder) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("tracking: encode pending %q: %w", p.OrderID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.GenerateKey("seen", p.OrderID), "1", r.retention)
		pipe.Set(ctx, r.GenerateKey("pending", p.OrderID), body, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("tracking: restore pending %q: %w", p.OrderID, err)
	}
	return nil
}

func (r *Redis) GetPending(ctx context.Context, orderID string) (domain.PendingOrder, bool, error) {
	body, err := r.client.Get(ctx, r.GenerateKey("pending", orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingOrder{}, false, nil
	}
	if err != nil {
		return domain.PendingOrder{}, false, fmt.Errorf("tracking: get pending %q: %w", orderID, err)
	}
	var p domain.PendingOrder
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.PendingOrder{}, false, fmt.Errorf("tracking: decode pending %q: %w", orderID, err)
	}
	return p, true, nil
}

// AddCopy appends before reading the decision; SetDecision writes before the
// coordinator lists copies. Either side therefore sees the other.
func (r *Redis) AddCopy(ctx context.Context, c domain.DeliveredCopy) (*domain.Decision, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("tracking: encode copy for %q: %w", c.OrderID, err)
	}
	key := r.GenerateKey("copies", c.OrderID)
	if err := r.client.RPush(ctx, key, body).Err(); err != nil {
		return nil, fmt.Errorf("tracking: add copy for %q: %w", c.OrderID, err)
	}
	r.expire(ctx, key)
	return r.GetDecision(ctx, c.OrderID)
}

func (r *Redis) Copies(ctx context.Context, orderID string) ([]domain.DeliveredCopy, error) {
	items, err := r.client.LRange(ctx, r.GenerateKey("copies", orderID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tracking: list copies for %q: %w", orderID, err)
	}
	copies := make([]domain.DeliveredCopy, 0, len(items))
	for _, item := range items {
		var c domain.DeliveredCopy
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			return nil, fmt.Errorf("tracking: decode copy for %q: %w", orderID, err)
		}
		copies = append(copies, c)
	}
	return copies, nil
}

func (r *Redis) SetDecision(ctx context.Context, d domain.Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("tracking: encode decision %q: %w", d.OrderID, err)
	}
	if err := r.client.Set(ctx, r.GenerateKey("decision", d.OrderID), body, r.retention).Err(); err != nil {
		return fmt.Errorf("tracking: set decision %q: %w", d.OrderID, err)
	}
	return nil
}

func (r *Redis) GetDecision(ctx context.Context, orderID string) (*domain.Decision, error) {
	body, err := r.client.Get(ctx, r.GenerateKey("decision", orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracking: get decision %q: %w", orderID, err)
	}
	var d domain.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("tracking: decode decision %q: %w", orderID, err)
	}
	return &d, nil
}

func (r *Redis) expire(ctx context.Context, key string) {
	if r.retention <= 0 {
		return
	}
	_ = r.client.Expire(ctx, key, r.retention).Err()
}
