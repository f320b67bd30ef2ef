package tracking

import (
	"context"
	"sync"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

var _ Store = (*Memory)(nil)

// Memory keeps all tracking state in process behind one lock.
type Memory struct {
	mu        sync.RWMutex
	known     map[string]struct{}
	pending   map[string]domain.PendingOrder
	copies    map[string][]domain.DeliveredCopy
	decisions map[string]domain.Decision
}

func NewMemory() *Memory {
	return &Memory{
		known:     make(map[string]struct{}),
		pending:   make(map[string]domain.PendingOrder),
		copies:    make(map[string][]domain.DeliveredCopy),
		decisions: make(map[string]domain.Decision),
	}
}

func (m *Memory) AddPending(_ context.Context, p domain.PendingOrder) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.known[p.OrderID]; seen {
		return false, nil
	}
	m.known[p.OrderID] = struct{}{}
	m.pending[p.OrderID] = p
	return true, nil
}

func (m *Memory) ClaimPending(_ context.Context, orderID string) (domain.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[orderID]
	if !ok {
		return domain.PendingOrder{}, domain.ErrOrderNotFound
	}
	delete(m.pending, orderID)
	return p, nil
}

func (m *Memory) RestorePending(_ context.Context, p domain.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[p.OrderID] = struct{}{}
	m.pending[p.OrderID] = p
	return nil
}

func (m *Memory) GetPending(_ context.Context, orderID string) (domain.PendingOrder, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[orderID]
	return p, ok, nil
}

func (m *Memory) AddCopy(_ context.Context, c domain.DeliveredCopy) (*domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies[c.OrderID] = append(m.copies[c.OrderID], c)
	if d, ok := m.decisions[c.OrderID]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *Memory) Copies(_ context.Context, orderID string) ([]domain.DeliveredCopy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.DeliveredCopy(nil), m.copies[orderID]...), nil
}

func (m *Memory) SetDecision(_ context.Context, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.OrderID] = d
	return nil
}

func (m *Memory) GetDecision(_ context.Context, orderID string) (*domain.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.decisions[orderID]; ok {
		return &d, nil
	}
	return nil, nil
}
