package order

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "TradingTools/internal/errors"
)

// MemoryStore 在进程内按插入顺序保存订单，进程退出后数据丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	orders []*LimitOrder
	index  map[string]int
	now    func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, order *LimitOrder) error {
	if order == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	if strings.TrimSpace(order.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[order.ID]; ok {
		return ErrOrderConflict
	}
	now := m.now().Unix()
	if order.CreatedAt == 0 {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusPending
	}
	m.index[order.ID] = len(m.orders)
	m.orders = append(m.orders, order.Clone())
	return nil
}

// Get 返回订单副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*LimitOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return m.orders[idx].Clone(), nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context, statuses ...Status) ([]*LimitOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*LimitOrder, 0, len(m.orders))
	for _, o := range m.orders {
		if !matchStatus(o.Status, statuses) {
			continue
		}
		results = append(results, o.Clone())
	}
	return results, nil
}

// ListPending 实现 Store 接口。
func (m *MemoryStore) ListPending(ctx context.Context) ([]*LimitOrder, error) {
	return m.List(ctx, StatusPending)
}

// MarkFilled 实现 Store 接口。
func (m *MemoryStore) MarkFilled(_ context.Context, id, txHash string) error {
	if strings.TrimSpace(txHash) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index[id]
	if !ok {
		return ErrOrderNotFound
	}
	o := m.orders[idx]
	if o.Status == StatusFilled {
		return ErrOrderAlreadyFilled
	}
	o.Status = StatusFilled
	o.TxHash = txHash
	o.UpdatedAt = m.now().Unix()
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func matchStatus(status Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
