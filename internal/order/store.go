package order

import "context"

// Store 定义限价单的持久化接口。订单只追加不删除，唯一的修改是 pending -> filled。
type Store interface {
	Create(ctx context.Context, order *LimitOrder) error
	Get(ctx context.Context, id string) (*LimitOrder, error)
	// List 按插入顺序返回订单，statuses 为空时返回全部。
	List(ctx context.Context, statuses ...Status) ([]*LimitOrder, error)
	// ListPending 按插入顺序返回所有 pending 订单。
	ListPending(ctx context.Context) ([]*LimitOrder, error)
	// MarkFilled 将订单迁移为 filled 并记录交易哈希，重复迁移返回 ErrOrderAlreadyFilled。
	MarkFilled(ctx context.Context, id, txHash string) error
	Close() error
}
