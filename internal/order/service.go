package order

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/observability/metrics"
	"TradingTools/pkg/logger"
)

// Service 负责限价单的创建与查询。
type Service struct {
	store Store
	newID func() string
}

// NewService 构造订单服务。store 由调用方持有，可被多个组件共享。
func NewService(store Store) *Service {
	return &Service{store: store, newID: uuid.NewString}
}

// Store 返回服务使用的订单存储。
func (s *Service) Store() Store {
	return s.store
}

// Create 校验请求并追加一笔 pending 订单。校验失败时不写入任何数据。
func (s *Service) Create(ctx context.Context, req CreateRequest) (*LimitOrder, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "订单存储未初始化")
	}
	req.TokenSymbol = strings.TrimSpace(req.TokenSymbol)
	req.Amount = strings.TrimSpace(req.Amount)
	req.LimitPrice = strings.TrimSpace(req.LimitPrice)
	req.Destination = strings.TrimSpace(req.Destination)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order := &LimitOrder{
		ID:          s.newID(),
		TokenSymbol: req.TokenSymbol,
		Amount:      req.Amount,
		LimitPrice:  req.LimitPrice,
		Destination: req.Destination,
		Status:      StatusPending,
	}
	if err := s.store.Create(ctx, order); err != nil {
		return nil, err
	}
	metrics.OrderCreated()
	logger.Audit().Info("限价单已创建",
		slog.String("order_id", order.ID),
		slog.String("token_symbol", order.TokenSymbol),
		slog.String("amount", order.Amount),
		slog.String("limit_price", order.LimitPrice),
		slog.String("destination", order.Destination),
	)
	return order, nil
}

// Get 返回指定订单。
func (s *Service) Get(ctx context.Context, id string) (*LimitOrder, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "订单存储未初始化")
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// List 按插入顺序返回订单。
func (s *Service) List(ctx context.Context, statuses ...Status) ([]*LimitOrder, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "订单存储未初始化")
	}
	for _, status := range statuses {
		if !IsValidStatus(status) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的订单状态: %s", status))
		}
	}
	return s.store.List(ctx, statuses...)
}

// Describe 返回订单状态的文字描述。订单不存在（包括空 ID）是正常结果，不返回错误。
func (s *Service) Describe(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return fmt.Sprintf("Order %s not found.", id), nil
	}
	order, err := s.Get(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrOrderNotFound) {
			return fmt.Sprintf("Order %s not found.", id), nil
		}
		return "", err
	}
	return DescribeOrder(order), nil
}

// DescribeOrder 格式化订单状态。
func DescribeOrder(order *LimitOrder) string {
	text := fmt.Sprintf("Order %s status: %s", order.ID, order.Status)
	if order.TxHash != "" {
		text += ", txHash: " + order.TxHash
	}
	return text
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
