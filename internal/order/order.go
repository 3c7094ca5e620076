package order

import (
	xerrors "TradingTools/internal/errors"
)

// Status 表示限价单在生命周期中的状态。只允许 pending -> filled 的单向迁移。
type Status string

const (
	StatusPending Status = "pending"
	StatusFilled  Status = "filled"
)

// LimitOrder 描述一笔以稳定币买入目标代币的限价单。
type LimitOrder struct {
	ID          string `json:"id"`
	TokenSymbol string `json:"token_symbol"`
	// Amount 为稳定币的最小单位数量，整数字符串。
	Amount      string `json:"amount"`
	LimitPrice  string `json:"limit_price"`
	Destination string `json:"destination"`
	Status      Status `json:"status"`
	TxHash      string `json:"tx_hash,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Clone 返回订单的独立副本。
func (o *LimitOrder) Clone() *LimitOrder {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusFilled:
		return true
	default:
		return false
	}
}

const (
	CodeOrderNotFound      xerrors.Code = "ORDER_NOT_FOUND"
	CodeOrderConflict      xerrors.Code = "ORDER_CONFLICT"
	CodeOrderAlreadyFilled xerrors.Code = "ORDER_ALREADY_FILLED"
	CodeOrderValidation    xerrors.Code = "ORDER_VALIDATION_FAILED"
)

var (
	// ErrOrderNotFound 表示指定的订单不存在。
	ErrOrderNotFound = xerrors.New(CodeOrderNotFound, "order not found")
	// ErrOrderConflict 表示订单 ID 已被占用。
	ErrOrderConflict = xerrors.New(CodeOrderConflict, "order id already exists")
	// ErrOrderAlreadyFilled 表示订单已经成交，不能再次迁移状态。
	ErrOrderAlreadyFilled = xerrors.New(CodeOrderAlreadyFilled, "order already filled")
)

func init() {
	xerrors.Register(CodeOrderNotFound, xerrors.Attributes{
		Message:  "order not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOrderConflict, xerrors.Attributes{
		Message:  "order id already exists",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeOrderAlreadyFilled, xerrors.Attributes{
		Message:  "order already filled",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOrderValidation, xerrors.Attributes{
		Message:  "order validation failed",
		Severity: xerrors.SeverityInfo,
	})
}
