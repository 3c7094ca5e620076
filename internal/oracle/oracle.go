package oracle

import (
	"context"

	xerrors "TradingTools/internal/errors"
)

// Client 是价格预言机的抽象。价格以十进制字符串返回，单位为美元。
type Client interface {
	// ResolveFeed 将代币符号解析为价格源 ID。
	ResolveFeed(ctx context.Context, symbol string) (string, error)
	// FetchPrice 返回价格源的最新价格。
	FetchPrice(ctx context.Context, feedID string) (string, error)
}

// CodeFeedNotFound 表示预言机中没有与符号匹配的价格源。
const CodeFeedNotFound xerrors.Code = "FEED_NOT_FOUND"

// ErrFeedNotFound 表示符号没有对应的价格源。
var ErrFeedNotFound = xerrors.New(CodeFeedNotFound, "price feed not found")

func init() {
	xerrors.Register(CodeFeedNotFound, xerrors.Attributes{
		Message:  "price feed not found",
		Severity: xerrors.SeverityWarning,
	})
}
