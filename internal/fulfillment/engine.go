package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/oracle"
	"TradingTools/internal/order"
	"TradingTools/internal/web3"
	"TradingTools/pkg/logger"
)

const (
	CodePriceUnavailable xerrors.Code = "PRICE_UNAVAILABLE"
	CodeApprovalFailed   xerrors.Code = "APPROVAL_FAILED"
	CodeSwapFailed       xerrors.Code = "SWAP_FAILED"
	// CodeSettlementFailed 表示兑换已上链确认，但成交状态未能写入存储。
	CodeSettlementFailed xerrors.Code = "SETTLEMENT_FAILED"
)

func init() {
	xerrors.Register(CodePriceUnavailable, xerrors.Attributes{
		Message:   "price unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeApprovalFailed, xerrors.Attributes{
		Message:   "approval transaction failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeSwapFailed, xerrors.Attributes{
		Message:   "swap transaction failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeSettlementFailed, xerrors.Attributes{
		Message:   "swap confirmed but order not marked filled",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// 默认参数：Uniswap V3 SwapRouter 与 USDT。
var (
	DefaultRouter      = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	DefaultStableToken = common.HexToAddress("0xfd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9")
)

const (
	DefaultPoolFee      = 3000
	DefaultSwapDeadline = 60 * time.Second
)

// Config 描述兑换所用的合约与参数。
type Config struct {
	Router       common.Address
	StableToken  common.Address
	PoolFee      uint32
	SwapDeadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.Router == (common.Address{}) {
		c.Router = DefaultRouter
	}
	if c.StableToken == (common.Address{}) {
		c.StableToken = DefaultStableToken
	}
	if c.PoolFee == 0 {
		c.PoolFee = DefaultPoolFee
	}
	if c.SwapDeadline <= 0 {
		c.SwapDeadline = DefaultSwapDeadline
	}
}

// Engine 对单笔订单执行价格检查、授权与兑换。
type Engine struct {
	store     order.Store
	oracle    oracle.Client
	wallet    web3.Wallet
	contracts *Contracts
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger

	// confirmed 保存兑换已确认但尚未写入成交状态的订单（订单 ID -> 兑换哈希），
	// 后续尝试只补写状态，不再发送交易。
	mu        sync.Mutex
	confirmed map[string]common.Hash
}

// NewEngine 构造成交引擎。
func NewEngine(store order.Store, oracleClient oracle.Client, wallet web3.Wallet, cfg Config) (*Engine, error) {
	if store == nil || oracleClient == nil || wallet == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "成交引擎依赖未配置")
	}
	contracts, err := NewContracts()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载合约 ABI 失败")
	}
	cfg.applyDefaults()
	return &Engine{
		store:     store,
		oracle:    oracleClient,
		wallet:    wallet,
		contracts: contracts,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("fulfillment"),
		confirmed: make(map[string]common.Hash),
	}, nil
}

// TryFulfill 在当前价格不高于限价时完成授权与兑换并标记成交。
// 价格条件不满足时返回 (false, nil)，订单保持不变；步骤失败时返回错误且不修改订单。
func (e *Engine) TryFulfill(ctx context.Context, o *order.LimitOrder, token common.Address) (bool, error) {
	if o == nil {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	if o.Status != order.StatusPending {
		return false, order.ErrOrderAlreadyFilled
	}
	if swapHash, ok := e.confirmedSwap(o.ID); ok {
		return e.settle(ctx, o, swapHash, slog.String("tx_hash", swapHash.Hex()), slog.Bool("resettled", true))
	}

	price, err := e.currentPrice(ctx, o)
	if err != nil {
		return false, err
	}
	limit, err := decimal.NewFromString(o.LimitPrice)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "订单限价无法解析", orderMeta(o, "price")...)
	}
	if price.GreaterThan(limit) {
		e.logger.Debug("价格未触发限价",
			slog.String("order_id", o.ID),
			slog.String("price", price.String()),
			slog.String("limit_price", o.LimitPrice),
		)
		return false, nil
	}

	amount, err := order.ParseAmount(o.Amount)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "订单数量无法解析", orderMeta(o, "approve")...)
	}

	approveData, err := e.contracts.PackApprove(e.cfg.Router, amount)
	if err != nil {
		return false, xerrors.Wrap(CodeApprovalFailed, err, "", orderMeta(o, "approve")...)
	}
	if _, err := e.execute(ctx, e.cfg.StableToken, approveData, CodeApprovalFailed, o, "approve"); err != nil {
		return false, err
	}

	swapData, err := e.contracts.PackExactInputSingle(ExactInputSingleParams{
		TokenIn:           e.cfg.StableToken,
		TokenOut:          token,
		Fee:               new(big.Int).SetUint64(uint64(e.cfg.PoolFee)),
		Recipient:         common.HexToAddress(o.Destination),
		Deadline:          big.NewInt(e.now().Add(e.cfg.SwapDeadline).Unix()),
		AmountIn:          amount,
		AmountOutMinimum:  big.NewInt(0),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return false, xerrors.Wrap(CodeSwapFailed, err, "", orderMeta(o, "swap")...)
	}
	swapHash, err := e.execute(ctx, e.cfg.Router, swapData, CodeSwapFailed, o, "swap")
	if err != nil {
		return false, err
	}

	return e.settle(ctx, o, swapHash,
		slog.String("price", price.String()),
		slog.String("tx_hash", swapHash.Hex()),
	)
}

// settle 将已确认的兑换写入存储。写入失败时记住兑换哈希并返回 SETTLEMENT_FAILED，
// 下一次尝试只重试写入。
func (e *Engine) settle(ctx context.Context, o *order.LimitOrder, swapHash common.Hash, attrs ...any) (bool, error) {
	if err := e.store.MarkFilled(ctx, o.ID, swapHash.Hex()); err != nil {
		if errors.Is(err, order.ErrOrderAlreadyFilled) || errors.Is(err, order.ErrOrderNotFound) {
			e.forgetSwap(o.ID)
			return false, err
		}
		e.rememberSwap(o.ID, swapHash)
		return false, xerrors.Wrap(CodeSettlementFailed, err, "兑换已确认但订单状态写入失败",
			append(orderMeta(o, "settle"), xerrors.WithMetadata("tx_hash", swapHash.Hex()))...)
	}
	e.forgetSwap(o.ID)
	o.Status = order.StatusFilled
	o.TxHash = swapHash.Hex()

	attrs = append([]any{
		slog.String("order_id", o.ID),
		slog.String("token_symbol", o.TokenSymbol),
		slog.String("limit_price", o.LimitPrice),
	}, attrs...)
	logger.Audit().Info("限价单已成交", attrs...)
	return true, nil
}

func (e *Engine) confirmedSwap(id string) (common.Hash, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash, ok := e.confirmed[id]
	return hash, ok
}

func (e *Engine) rememberSwap(id string, hash common.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed[id] = hash
}

func (e *Engine) forgetSwap(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.confirmed, id)
}

func (e *Engine) currentPrice(ctx context.Context, o *order.LimitOrder) (decimal.Decimal, error) {
	feedID, err := e.oracle.ResolveFeed(ctx, o.TokenSymbol)
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(CodePriceUnavailable, err, "解析价格源失败", orderMeta(o, "price")...)
	}
	raw, err := e.oracle.FetchPrice(ctx, feedID)
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(CodePriceUnavailable, err, "获取价格失败", orderMeta(o, "price")...)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(CodePriceUnavailable, err, "价格格式不正确", orderMeta(o, "price")...)
	}
	return price, nil
}

// execute 发送交易并等待回执，回执状态为失败时视为交易失败。
func (e *Engine) execute(ctx context.Context, to common.Address, data []byte, code xerrors.Code, o *order.LimitOrder, stage string) (common.Hash, error) {
	hash, err := e.wallet.SendTransaction(ctx, to, data)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(code, err, "发送交易失败", orderMeta(o, stage)...)
	}
	receipt, err := e.wallet.WaitForReceipt(ctx, hash)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(code, err, "等待交易回执失败",
			append(orderMeta(o, stage), xerrors.WithMetadata("tx_hash", hash.Hex()))...)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return common.Hash{}, xerrors.New(code, "交易执行被回滚",
			append(orderMeta(o, stage), xerrors.WithMetadata("tx_hash", hash.Hex()))...)
	}
	e.logger.Info("交易已确认",
		slog.String("order_id", o.ID),
		slog.String("stage", stage),
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return hash, nil
}

func orderMeta(o *order.LimitOrder, stage string) []xerrors.Option {
	return []xerrors.Option{
		xerrors.WithMetadata("order_id", o.ID),
		xerrors.WithMetadata("stage", stage),
	}
}
