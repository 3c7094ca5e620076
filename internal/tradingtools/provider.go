package tradingtools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/fulfillment"
	"TradingTools/internal/observability/alerting"
	"TradingTools/internal/order"
	"TradingTools/pkg/logger"
	"TradingTools/pkg/plugin"
)

// Name 是插件与 action provider 的名称。
const Name = "tradingTools"

// 动作名称
const (
	ActionCreateLimitOrder = "create_limit_order"
	ActionCheckLimitOrder  = "check_limit_order"
)

// Deps 汇总 Provider 依赖的组件。
type Deps struct {
	Orders *order.Service
	Engine fulfillment.Fulfiller
	Alerts alerting.Dispatcher
}

// Option 定义可选配置。
type Option func(*Provider)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTokens 设置默认的代币地址映射，Configure 中的 tokens 会覆盖同名条目。
func WithTokens(tokens map[string]common.Address) Option {
	return func(p *Provider) {
		for symbol, addr := range tokens {
			p.tokens[symbol] = addr
		}
	}
}

// Provider 实现 plugin.Plugin 与 plugin.ActionProvider。
type Provider struct {
	orders  *order.Service
	poller  *fulfillment.Poller
	logger  *slog.Logger
	actions []plugin.Action

	mu        sync.Mutex
	tokens    map[string]common.Address
	interval  time.Duration
	autostart bool
}

// New 构造 Provider，动作表在此处一次性建立。
func New(deps Deps, opts ...Option) *Provider {
	p := &Provider{
		orders:   deps.Orders,
		logger:   logger.Named("tradingtools"),
		tokens:   map[string]common.Address{},
		interval: fulfillment.DefaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	var store order.Store
	if deps.Orders != nil {
		store = deps.Orders.Store()
	}
	p.poller = fulfillment.NewPoller(store, deps.Engine,
		fulfillment.WithAlertDispatcher(deps.Alerts),
		fulfillment.WithPollerLogger(p.logger),
	)
	p.actions = []plugin.Action{
		{
			Name:        ActionCreateLimitOrder,
			Description: "Create a stablecoin limit order that buys the given token once its price is at or below the limit price.",
			Schema: plugin.Schema{Fields: []plugin.Field{
				{Name: "tokenSymbol", Description: "symbol of the token to buy, e.g. ARB", Required: true, Check: order.ValidateSymbol},
				{Name: "amount", Description: "stablecoin amount in base units", Required: true, Check: order.ValidateAmount},
				{Name: "limitPrice", Description: "maximum price per token in USD", Required: true, Check: order.ValidatePrice},
				{Name: "destination", Description: "address receiving the purchased tokens", Required: true, Check: order.ValidateAddress},
			}},
			Invoke: p.createLimitOrder,
		},
		{
			Name:        ActionCheckLimitOrder,
			Description: "Check the status of a previously created limit order.",
			Schema: plugin.Schema{Fields: []plugin.Field{
				{Name: "orderId", Description: "id returned by create_limit_order", Required: true, Check: order.ValidateID},
			}},
			Invoke: p.checkLimitOrder,
		},
	}
	return p
}

// Info 实现 plugin.Plugin。
func (p *Provider) Info() plugin.Info {
	return plugin.Info{
		ID:          Name,
		Name:        Name,
		Description: "limit orders filled through an on-chain swap router",
		Version:     "1.0.0",
		Category:    plugin.TypeActionProvider,
		Capabilities: []plugin.Capability{
			plugin.CapabilityNetwork,
			plugin.CapabilityWallet,
			plugin.CapabilityOracle,
			plugin.CapabilityStorage,
		},
	}
}

// Configure 读取 tokens、poll_interval_ms 与 autostart。
func (p *Provider) Configure(cfg map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if raw, ok := cfg["tokens"]; ok && raw != nil {
		tokens, err := parseTokens(raw)
		if err != nil {
			return err
		}
		for symbol, addr := range tokens {
			p.tokens[symbol] = addr
		}
	}
	if raw, ok := cfg["poll_interval_ms"]; ok && raw != nil {
		ms, err := parseInt(raw)
		if err != nil || ms <= 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("poll_interval_ms 必须是正整数: %v", raw))
		}
		p.interval = time.Duration(ms) * time.Millisecond
	}
	if raw, ok := cfg["autostart"]; ok && raw != nil {
		autostart, ok := raw.(bool)
		if !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("autostart 必须是布尔值: %v", raw))
		}
		p.autostart = autostart
	}
	return nil
}

// Init 实现 plugin.Plugin。
func (p *Provider) Init(ctx *plugin.ExecutionContext) error {
	if p.orders == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "订单服务未初始化")
	}
	if network, ok := ctx.Network(); ok {
		p.logger.Info("插件已初始化",
			slog.String("network_id", network.NetworkID),
			slog.String("chain_id", network.ChainID),
		)
	}
	return nil
}

// Start 在 autostart 打开时启动轮询。
func (p *Provider) Start(*plugin.ExecutionContext) error {
	p.mu.Lock()
	autostart := p.autostart
	tokens := p.tokens
	interval := p.interval
	p.mu.Unlock()
	if autostart {
		p.StartPolling(tokens, interval)
	}
	return nil
}

// Stop 停止轮询，进行中的 sweep 会继续执行完毕。
func (p *Provider) Stop(*plugin.ExecutionContext) error {
	p.StopPolling()
	return nil
}

// Actions 实现 plugin.ActionProvider。
func (p *Provider) Actions() []plugin.Action {
	out := make([]plugin.Action, len(p.actions))
	copy(out, p.actions)
	return out
}

// SupportsNetwork 实现 plugin.ActionProvider，所有网络均可用。
func (p *Provider) SupportsNetwork(plugin.Network) bool {
	return true
}

// StartPolling 以给定的代币映射开始轮询，已在轮询时返回 false。
func (p *Provider) StartPolling(tokens map[string]common.Address, interval time.Duration) bool {
	return p.poller.Start(tokens, interval)
}

// StopPolling 停止轮询，未在轮询时返回 false。
func (p *Provider) StopPolling() bool {
	return p.poller.Stop()
}

// Polling 返回当前是否在轮询。
func (p *Provider) Polling() bool {
	return p.poller.Running()
}

// Wait 等待最近一次启动的轮询循环退出。
func (p *Provider) Wait() {
	p.poller.Wait()
}

// Tokens 返回当前配置的代币映射副本。
func (p *Provider) Tokens() map[string]common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]common.Address, len(p.tokens))
	for symbol, addr := range p.tokens {
		out[symbol] = addr
	}
	return out
}

func (p *Provider) createLimitOrder(ctx context.Context, args plugin.Args) (string, error) {
	created, err := p.orders.Create(ctx, order.CreateRequest{
		TokenSymbol: args.Get("tokenSymbol"),
		Amount:      args.Get("amount"),
		LimitPrice:  args.Get("limitPrice"),
		Destination: args.Get("destination"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Limit order created with ID %s, status: %s", created.ID, created.Status), nil
}

func (p *Provider) checkLimitOrder(ctx context.Context, args plugin.Args) (string, error) {
	return p.orders.Describe(ctx, args.Get("orderId"))
}

func parseTokens(raw any) (map[string]common.Address, error) {
	var entries map[string]any
	switch v := raw.(type) {
	case map[string]any:
		entries = v
	case map[string]string:
		entries = make(map[string]any, len(v))
		for k, s := range v {
			entries[k] = s
		}
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("tokens 必须是符号到地址的映射: %T", raw))
	}

	tokens := make(map[string]common.Address, len(entries))
	for symbol, value := range entries {
		addr, ok := value.(string)
		symbol = strings.TrimSpace(symbol)
		if symbol == "" || !ok || !common.IsHexAddress(addr) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("代币 %q 的地址不正确: %v", symbol, value))
		}
		tokens[symbol] = common.HexToAddress(addr)
	}
	return tokens, nil
}

func parseInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

var (
	_ plugin.Plugin         = (*Provider)(nil)
	_ plugin.ActionProvider = (*Provider)(nil)
)
