// Package pricefeed 将价格预言机查询暴露为插件动作，便于智能体在下单前确认价格。
package pricefeed

import (
	"context"
	"errors"
	"strings"

	"TradingTools/internal/oracle"
	"TradingTools/pkg/plugin"
)

// Name 是插件名称。
const Name = "pyth"

// 动作名称
const (
	ActionFetchPriceFeed = "fetch_price_feed"
	ActionFetchPrice     = "fetch_price"
)

// Provider 仅依赖 oracle.Client，没有后台任务。
type Provider struct {
	oracle oracle.Client
}

// New 构造 Provider。
func New(client oracle.Client) *Provider {
	return &Provider{oracle: client}
}

func (p *Provider) Info() plugin.Info {
	return plugin.Info{
		ID:           Name,
		Name:         Name,
		Description:  "price feed lookups",
		Version:      "1.0.0",
		Category:     plugin.TypeActionProvider,
		Capabilities: []plugin.Capability{plugin.CapabilityOracle},
	}
}

func (p *Provider) Configure(map[string]any) error { return nil }

func (p *Provider) Init(*plugin.ExecutionContext) error {
	if p.oracle == nil {
		return errors.New("价格预言机未初始化")
	}
	return nil
}

func (p *Provider) Start(*plugin.ExecutionContext) error { return nil }

func (p *Provider) Stop(*plugin.ExecutionContext) error { return nil }

func (p *Provider) SupportsNetwork(plugin.Network) bool { return true }

func (p *Provider) Actions() []plugin.Action {
	return []plugin.Action{
		{
			Name:        ActionFetchPriceFeed,
			Description: "Fetch the price feed ID for a token symbol, e.g. BTC.",
			Schema: plugin.Schema{Fields: []plugin.Field{
				{Name: "tokenSymbol", Description: "token symbol", Required: true},
			}},
			Invoke: func(ctx context.Context, args plugin.Args) (string, error) {
				return p.oracle.ResolveFeed(ctx, strings.ToUpper(args.Get("tokenSymbol")))
			},
		},
		{
			Name:        ActionFetchPrice,
			Description: "Fetch the current USD price for a price feed ID.",
			Schema: plugin.Schema{Fields: []plugin.Field{
				{Name: "priceFeedID", Description: "feed ID returned by fetch_price_feed", Required: true},
			}},
			Invoke: func(ctx context.Context, args plugin.Args) (string, error) {
				return p.oracle.FetchPrice(ctx, args.Get("priceFeedID"))
			},
		},
	}
}

var (
	_ plugin.Plugin         = (*Provider)(nil)
	_ plugin.ActionProvider = (*Provider)(nil)
)
