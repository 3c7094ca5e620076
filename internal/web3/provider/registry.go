package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"TradingTools/internal/web3"
	"TradingTools/internal/web3/ethereum"
)

// Config describes the chains the daemon can sign for.
type Config struct {
	ChainConfig    string
	DefaultChain   string
	RPCURL         string
	PrivateKey     string
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// Chain couples a wallet with the network it is bound to.
type Chain struct {
	Name      string
	NetworkID string
	ChainID   string
	Wallet    web3.Wallet
}

// Registry manages wallets keyed by human readable chain names.
type Registry struct {
	defaultChain string
	chains       map[string]Chain
}

type walletFactory func(ctx context.Context, cfg ethereum.Config) (web3.Wallet, error)

func dialWallet(ctx context.Context, cfg ethereum.Config) (web3.Wallet, error) {
	return ethereum.NewWallet(ctx, cfg)
}

// NewRegistry loads chain definitions and opens one wallet per chain, all
// signing with the same key.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	return newRegistry(ctx, cfg, dialWallet)
}

func newRegistry(ctx context.Context, cfg Config, factory walletFactory) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{RPCURL: cfg.RPCURL}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	registry := &Registry{chains: make(map[string]Chain, len(defs.Chains))}
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType != "" && chainType != "evm" {
			registry.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		wallet, err := factory(ctx, ethereum.Config{
			Name:           name,
			RPCURL:         def.RPCURL,
			PrivateKey:     cfg.PrivateKey,
			Notes:          def.Description,
			ReceiptPoll:    cfg.ReceiptPoll,
			ReceiptTimeout: cfg.ReceiptTimeout,
		})
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		networkID := def.NetworkID
		if networkID == "" {
			networkID = name
		}
		registry.chains[name] = Chain{Name: name, NetworkID: networkID, ChainID: def.ChainID, Wallet: wallet}
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = registry.Chains()[0]
	}
	if _, ok := registry.chains[defaultChain]; !ok {
		registry.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	registry.defaultChain = defaultChain
	return registry, nil
}

// Default returns the chain configured as default.
func (r *Registry) Default() (Chain, error) {
	if r == nil {
		return Chain{}, errors.New("未初始化的钱包注册表")
	}
	chain, ok := r.chains[r.defaultChain]
	if !ok {
		return Chain{}, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return chain, nil
}

// Chain returns the chain identified by name.
func (r *Registry) Chain(name string) (Chain, bool) {
	if r == nil {
		return Chain{}, false
	}
	chain, ok := r.chains[name]
	return chain, ok
}

// Close releases all wallets managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, chain := range r.chains {
		if chain.Wallet != nil {
			chain.Wallet.Close()
		}
		delete(r.chains, name)
	}
}

// Chains returns the sorted list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
