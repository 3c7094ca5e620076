package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"TradingTools/internal/api"
	"TradingTools/internal/config"
	"TradingTools/internal/fulfillment"
	"TradingTools/internal/observability/alerting"
	"TradingTools/internal/oracle"
	"TradingTools/internal/oracle/pyth"
	"TradingTools/internal/order"
	"TradingTools/internal/pricefeed"
	"TradingTools/internal/storage/mysql"
	"TradingTools/internal/storage/redis"
	"TradingTools/internal/tradingtools"
	"TradingTools/internal/web3/provider"
	"TradingTools/pkg/logger"
	"TradingTools/pkg/plugin"
)

// main 是 TradingTools 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tradingd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
		Audit: logger.AuditConfig{Enabled: cfg.Logging.AuditPath != "", Path: cfg.Logging.AuditPath},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("tradingd")

	store, err := openOrderStore(ctx, cfg.Storage.OrderStore)
	if err != nil {
		return err
	}
	orders := order.NewService(store)
	defer orders.Close()

	oracleClient, closeOracle, err := openOracle(ctx, cfg.Oracle)
	if err != nil {
		return err
	}
	defer closeOracle()

	privateKey, err := cfg.Web3.PrivateKey()
	if err != nil {
		return err
	}
	chains, err := provider.NewRegistry(ctx, provider.Config{
		ChainConfig:    cfg.Web3.ChainConfig,
		DefaultChain:   cfg.Web3.DefaultChain,
		RPCURL:         cfg.Web3.RPCURL,
		PrivateKey:     privateKey,
		ReceiptPoll:    cfg.Web3.ReceiptPoll(),
		ReceiptTimeout: cfg.Web3.ReceiptTimeout(),
	})
	if err != nil {
		return err
	}
	defer chains.Close()
	chain, err := chains.Default()
	if err != nil {
		return err
	}

	engine, err := fulfillment.NewEngine(store, oracleClient, chain.Wallet, fulfillment.Config{
		Router:       common.HexToAddress(cfg.Trading.RouterAddress),
		StableToken:  common.HexToAddress(cfg.Trading.StableTokenAddress),
		PoolFee:      cfg.Trading.PoolFee,
		SwapDeadline: cfg.Trading.SwapDeadline(),
	})
	if err != nil {
		return err
	}

	dispatcher, closeAlerts, err := openAlerting(cfg.Alerting)
	if err != nil {
		return err
	}
	defer closeAlerts()

	trading := tradingtools.New(tradingtools.Deps{Orders: orders, Engine: engine, Alerts: dispatcher},
		tradingtools.WithTokens(cfg.Trading.TokenAddresses()),
	)
	// 主配置中的轮询参数作为默认值，插件配置块可覆盖。
	if err := trading.Configure(map[string]any{
		"poll_interval_ms": cfg.Trading.PollIntervalMS,
		"autostart":        cfg.Trading.Autostart,
	}); err != nil {
		return err
	}
	// 未提供插件配置时，内置插件获得其声明的全部能力。
	pluginCfg := plugin.ManagerConfig{Defaults: plugin.IsolationPolicy{
		AllowedCapabilities: trading.Info().Capabilities,
	}}
	if cfg.Plugins.Config != "" {
		pluginCfg, err = plugin.LoadManagerConfig(cfg.Plugins.Config)
		if err != nil {
			return err
		}
	}
	manager, err := plugin.NewManager(pluginCfg, plugin.WithResource(plugin.ResourceNetwork, plugin.Network{
		ProtocolFamily: "evm",
		NetworkID:      chain.NetworkID,
		ChainID:        chain.ChainID,
	}))
	if err != nil {
		return err
	}

	for _, p := range []plugin.Plugin{trading, pricefeed.New(oracleClient)} {
		installed, err := manager.Install(p)
		if err != nil {
			return err
		}
		if !installed {
			lg.Warn("插件已在配置中禁用", slog.String("plugin", p.Info().ID))
		}
	}
	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		if err := manager.StopAll(context.WithoutCancel(ctx)); err != nil {
			lg.Error("停止插件失败", slog.Any("error", err))
		}
		trading.Wait()
	}()

	lg.Info("守护进程已启动",
		slog.String("chain", chain.Name),
		slog.String("wallet", chain.Wallet.Address().Hex()),
		slog.String("order_store", cfg.Storage.OrderStore.Driver),
		slog.Bool("polling", trading.Polling()),
	)

	server := api.NewServer(api.Config{
		Addr:           cfg.Server.Address,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, api.Deps{
		Actions: manager,
		Orders:  orders,
		Poller:  trading,
		Chain:   chain.Wallet,
	})
	return server.Start(ctx)
}

func openOrderStore(ctx context.Context, cfg config.OrderStoreConfig) (order.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return order.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewOrderStore(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetimeDuration(),
		})
	default:
		return nil, fmt.Errorf("未知的订单存储驱动: %s", cfg.Driver)
	}
}

func openOracle(ctx context.Context, cfg config.OracleConfig) (oracle.Client, func(), error) {
	hermes, err := pyth.NewClient(pyth.Config{
		BaseURL:   cfg.HermesURL,
		AssetType: cfg.AssetType,
		Timeout:   cfg.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Cache.Driver {
	case "none":
		return hermes, func() {}, nil
	case "memory", "":
		return oracle.NewCachedClient(hermes, oracle.NewMemoryFeedCache(cfg.Cache.TTL())), func() {}, nil
	case "redis":
		cache, err := redis.NewFeedCache(ctx, redis.Config{
			Address:   cfg.Cache.Address,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		return oracle.NewCachedClient(hermes, cache), func() { _ = cache.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的价格源缓存驱动: %s", cfg.Cache.Driver)
	}
}

func openAlerting(cfg config.AlertingConfig) (alerting.Dispatcher, func(), error) {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	closeFn := func() {}
	if cfg.RabbitMQ.URL != "" {
		notifier, err := alerting.NewRabbitMQNotifier(alerting.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, notifier)
		closeFn = func() { _ = notifier.Close() }
	}
	return alerting.NewFanout(notifiers...), closeFn, nil
}
