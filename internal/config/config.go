package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "TRADINGTOOLS_CONFIG"

// DefaultPath 是未设置 EnvConfigPath 时使用的配置文件。
const DefaultPath = "configs/tradingtools.json"

// Config 描述了 TradingTools 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Oracle   OracleConfig   `json:"oracle"`
	Web3     Web3Config     `json:"web3"`
	Trading  TradingConfig  `json:"trading"`
	Alerting AlertingConfig `json:"alerting"`
	Plugins  PluginsConfig  `json:"plugins"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	MaxSizeMB   int      `json:"max_size_mb"`
	MaxBackups  int      `json:"max_backups"`
	MaxAgeDays  int      `json:"max_age_days"`
	AuditPath   string   `json:"audit_path"`
}

// StorageConfig 描述订单存储。
type StorageConfig struct {
	OrderStore OrderStoreConfig `json:"order_store"`
}

// OrderStoreConfig 支持 memory 与 mysql 两种驱动。
type OrderStoreConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// OracleConfig 描述价格预言机以及价格源 ID 缓存。
type OracleConfig struct {
	HermesURL      string          `json:"hermes_url"`
	AssetType      string          `json:"asset_type"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Cache          FeedCacheConfig `json:"cache"`
}

// FeedCacheConfig 支持 none、memory 与 redis。
type FeedCacheConfig struct {
	Driver     string `json:"driver"`
	TTLSeconds int    `json:"ttl_seconds"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
}

// Web3Config 包含访问区块链节点与签名钱包所需的信息。
type Web3Config struct {
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	PrivateKeyEnv         string `json:"private_key_env"`
	ReceiptPollMS         int    `json:"receipt_poll_ms"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
}

// TradingConfig 描述兑换合约与轮询参数。
type TradingConfig struct {
	RouterAddress       string            `json:"router_address"`
	StableTokenAddress  string            `json:"stable_token_address"`
	PoolFee             uint32            `json:"pool_fee"`
	SwapDeadlineSeconds int               `json:"swap_deadline_seconds"`
	PollIntervalMS      int               `json:"poll_interval_ms"`
	Autostart           bool              `json:"autostart"`
	Tokens              map[string]string `json:"tokens"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 为空 URL 时不启用。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// PluginsConfig 指向插件管理器的 YAML 配置。
type PluginsConfig struct {
	Config string `json:"config"`
}

// ResolvePath 返回 EnvConfigPath 指定的路径，未设置时返回 DefaultPath。
func ResolvePath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。配置目录与工作目录下的 .env 会先被加载，
// 已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	baseDir := filepath.Dir(path)
	loadDotEnv(filepath.Join(baseDir, ".env"), ".env")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := map[string]struct{}{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
	for i, p := range c.Logging.OutputPaths {
		if p != "stdout" && p != "stderr" {
			c.Logging.OutputPaths[i] = resolve(baseDir, p)
		}
	}
	if c.Logging.AuditPath != "" {
		c.Logging.AuditPath = resolve(baseDir, c.Logging.AuditPath)
	}

	if c.Storage.OrderStore.Driver == "" {
		c.Storage.OrderStore.Driver = "memory"
	}

	if c.Oracle.HermesURL == "" {
		c.Oracle.HermesURL = "https://hermes.pyth.network"
	}
	if c.Oracle.AssetType == "" {
		c.Oracle.AssetType = "crypto"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 10
	}
	if c.Oracle.Cache.Driver == "" {
		c.Oracle.Cache.Driver = "memory"
	}
	if c.Oracle.Cache.TTLSeconds <= 0 {
		c.Oracle.Cache.TTLSeconds = 3600
	}

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "WALLET_PRIVATE_KEY"
	}
	if c.Web3.ReceiptPollMS <= 0 {
		c.Web3.ReceiptPollMS = 1000
	}

	if c.Trading.RouterAddress == "" {
		c.Trading.RouterAddress = "0xE592427A0AEce92De3Edee1F18E0157C05861564"
	}
	if c.Trading.StableTokenAddress == "" {
		c.Trading.StableTokenAddress = "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9"
	}
	if c.Trading.PoolFee == 0 {
		c.Trading.PoolFee = 3000
	}
	if c.Trading.SwapDeadlineSeconds <= 0 {
		c.Trading.SwapDeadlineSeconds = 60
	}
	if c.Trading.PollIntervalMS <= 0 {
		c.Trading.PollIntervalMS = 10000
	}
	if c.Trading.Tokens == nil {
		c.Trading.Tokens = map[string]string{}
	}

	if c.Plugins.Config != "" {
		c.Plugins.Config = resolve(baseDir, c.Plugins.Config)
	}
}

// Validate 检查取值范围与地址格式。
func (c *Config) Validate() error {
	switch c.Storage.OrderStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.OrderStore.DSN == "" {
			return errors.New("storage.order_store.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的订单存储驱动: %s", c.Storage.OrderStore.Driver)
	}

	switch c.Oracle.Cache.Driver {
	case "none", "memory":
	case "redis":
		if c.Oracle.Cache.Address == "" {
			return errors.New("oracle.cache.address 不能为空")
		}
	default:
		return fmt.Errorf("不支持的价格源缓存驱动: %s", c.Oracle.Cache.Driver)
	}

	if c.Web3.ChainConfig == "" && c.Web3.RPCURL == "" {
		return errors.New("web3.chain_config 与 web3.rpc_url 至少需要配置一个")
	}

	if !common.IsHexAddress(c.Trading.RouterAddress) {
		return fmt.Errorf("trading.router_address 不是合法地址: %s", c.Trading.RouterAddress)
	}
	if !common.IsHexAddress(c.Trading.StableTokenAddress) {
		return fmt.Errorf("trading.stable_token_address 不是合法地址: %s", c.Trading.StableTokenAddress)
	}
	for symbol, addr := range c.Trading.Tokens {
		if strings.TrimSpace(symbol) == "" || !common.IsHexAddress(addr) {
			return fmt.Errorf("trading.tokens[%s] 不是合法地址: %s", symbol, addr)
		}
	}
	return nil
}

// PrivateKey 从 PrivateKeyEnv 指定的环境变量读取钱包私钥。
func (c Web3Config) PrivateKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(c.PrivateKeyEnv))
	if key == "" {
		return "", fmt.Errorf("环境变量 %s 未设置钱包私钥", c.PrivateKeyEnv)
	}
	return key, nil
}

// ReceiptPoll 返回回执轮询间隔。
func (c Web3Config) ReceiptPoll() time.Duration {
	return time.Duration(c.ReceiptPollMS) * time.Millisecond
}

// ReceiptTimeout 返回回执等待上限，0 表示不限制。
func (c Web3Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSeconds) * time.Second
}

// Timeout 返回预言机 HTTP 超时。
func (c OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTL 返回价格源 ID 的缓存时间。
func (c FeedCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SwapDeadline 返回兑换交易的截止时长。
func (c TradingConfig) SwapDeadline() time.Duration {
	return time.Duration(c.SwapDeadlineSeconds) * time.Second
}

// PollInterval 返回轮询间隔。
func (c TradingConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TokenAddresses 将代币映射转换为地址类型。
func (c TradingConfig) TokenAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(c.Tokens))
	for symbol, addr := range c.Tokens {
		out[symbol] = common.HexToAddress(addr)
	}
	return out
}

// ConnMaxLifetimeDuration 返回连接最长存活时间。
func (c OrderStoreConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
