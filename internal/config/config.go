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
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "SAGEWALLET_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/sagewallet.json"

// Config 描述钱包客户端在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Metrics      MetricsConfig      `json:"metrics"`
	Logging      LoggingConfig      `json:"logging"`
	Wallets      WalletsConfig      `json:"wallets"`
	Simulated    SimulatedConfig    `json:"simulated"`
	Web3         Web3Config         `json:"web3"`
	Transactions TransactionsConfig `json:"transactions"`
	Session      SessionConfig      `json:"session"`
	Prices       PricesConfig       `json:"prices"`
	Events       EventsConfig       `json:"events"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 为空地址时指标只挂在 API 路由上。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的配置项。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的输出与滚动。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// WalletsConfig 描述各类钱包的接入端点。
type WalletsConfig struct {
	Default               string               `json:"default"`
	MetaMask              WalletEndpointConfig `json:"metamask"`
	Relay                 WalletEndpointConfig `json:"relay"`
	AccountPollIntervalMs int                  `json:"account_poll_interval_ms"`
	Simulated             bool                 `json:"simulated"`
}

// WalletEndpointConfig 是持有用户私钥的 JSON-RPC 端点。
type WalletEndpointConfig struct {
	RPCURL string `json:"rpc_url"`
}

// SimulatedConfig 描述模拟链上预置的账户。
type SimulatedConfig struct {
	FundedAccounts int    `json:"funded_accounts"`
	BalanceETH     string `json:"balance_eth"`
}

// Web3Config 指向链与合约定义文件。Network 选择链定义中的条目，用于拼接区块浏览器链接。
type Web3Config struct {
	ChainConfig string `json:"chain_config"`
	Network     string `json:"network"`
}

// TransactionsConfig 控制交易确认等待。
type TransactionsConfig struct {
	ConfirmationTimeoutSeconds int `json:"confirmation_timeout_seconds"`
	PollIntervalMs             int `json:"poll_interval_ms"`
}

// ConfirmationTimeout 返回确认等待上限。
func (c TransactionsConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// PollInterval 返回查询回执的间隔。
func (c TransactionsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SessionConfig 控制会话余额刷新。
type SessionConfig struct {
	BalanceRefreshSeconds int `json:"balance_refresh_seconds"`
}

// BalanceRefresh 返回余额刷新间隔。
func (c SessionConfig) BalanceRefresh() time.Duration {
	return time.Duration(c.BalanceRefreshSeconds) * time.Second
}

// PricesConfig 描述行情源与缓存。
type PricesConfig struct {
	BaseURL             string      `json:"base_url"`
	IDs                 []string    `json:"ids"`
	PollIntervalSeconds int         `json:"poll_interval_seconds"`
	Redis               RedisConfig `json:"redis"`
}

// PollInterval 返回行情轮询间隔。
func (c PricesConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RedisConfig 为空地址时表示不启用。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Key        string `json:"key"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回缓存有效期。
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// EventsConfig 选择事件投递后端。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述事件队列。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// Path 返回配置文件路径，优先读取环境变量。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

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

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回未读取任何文件时的配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// Validate 检查无法通过默认值修正的配置错误。
func (c *Config) Validate() error {
	switch c.Events.Driver {
	case "memory", "redis", "rabbitmq", "none":
	default:
		return fmt.Errorf("不支持的事件驱动 %q", c.Events.Driver)
	}
	if c.Events.Driver == "redis" && c.Events.Redis.Address == "" {
		return errors.New("events.redis.address 不能为空")
	}
	if c.Events.Driver == "rabbitmq" && c.Events.RabbitMQ.URL == "" {
		return errors.New("events.rabbitmq.url 不能为空")
	}
	if c.Simulated.FundedAccounts < 0 {
		return errors.New("simulated.funded_accounts 不能为负数")
	}
	return nil
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
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else {
			c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
		}
	}

	if c.Wallets.Default == "" {
		c.Wallets.Default = "metamask"
	}
	if c.Wallets.AccountPollIntervalMs <= 0 {
		c.Wallets.AccountPollIntervalMs = 1000
	}
	if c.Simulated.FundedAccounts == 0 {
		c.Simulated.FundedAccounts = 2
	}
	if c.Simulated.BalanceETH == "" {
		c.Simulated.BalanceETH = "100"
	}

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	}

	if c.Transactions.ConfirmationTimeoutSeconds <= 0 {
		c.Transactions.ConfirmationTimeoutSeconds = 120
	}
	if c.Transactions.PollIntervalMs <= 0 {
		c.Transactions.PollIntervalMs = 1000
	}

	if c.Session.BalanceRefreshSeconds <= 0 {
		c.Session.BalanceRefreshSeconds = 15
	}

	if c.Prices.BaseURL == "" {
		c.Prices.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if len(c.Prices.IDs) == 0 {
		c.Prices.IDs = []string{"bitcoin", "ethereum", "usd-coin"}
	}
	if c.Prices.PollIntervalSeconds <= 0 {
		c.Prices.PollIntervalSeconds = 30
	}
	if c.Prices.Redis.Key == "" {
		c.Prices.Redis.Key = "sagewallet:prices"
	}
	if c.Prices.Redis.TTLSeconds <= 0 {
		c.Prices.Redis.TTLSeconds = 60
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	c.Events.Driver = strings.ToLower(c.Events.Driver)
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Events.Redis.Key == "" {
		c.Events.Redis.Key = "sagewallet:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "sagewallet.events"
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
