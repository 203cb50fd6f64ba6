package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	PriceFeed PriceFeedConfig `mapstructure:"price_feed"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PriceFeedConfig 描述行情源。
type PriceFeedConfig struct {
	Provider     string        `mapstructure:"provider"` // jupiter | ccxt
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	Retry        RetryConfig   `mapstructure:"retry"`
	CCXTExchange string        `mapstructure:"ccxt_exchange"`
	CCXTQuote    string        `mapstructure:"ccxt_quote"`
	UseSandbox   bool          `mapstructure:"use_sandbox"`
}

// SwapConfig 描述报价与兑换服务。
type SwapConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SlippageBps int           `mapstructure:"slippage_bps"`
	Mock        bool          `mapstructure:"mock"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// SignerConfig 控制签名后端。
type SignerConfig struct {
	Mode           string        `mapstructure:"mode"` // local | delegated | none
	RPCEndpoint    string        `mapstructure:"rpc_endpoint"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	SessionWait    time.Duration `mapstructure:"session_wait"`
	BridgeURL      string        `mapstructure:"bridge_url"`
	BridgeTimeout  time.Duration `mapstructure:"bridge_timeout"`
}

// WalletConfig 控制本地密钥存储。
type WalletConfig struct {
	Passphrase string        `mapstructure:"passphrase"`
	BalanceTTL time.Duration `mapstructure:"balance_ttl"`
	ScryptN    int           `mapstructure:"scrypt_n"`
}

// OrdersConfig 控制条件单执行。
type OrdersConfig struct {
	DefaultBaseToken string        `mapstructure:"default_base_token"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	FillPoints       int           `mapstructure:"fill_points"`
}

// WatcherConfig 控制价格轮询。
type WatcherConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// HeartbeatConfig 控制心跳周期。
type HeartbeatConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// NotifyConfig 控制通知发送。
type NotifyConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	KafkaBroker string        `mapstructure:"kafka_broker"`
	KafkaTopic  string        `mapstructure:"kafka_topic"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig 控制 HTTP 接口。
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | pebble
	Path            string        `mapstructure:"path"`
	PebblePath      string        `mapstructure:"pebble_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch strings.ToLower(c.PriceFeed.Provider) {
	case "jupiter":
		if c.PriceFeed.BaseURL == "" {
			err = multierr.Append(err, errors.New("price_feed.base_url 不能为空"))
		}
	case "ccxt":
		if c.PriceFeed.CCXTExchange == "" {
			err = multierr.Append(err, errors.New("price_feed.ccxt_exchange 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("price_feed.provider 取值非法: %q", c.PriceFeed.Provider))
	}
	if c.PriceFeed.Timeout <= 0 {
		err = multierr.Append(err, errors.New("price_feed.timeout 必须大于0"))
	}
	err = multierr.Append(err, validateRetry("price_feed.retry", c.PriceFeed.Retry))

	if !c.Swap.Mock && c.Swap.BaseURL == "" {
		err = multierr.Append(err, errors.New("swap.base_url 不能为空"))
	}
	if c.Swap.Timeout < 5*time.Second || c.Swap.Timeout > 30*time.Second {
		err = multierr.Append(err, errors.New("swap.timeout 应位于[5s,30s]"))
	}
	if c.Swap.SlippageBps < 0 || c.Swap.SlippageBps > 5000 {
		err = multierr.Append(err, errors.New("swap.slippage_bps 应位于[0,5000]"))
	}
	err = multierr.Append(err, validateRetry("swap.retry", c.Swap.Retry))

	switch strings.ToLower(c.Signer.Mode) {
	case "local", "none", "":
	case "delegated":
		if c.Signer.BridgeURL == "" {
			err = multierr.Append(err, errors.New("delegated 模式需要配置 signer.bridge_url"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("signer.mode 取值非法: %q", c.Signer.Mode))
	}
	if c.Signer.RPCEndpoint == "" {
		err = multierr.Append(err, errors.New("signer.rpc_endpoint 不能为空"))
	}
	if c.Signer.ConfirmTimeout < 5*time.Second || c.Signer.ConfirmTimeout > 30*time.Second {
		err = multierr.Append(err, errors.New("signer.confirm_timeout 应位于[5s,30s]"))
	}
	if c.Signer.SessionWait <= 0 {
		err = multierr.Append(err, errors.New("signer.session_wait 必须大于0"))
	}
	if c.Signer.BridgeTimeout <= 0 {
		err = multierr.Append(err, errors.New("signer.bridge_timeout 必须大于0"))
	}

	if strings.EqualFold(c.Signer.Mode, "local") && c.Wallet.Passphrase == "" {
		err = multierr.Append(err, errors.New("local 模式需要配置 wallet.passphrase"))
	}
	if c.Wallet.BalanceTTL <= 0 {
		err = multierr.Append(err, errors.New("wallet.balance_ttl 必须大于0"))
	}

	if c.Orders.DefaultBaseToken == "" {
		err = multierr.Append(err, errors.New("orders.default_base_token 不能为空"))
	}
	if c.Orders.ExecutionTimeout <= 0 {
		err = multierr.Append(err, errors.New("orders.execution_timeout 必须大于0"))
	}
	if c.Orders.FillPoints < 0 {
		err = multierr.Append(err, errors.New("orders.fill_points 不能为负"))
	}

	if c.Watcher.Interval <= 0 {
		err = multierr.Append(err, errors.New("watcher.interval 必须大于0"))
	}
	if c.Watcher.FetchTimeout <= 0 {
		err = multierr.Append(err, errors.New("watcher.fetch_timeout 必须大于0"))
	}
	if c.Heartbeat.Enabled {
		if c.Heartbeat.Interval <= 0 {
			err = multierr.Append(err, errors.New("heartbeat.interval 必须大于0"))
		}
		if c.Heartbeat.Interval < c.Watcher.Interval {
			err = multierr.Append(err, errors.New("heartbeat.interval 不应小于 watcher.interval"))
		}
	}

	if c.Notify.Timeout <= 0 {
		err = multierr.Append(err, errors.New("notify.timeout 必须大于0"))
	}
	if c.Notify.KafkaBroker != "" && c.Notify.KafkaTopic == "" {
		err = multierr.Append(err, errors.New("notify.kafka_topic 不能为空"))
	}

	if c.OpenAI.APIKey != "" && c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 应位于[0,65535]"))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite":
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
	case "pebble":
		if c.Database.PebblePath == "" {
			err = multierr.Append(err, errors.New("database.pebble_path 不能为空"))
		}
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空，活动日志仍使用 SQLite"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver 取值非法: %q", c.Database.Driver))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func validateRetry(prefix string, r RetryConfig) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", prefix))
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.delay 必须为正", prefix))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.min_delay 不能大于 max_delay", prefix))
	}
	return err
}
