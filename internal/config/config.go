package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "companion"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	// .env 仅用于本地开发，缺失时忽略
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

// Defaults 返回仅包含默认值的配置，便于测试与无配置文件启动。
func Defaults() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("price_feed.provider", "jupiter")
	v.SetDefault("price_feed.base_url", "https://lite-api.jup.ag/price/v2")
	v.SetDefault("price_feed.timeout", "10s")
	v.SetDefault("price_feed.rate_per_sec", 5.0)
	v.SetDefault("price_feed.retry.max_attempts", 3)
	v.SetDefault("price_feed.retry.min_delay", "500ms")
	v.SetDefault("price_feed.retry.max_delay", "4s")
	v.SetDefault("price_feed.ccxt_exchange", "binance")
	v.SetDefault("price_feed.ccxt_quote", "USDT")
	v.SetDefault("price_feed.use_sandbox", false)

	v.SetDefault("swap.base_url", "https://lite-api.jup.ag/swap/v1")
	v.SetDefault("swap.timeout", "15s")
	v.SetDefault("swap.slippage_bps", 50)
	v.SetDefault("swap.mock", false)
	v.SetDefault("swap.retry.max_attempts", 2)
	v.SetDefault("swap.retry.min_delay", "500ms")
	v.SetDefault("swap.retry.max_delay", "2s")

	v.SetDefault("signer.mode", "none")
	v.SetDefault("signer.rpc_endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("signer.confirm_timeout", "30s")
	v.SetDefault("signer.session_wait", "10s")
	v.SetDefault("signer.bridge_timeout", "30s")

	v.SetDefault("wallet.balance_ttl", "30s")
	v.SetDefault("wallet.scrypt_n", 1<<15)

	v.SetDefault("orders.default_base_token", "USDC")
	v.SetDefault("orders.execution_timeout", "60s")
	v.SetDefault("orders.fill_points", 25)

	v.SetDefault("watcher.interval", "10s")
	v.SetDefault("watcher.fetch_timeout", "10s")

	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.interval", "5m")

	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1-mini")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("server.port", 8088)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/companion.db")
	v.SetDefault("database.pebble_path", "data/kv")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
