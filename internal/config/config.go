package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Trading   TradingConfig   `yaml:"trading"`
	Retry     RetryConfig     `yaml:"retry"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Enabled        bool          `yaml:"enabled"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TradingConfig struct {
	Market    string  `yaml:"market"`
	BuyPrice  float64 `yaml:"buy_price"`
	SellPrice float64 `yaml:"sell_price"`
	OrderSize float64 `yaml:"order_size"`
	MinUSDC   float64 `yaml:"min_usdc"`
	DryRun    bool    `yaml:"dry_run"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type MonitorConfig struct {
	OrderInterval       time.Duration `yaml:"order_interval"`
	LiquidationInterval time.Duration `yaml:"liquidation_interval"`
	BalanceInterval     time.Duration `yaml:"balance_interval"`
	BalanceCacheTTL     time.Duration `yaml:"balance_cache_ttl"`
	LiquidationRatio    float64       `yaml:"liquidation_ratio"`
	WarningRatio        float64       `yaml:"warning_ratio"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// PairDefinition is the raw wallet-pair input before registration.
type PairDefinition struct {
	AddressA string `yaml:"address_a" json:"address_a"`
	AddressB string `yaml:"address_b" json:"address_b"`
	APIKeyA  string `yaml:"api_key_a" json:"api_key_a"`
	APIKeyB  string `yaml:"api_key_b" json:"api_key_b"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Validate re-runs the configuration checks, for callers that mutate
// the config after Load.
func (c *Config) Validate() error {
	return validate(c)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://mainnet.zklighter.elliot.ai"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RateLimit == 0 {
		cfg.REST.RateLimit = 10
	}
	if cfg.REST.RateBurst == 0 {
		cfg.REST.RateBurst = 20
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://mainnet.zklighter.elliot.ai/stream"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/lighter-hedge-bot.db"
	}
	if cfg.Trading.Market == "" {
		cfg.Trading.Market = "SOL"
	}
	if cfg.Trading.OrderSize == 0 {
		cfg.Trading.OrderSize = 10
	}
	if cfg.Trading.MinUSDC == 0 {
		cfg.Trading.MinUSDC = 500
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Monitor.OrderInterval == 0 {
		cfg.Monitor.OrderInterval = 5 * time.Second
	}
	if cfg.Monitor.LiquidationInterval == 0 {
		cfg.Monitor.LiquidationInterval = 3 * time.Second
	}
	if cfg.Monitor.BalanceInterval == 0 {
		cfg.Monitor.BalanceInterval = 30 * time.Second
	}
	if cfg.Monitor.BalanceCacheTTL == 0 {
		cfg.Monitor.BalanceCacheTTL = 30 * time.Second
	}
	if cfg.Monitor.LiquidationRatio == 0 {
		cfg.Monitor.LiquidationRatio = 0.02
	}
	if cfg.Monitor.WarningRatio == 0 {
		cfg.Monitor.WarningRatio = 0.15
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.BuyPrice < 0 || cfg.Trading.SellPrice < 0 {
		return errors.New("trading prices must not be negative")
	}
	if cfg.Trading.BuyPrice > 0 && cfg.Trading.SellPrice > 0 && cfg.Trading.SellPrice <= cfg.Trading.BuyPrice {
		return errors.New("trading.sell_price must be greater than trading.buy_price")
	}
	if cfg.Trading.OrderSize <= 0 {
		return errors.New("trading.order_size must be > 0")
	}
	if cfg.Trading.MinUSDC < 0 {
		return errors.New("trading.min_usdc must be >= 0")
	}
	if cfg.Monitor.WarningRatio < cfg.Monitor.LiquidationRatio {
		return errors.New("monitor.warning_ratio must be >= monitor.liquidation_ratio")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

// ParseWalletPairs accepts either an inline "a1,b1;a2,b2" list or a path
// to a JSON file holding an array of pair definitions.
func ParseWalletPairs(spec string) ([]PairDefinition, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("wallet pairs are required")
	}
	if strings.HasSuffix(spec, ".json") {
		data, err := os.ReadFile(spec)
		if err != nil {
			return nil, err
		}
		var defs []PairDefinition
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("wallet pairs file %s: %w", spec, err)
		}
		return defs, nil
	}
	var defs []PairDefinition
	for _, chunk := range strings.Split(spec, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		parts := strings.Split(chunk, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid wallet pair %q: want addressA,addressB", chunk)
		}
		defs = append(defs, PairDefinition{
			AddressA: strings.TrimSpace(parts[0]),
			AddressB: strings.TrimSpace(parts[1]),
		})
	}
	if len(defs) == 0 {
		return nil, errors.New("no wallet pairs parsed")
	}
	return defs, nil
}
