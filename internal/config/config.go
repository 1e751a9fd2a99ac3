package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Chain     ChainConfig     `mapstructure:"chain"`
	PriceFeed PriceFeedConfig `mapstructure:"pricefeed"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ChainConfig holds the JSON-RPC endpoint, contract and signer
type ChainConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	ChainID         int64         `mapstructure:"chain_id"` // 0 = ask the node
	ABIPath         string        `mapstructure:"abi_path"` // empty = built-in ABI
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

// PriceFeedConfig holds price API configuration
type PriceFeedConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Symbol  string        `mapstructure:"symbol"`
	Timeout time.Duration `mapstructure:"timeout"` // 0 = transport default
}

// OracleConfig holds the settlement loop timing
type OracleConfig struct {
	MaxFetchAttempts int           `mapstructure:"max_fetch_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	LoopDelay        time.Duration `mapstructure:"loop_delay"`
}

// StorageConfig holds the settlement journal configuration
type StorageConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DBPath         string `mapstructure:"db_path"`
	MaxSettlements int    `mapstructure:"max_settlements"` // 0 = keep all
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken          string        `mapstructure:"bot_token"`
	ChatID            string        `mapstructure:"chat_id"`
	Enabled           bool          `mapstructure:"enabled"`
	NotifySettlements bool          `mapstructure:"notify_settlements"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error; existing variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. ROUND_ORACLE_CHAIN_PRIVATE_KEY
	v.SetEnvPrefix("ROUND_ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Keys without a meaningful default are still registered so AutomaticEnv
// can bind them during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Chain defaults
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.abi_path", "")
	v.SetDefault("chain.confirm_timeout", "15m")

	// Price feed defaults
	v.SetDefault("pricefeed.api_url", "")
	v.SetDefault("pricefeed.symbol", "BTCUSDT")
	v.SetDefault("pricefeed.timeout", "0s") // 0 = transport default

	// Oracle defaults
	v.SetDefault("oracle.max_fetch_attempts", 3)
	v.SetDefault("oracle.retry_delay", "30s")
	v.SetDefault("oracle.loop_delay", "60s")

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/round-oracle.db")
	v.SetDefault("storage.max_settlements", 10000)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.notify_settlements", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Chain config
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("chain.contract_address must be a hex address")
	}
	if c.Chain.ChainID < 0 {
		return fmt.Errorf("chain.chain_id must not be negative")
	}
	if c.Chain.ConfirmTimeout < 0 {
		return fmt.Errorf("chain.confirm_timeout must not be negative")
	}

	// Validate PriceFeed config
	if c.PriceFeed.APIURL == "" {
		return fmt.Errorf("pricefeed.api_url is required")
	}
	if u, err := url.Parse(c.PriceFeed.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("pricefeed.api_url must be an absolute URL")
	}
	if strings.TrimSpace(c.PriceFeed.Symbol) == "" {
		return fmt.Errorf("pricefeed.symbol is required")
	}
	if c.PriceFeed.Timeout < 0 {
		return fmt.Errorf("pricefeed.timeout must not be negative")
	}

	// Validate Oracle config
	if c.Oracle.MaxFetchAttempts < 1 {
		return fmt.Errorf("oracle.max_fetch_attempts must be at least 1")
	}
	if c.Oracle.RetryDelay < 0 {
		return fmt.Errorf("oracle.retry_delay must not be negative")
	}
	if c.Oracle.LoopDelay < 0 {
		return fmt.Errorf("oracle.loop_delay must not be negative")
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}
	if c.Storage.MaxSettlements < 0 {
		return fmt.Errorf("storage.max_settlements must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
