// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/mempool-sniper/internal/logger"
	"github.com/rovshanmuradov/mempool-sniper/internal/mempool"
)

const EnvPrefix = "SNIPER"

type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	DEX       DEXConfig       `mapstructure:"dex"`
	Snipe     SnipeConfig     `mapstructure:"snipe"`
	Trade     TradeConfig     `mapstructure:"trade"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       logger.Config   `mapstructure:"log"`
}

type NodeConfig struct {
	WSURL             string        `mapstructure:"ws_url"`
	RPCURL            string        `mapstructure:"rpc_url"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
}

type ReconnectConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	MaxAttempts uint          `mapstructure:"max_attempts"`
	Rate        float64       `mapstructure:"rate"`
	Burst       int           `mapstructure:"burst"`
}

type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	Recipient  string `mapstructure:"recipient"`
}

type DEXConfig struct {
	Router    string   `mapstructure:"router"`
	Factory   string   `mapstructure:"factory"`
	Wrapped   string   `mapstructure:"wrapped"`
	Selectors []string `mapstructure:"selectors"`
}

type SnipeConfig struct {
	Token      string        `mapstructure:"token"`
	DedupTTL   time.Duration `mapstructure:"dedup_ttl"`
	Workers    int           `mapstructure:"workers"`
	FetchRate  float64       `mapstructure:"fetch_rate"`
	FetchBurst int           `mapstructure:"fetch_burst"`
}

type TradeConfig struct {
	BuyAmount       string        `mapstructure:"buy_amount"`  // ether units
	SellAmount      string        `mapstructure:"sell_amount"` // raw token units, empty sells the whole balance
	GasPriceGwei    string        `mapstructure:"gas_price_gwei"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	SlippageDivisor int64         `mapstructure:"slippage_divisor"`
	DeadlineWindow  time.Duration `mapstructure:"deadline_window"`
	RefreshDeadline bool          `mapstructure:"refresh_deadline"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

type RetryConfig struct {
	MaxAttempts uint          `mapstructure:"max_attempts"`
	MinBackoff  time.Duration `mapstructure:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultPongTimeout       = 30 * time.Second
	DefaultRetryAttempts     = 5
	DefaultMinBackoff        = 10 * time.Second
	DefaultMaxBackoff        = 15 * time.Second
	DefaultDeadlineWindow    = 5 * time.Minute
	DefaultConfirmTimeout    = 3 * time.Minute
	DefaultDedupTTL          = 10 * time.Minute
	DefaultGasLimit          = 350000
	DefaultSlippageDivisor   = 12
	DefaultWorkers           = 16
)

// Keys without defaults that still need env overrides.
var envOnlyKeys = []string{
	"node.ws_url",
	"node.rpc_url",
	"wallet.private_key",
	"wallet.recipient",
	"dex.router",
	"dex.factory",
	"snipe.token",
	"trade.sell_amount",
	"metrics.addr",
	"redis.addr",
	"redis.password",
}

// LoadConfig reads the optional .env file, then the config file at path (json
// or yaml by extension, may be empty), then SNIPER_* environment overrides.
func LoadConfig(path, envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()

	defaults := map[string]interface{}{
		"node.keepalive_interval": DefaultKeepAliveInterval,
		"node.pong_timeout":       DefaultPongTimeout,
		"reconnect.initial":       time.Second,
		"reconnect.max":           30 * time.Second,
		"reconnect.max_attempts":  10,
		"reconnect.rate":          1.0,
		"reconnect.burst":         3,
		"dex.wrapped":             "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
		"dex.selectors":           []string{"0xf305d719", "0x267dd102", "0xe8078d94", "0xe8e33700"},
		"snipe.dedup_ttl":         DefaultDedupTTL,
		"snipe.workers":           DefaultWorkers,
		"snipe.fetch_rate":        200.0,
		"snipe.fetch_burst":       50,
		"trade.buy_amount":        "0.001",
		"trade.gas_price_gwei":    "5",
		"trade.gas_limit":         DefaultGasLimit,
		"trade.slippage_divisor":  DefaultSlippageDivisor,
		"trade.deadline_window":   DefaultDeadlineWindow,
		"trade.refresh_deadline":  true,
		"trade.confirm_timeout":   DefaultConfirmTimeout,
		"retry.max_attempts":      DefaultRetryAttempts,
		"retry.min_backoff":       DefaultMinBackoff,
		"retry.max_backoff":       DefaultMaxBackoff,
		"redis.prefix":            "sniper",
		"log.file":                "logs/sniper.log",
		"log.max_size":            100,
		"log.max_backups":         3,
		"log.max_age":             7,
		"log.compress":            true,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Node.RPCURL == "" {
		cfg.Node.RPCURL = cfg.Node.WSURL
	}

	return &cfg, validateConfig(&cfg)
}

func loadDotEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Node.WSURL == "" {
		return errors.New("node.ws_url is required")
	}
	if err := validateURLWithCache(cfg.Node.WSURL, "ws"); err != nil {
		return fmt.Errorf("node.ws_url: %w", err)
	}
	if err := validateURLWithCache(cfg.Node.RPCURL, "http", "ws"); err != nil {
		return fmt.Errorf("node.rpc_url: %w", err)
	}
	if cfg.Wallet.PrivateKey == "" {
		return errors.New("wallet.private_key is required")
	}

	addresses := map[string]string{
		"dex.router":  cfg.DEX.Router,
		"dex.factory": cfg.DEX.Factory,
		"dex.wrapped": cfg.DEX.Wrapped,
	}
	for name, value := range addresses {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%s: invalid address %q", name, value)
		}
	}
	optional := map[string]string{
		"wallet.recipient": cfg.Wallet.Recipient,
		"snipe.token":      cfg.Snipe.Token,
	}
	for name, value := range optional {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("%s: invalid address %q", name, value)
		}
	}

	if len(cfg.DEX.Selectors) == 0 {
		return errors.New("dex.selectors is empty")
	}
	for _, s := range cfg.DEX.Selectors {
		if _, err := mempool.ParseSelector(s); err != nil {
			return fmt.Errorf("dex.selectors: %w", err)
		}
	}

	if err := validateAmounts(&cfg.Trade); err != nil {
		return err
	}
	return validateNumericParams(cfg)
}

func validateAmounts(t *TradeConfig) error {
	buy, err := decimal.NewFromString(t.BuyAmount)
	if err != nil || !buy.IsPositive() {
		return fmt.Errorf("invalid trade.buy_amount %q", t.BuyAmount)
	}
	if t.SellAmount != "" {
		sell, err := decimal.NewFromString(t.SellAmount)
		if err != nil || !sell.IsPositive() || !sell.IsInteger() {
			return fmt.Errorf("invalid trade.sell_amount %q", t.SellAmount)
		}
	}
	gas, err := decimal.NewFromString(t.GasPriceGwei)
	if err != nil || !gas.IsPositive() {
		return fmt.Errorf("invalid trade.gas_price_gwei %q", t.GasPriceGwei)
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	durations := map[string]time.Duration{
		"node.keepalive_interval": cfg.Node.KeepAliveInterval,
		"node.pong_timeout":       cfg.Node.PongTimeout,
		"reconnect.initial":       cfg.Reconnect.Initial,
		"reconnect.max":           cfg.Reconnect.Max,
		"retry.min_backoff":       cfg.Retry.MinBackoff,
		"retry.max_backoff":       cfg.Retry.MaxBackoff,
		"trade.deadline_window":   cfg.Trade.DeadlineWindow,
		"trade.confirm_timeout":   cfg.Trade.ConfirmTimeout,
		"snipe.dedup_ttl":         cfg.Snipe.DedupTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("invalid %s", name)
		}
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.MinBackoff > cfg.Retry.MaxBackoff {
		return errors.New("retry.min_backoff exceeds retry.max_backoff")
	}
	if cfg.Reconnect.Initial > cfg.Reconnect.Max {
		return errors.New("reconnect.initial exceeds reconnect.max")
	}
	if cfg.Reconnect.Rate <= 0 || cfg.Reconnect.Burst < 1 {
		return errors.New("invalid reconnect rate limit")
	}
	if cfg.Snipe.Workers < 1 {
		return errors.New("invalid snipe.workers")
	}
	if cfg.Snipe.FetchRate <= 0 || cfg.Snipe.FetchBurst < 1 {
		return errors.New("invalid snipe fetch rate limit")
	}
	if cfg.Trade.GasLimit == 0 {
		return errors.New("invalid trade.gas_limit")
	}
	if cfg.Trade.SlippageDivisor < 1 {
		return errors.New("invalid trade.slippage_divisor")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocols ...string) error {
	key := strings.Join(protocols, ",") + "|" + rawURL
	if _, ok := urlCache.Load(key); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	for _, protocol := range protocols {
		if strings.HasPrefix(parsed.Scheme, protocol) {
			urlCache.Store(key, parsed)
			return nil
		}
	}
	return errors.New("invalid URL protocol")
}
