package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/market-relister/internal/market"
	"github.com/market-relister/internal/trade"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Market  MarketConfig  `json:"market" yaml:"market"`
	Trade   TradeConfig   `json:"trade" yaml:"trade"`
	Scan    ScanConfig    `json:"scan" yaml:"scan"`
	Proxy   ProxyConfig   `json:"proxy" yaml:"proxy"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Inputs  InputsConfig  `json:"inputs" yaml:"inputs"`
	Notify  NotifyConfig  `json:"notify" yaml:"notify"`
	API     APIConfig     `json:"api" yaml:"api"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	mu       sync.RWMutex
	filePath string
}

type MarketConfig struct {
	// Hostname is sent as SNI and Host; empty means take it from the seeded config document
	Hostname         string `json:"hostname" yaml:"hostname"`
	Port             int    `json:"port" yaml:"port"`
	Build            string `json:"build" yaml:"build"`
	Fingerprint      string `json:"fingerprint" yaml:"fingerprint"`
	SoldSort         string `json:"sold_sort" yaml:"sold_sort"`
	SellDurationDays int    `json:"sell_duration_days" yaml:"sell_duration_days"`
	ViaProxy         bool   `json:"via_proxy" yaml:"via_proxy"`
	IOTimeoutMs      int    `json:"io_timeout_ms" yaml:"io_timeout_ms"`

	ActiveBufferBytes int `json:"active_buffer_bytes" yaml:"active_buffer_bytes"`
	SoldBufferBytes   int `json:"sold_buffer_bytes" yaml:"sold_buffer_bytes"`
	SearchBufferBytes int `json:"search_buffer_bytes" yaml:"search_buffer_bytes"`
	BuyBufferBytes    int `json:"buy_buffer_bytes" yaml:"buy_buffer_bytes"`
	SellBufferBytes   int `json:"sell_buffer_bytes" yaml:"sell_buffer_bytes"`
}

type TradeConfig struct {
	MarginPercent float64          `json:"margin_percent" yaml:"margin_percent"`
	HistorySource string           `json:"history_source" yaml:"history_source"` // "search" or "index"
	Thresholds    trade.Thresholds `json:"thresholds" yaml:"thresholds"`
}

type ScanConfig struct {
	CycleDelayMs     int  `json:"cycle_delay_ms" yaml:"cycle_delay_ms"`
	UnitTimeoutMs    int  `json:"unit_timeout_ms" yaml:"unit_timeout_ms"`
	SoldTimeoutMs    int  `json:"sold_timeout_ms" yaml:"sold_timeout_ms"`
	ReconcileSold    bool `json:"reconcile_sold" yaml:"reconcile_sold"`
	CacheCapacity    int  `json:"cache_capacity" yaml:"cache_capacity"`
	BlacklistOnError bool `json:"blacklist_on_error" yaml:"blacklist_on_error"`
}

type ProxyConfig struct {
	Enabled                 bool   `json:"enabled" yaml:"enabled"`
	SourceURL               string `json:"source_url" yaml:"source_url"`
	SeedURIEnv              string `json:"seed_uri_env" yaml:"seed_uri_env"`
	ProbeTimeoutMs          int    `json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	ProbeConcurrency        int    `json:"probe_concurrency" yaml:"probe_concurrency"`
	RefreshIntervalSeconds  int    `json:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
	EnableFastFilter        bool   `json:"enable_fast_filter" yaml:"enable_fast_filter"`
	FastFilterTimeoutMs     int    `json:"fast_filter_timeout_ms" yaml:"fast_filter_timeout_ms"`
	FastFilterConcurrency   int    `json:"fast_filter_concurrency" yaml:"fast_filter_concurrency"`
	FastFilterMinCandidates int    `json:"fast_filter_min_candidates" yaml:"fast_filter_min_candidates"`
}

type StorageConfig struct {
	Type string `json:"type" yaml:"type"` // "file", "sqlite", "redis"
	Path string `json:"path" yaml:"path"`
}

type InputsConfig struct {
	SeedOnStart  bool   `json:"seed_on_start" yaml:"seed_on_start"`
	ServersFile  string `json:"servers_file" yaml:"servers_file"`
	TokensFile   string `json:"tokens_file" yaml:"tokens_file"`
	AccountsFile string `json:"accounts_file" yaml:"accounts_file"`
	ConfigFile   string `json:"config_file" yaml:"config_file"`
}

type NotifyConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	BaseURL     string `json:"base_url" yaml:"base_url"`
	TokenEnv    string `json:"token_env" yaml:"token_env"`
	ChatIDEnv   string `json:"chat_id_env" yaml:"chat_id_env"`
	TimeoutMs   int    `json:"timeout_ms" yaml:"timeout_ms"`
	NotifyOnBuy bool   `json:"notify_on_buy" yaml:"notify_on_buy"`
}

type APIConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	Addr               string `json:"addr" yaml:"addr"`
	APIKeyEnv          string `json:"api_key_env" yaml:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth" yaml:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit" yaml:"enable_ip_rate_limit"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // "json" or "text"
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load reads configuration from a JSON or YAML file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(filePath))
	if err != nil {
		return nil, err
	}
	cfg.filePath = filePath

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// Parse decodes a config document; ext selects YAML for ".yaml" and ".yml"
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when a key is absent
func Default() *Config {
	cfg := &Config{
		Trade: TradeConfig{
			MarginPercent: 10,
			HistorySource: "search",
			Thresholds:    trade.DefaultThresholds(),
		},
		Scan: ScanConfig{
			ReconcileSold: true,
		},
		Inputs: InputsConfig{
			SeedOnStart: true,
		},
		Notify: NotifyConfig{
			NotifyOnBuy: true,
		},
		API: APIConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Market.Port == 0 {
		c.Market.Port = 443
	}
	if c.Market.Build == "" {
		c.Market.Build = "aj.24.726.1455"
	}
	if c.Market.Fingerprint == "" {
		c.Market.Fingerprint = "74d8ca5a4c539ac6d2dcc22f6591cf8f"
	}
	if c.Market.SoldSort == "" {
		c.Market.SoldSort = "5"
	}
	if c.Market.SellDurationDays == 0 {
		c.Market.SellDurationDays = 1
	}
	if c.Market.IOTimeoutMs == 0 {
		c.Market.IOTimeoutMs = 5000
	}
	if c.Market.ActiveBufferBytes == 0 {
		c.Market.ActiveBufferBytes = 12 * 1024
	}
	if c.Market.SoldBufferBytes == 0 {
		c.Market.SoldBufferBytes = 12 * 1024
	}
	if c.Market.SearchBufferBytes == 0 {
		c.Market.SearchBufferBytes = 2 * 1024
	}
	if c.Market.BuyBufferBytes == 0 {
		c.Market.BuyBufferBytes = 4 * 1024
	}
	if c.Market.SellBufferBytes == 0 {
		c.Market.SellBufferBytes = 1024
	}
	if c.Trade.HistorySource == "" {
		c.Trade.HistorySource = "search"
	}
	if c.Scan.CycleDelayMs == 0 {
		c.Scan.CycleDelayMs = 50000
	}
	if c.Scan.UnitTimeoutMs == 0 {
		c.Scan.UnitTimeoutMs = 5000
	}
	if c.Scan.SoldTimeoutMs == 0 {
		c.Scan.SoldTimeoutMs = 5000
	}
	if c.Scan.CacheCapacity == 0 {
		c.Scan.CacheCapacity = 500
	}
	if c.Proxy.SeedURIEnv == "" {
		c.Proxy.SeedURIEnv = "PROXY"
	}
	if c.Proxy.ProbeTimeoutMs == 0 {
		c.Proxy.ProbeTimeoutMs = 5000
	}
	if c.Proxy.ProbeConcurrency == 0 {
		c.Proxy.ProbeConcurrency = 256
	}
	if c.Proxy.RefreshIntervalSeconds == 0 {
		c.Proxy.RefreshIntervalSeconds = 600
	}
	if c.Proxy.FastFilterTimeoutMs == 0 {
		c.Proxy.FastFilterTimeoutMs = 2000
	}
	if c.Proxy.FastFilterConcurrency == 0 {
		c.Proxy.FastFilterConcurrency = 1000
	}
	if c.Proxy.FastFilterMinCandidates == 0 {
		c.Proxy.FastFilterMinCandidates = 1000
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/relister.json"
	}
	if c.Inputs.ServersFile == "" {
		c.Inputs.ServersFile = "servers.json"
	}
	if c.Inputs.TokensFile == "" {
		c.Inputs.TokensFile = "tokens.json"
	}
	if c.Inputs.AccountsFile == "" {
		c.Inputs.AccountsFile = "accounts.json"
	}
	if c.Inputs.ConfigFile == "" {
		c.Inputs.ConfigFile = "market.json"
	}
	if c.Notify.BaseURL == "" {
		c.Notify.BaseURL = "https://api.telegram.org"
	}
	if c.Notify.TokenEnv == "" {
		c.Notify.TokenEnv = "BOT_TELEGRAM_ID"
	}
	if c.Notify.ChatIDEnv == "" {
		c.Notify.ChatIDEnv = "BOT_TELEGRAM_CHAT_ID"
	}
	if c.Notify.TimeoutMs == 0 {
		c.Notify.TimeoutMs = 10000
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8083"
	}
	if c.API.APIKeyEnv == "" {
		c.API.APIKeyEnv = "RELISTER_API_KEY"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 1200
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "relister"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Reload reloads configuration from file
func (c *Config) Reload() error {
	newCfg, err := Load(c.filePath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Market = newCfg.Market
	c.Trade = newCfg.Trade
	c.Scan = newCfg.Scan
	c.Proxy = newCfg.Proxy
	c.Storage = newCfg.Storage
	c.Inputs = newCfg.Inputs
	c.Notify = newCfg.Notify
	c.API = newCfg.API
	c.Metrics = newCfg.Metrics
	c.Logging = newCfg.Logging
	return nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	th := c.Trade.Thresholds
	if c.Market.Port < 1 || c.Market.Port > 65535 {
		return fmt.Errorf("market port must be between 1 and 65535")
	}
	if c.Trade.MarginPercent < 0 || c.Trade.MarginPercent > 1000 {
		return fmt.Errorf("margin_percent must be between 0 and 1000")
	}
	if c.Trade.HistorySource != "search" && c.Trade.HistorySource != "index" {
		return fmt.Errorf("history_source must be 'search' or 'index'")
	}
	if th.RSILow > th.RSIHigh {
		return fmt.Errorf("rsi_low must not exceed rsi_high")
	}
	if th.RSILow < 0 || th.RSIHigh > 100 {
		return fmt.Errorf("rsi band must lie within [0, 100]")
	}
	if th.PriceFloor >= th.PriceCeiling {
		return fmt.Errorf("price_ceiling must be greater than price_floor")
	}
	if th.MAWindow < 1 || th.RSIWindow < 2 {
		return fmt.Errorf("ma_window must be >= 1 and rsi_window >= 2")
	}
	if c.Scan.UnitTimeoutMs < 100 || c.Scan.UnitTimeoutMs > 300000 {
		return fmt.Errorf("unit_timeout_ms must be between 100 and 300000")
	}
	if c.Scan.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be positive")
	}
	if c.Proxy.ProbeConcurrency < 1 || c.Proxy.ProbeConcurrency > 100000 {
		return fmt.Errorf("probe_concurrency must be between 1 and 100000")
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage type must be 'file', 'sqlite', or 'redis'")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be 'json' or 'text'")
	}
	return nil
}

func (m MarketConfig) IOTimeout() time.Duration {
	return time.Duration(m.IOTimeoutMs) * time.Millisecond
}

// Client converts the section into the market client's request settings
func (m MarketConfig) Client() market.Config {
	return market.Config{
		Build:            m.Build,
		Fingerprint:      m.Fingerprint,
		SoldSort:         m.SoldSort,
		SellDurationDays: m.SellDurationDays,
		ViaProxy:         m.ViaProxy,
		ActiveBuffer:     m.ActiveBufferBytes,
		SoldBuffer:       m.SoldBufferBytes,
		SearchBuffer:     m.SearchBufferBytes,
		BuyBuffer:        m.BuyBufferBytes,
		SellBuffer:       m.SellBufferBytes,
	}
}

func (s ScanConfig) CycleDelay() time.Duration {
	return time.Duration(s.CycleDelayMs) * time.Millisecond
}

func (s ScanConfig) UnitTimeout() time.Duration {
	return time.Duration(s.UnitTimeoutMs) * time.Millisecond
}

func (s ScanConfig) SoldTimeout() time.Duration {
	return time.Duration(s.SoldTimeoutMs) * time.Millisecond
}

func (p ProxyConfig) ProbeTimeout() time.Duration {
	return time.Duration(p.ProbeTimeoutMs) * time.Millisecond
}

func (p ProxyConfig) RefreshInterval() time.Duration {
	return time.Duration(p.RefreshIntervalSeconds) * time.Second
}

func (p ProxyConfig) FastFilterTimeout() time.Duration {
	return time.Duration(p.FastFilterTimeoutMs) * time.Millisecond
}

// GetGlobal returns global config instance
func GetGlobal() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
