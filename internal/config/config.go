// Package config defines the top-level configuration for the copy trader
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/sizing"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYBOT_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Chain       ChainConfig       `toml:"chain"`
	Copy        CopyConfig        `toml:"copy"`
	Aggregation AggregationConfig `toml:"aggregation"`
	Fetcher     FetcherConfig     `toml:"fetcher"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the follower's Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey string `toml:"private_key"`
	// ProxyAddress is the funder wallet holding USDC when signature_type is 2.
	// Empty means the signer address itself is the funder.
	ProxyAddress     string `toml:"proxy_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// ChainConfig holds the JSON-RPC provider and token contract used by the
// on-chain balance probe.
type ChainConfig struct {
	RpcURL       string `toml:"rpc_url"`
	UsdcContract string `toml:"usdc_contract"`
}

// CopyConfig holds the leaders to mirror, the sizing strategy, and the
// ingestion cadence.
type CopyConfig struct {
	Leaders            []string `toml:"leaders"`
	Strategy           string   `toml:"strategy"`
	CopySize           float64  `toml:"copy_size"`
	MaxOrderSizeUSD    float64  `toml:"max_order_size_usd"`
	MinOrderSizeUSD    float64  `toml:"min_order_size_usd"`
	MaxPositionSizeUSD float64  `toml:"max_position_size_usd"` // 0 = uncapped
	AdaptiveMinPercent float64  `toml:"adaptive_min_percent"`
	AdaptiveMaxPercent float64  `toml:"adaptive_max_percent"`
	AdaptiveThreshold  float64  `toml:"adaptive_threshold"`
	TradeMultiplier    float64  `toml:"trade_multiplier"` // 0 = disabled
	TieredMultipliers  string   `toml:"tiered_multipliers"`
	Freshness          duration `toml:"freshness"` // fills older than this are skipped; 0 disables
	PollInterval       duration `toml:"poll_interval"`
	FetchLimit         int      `toml:"fetch_limit"`
	RateLimit          int      `toml:"rate_limit"` // data-api requests per rate_window; 0 disables
	RateWindow         duration `toml:"rate_window"`
}

// SizingConfig converts the TOML-friendly copy section into the sizing
// policy's configuration: zero-valued optionals become nil and the tier
// string is parsed.
func (c CopyConfig) SizingConfig() (sizing.Config, error) {
	tiers, err := sizing.ParseTieredMultipliers(c.TieredMultipliers)
	if err != nil {
		return sizing.Config{}, err
	}
	out := sizing.Config{
		Strategy:           domain.Strategy(strings.ToUpper(strings.TrimSpace(c.Strategy))),
		CopySize:           c.CopySize,
		MaxOrderSizeUSD:    c.MaxOrderSizeUSD,
		MinOrderSizeUSD:    c.MinOrderSizeUSD,
		AdaptiveMinPercent: c.AdaptiveMinPercent,
		AdaptiveMaxPercent: c.AdaptiveMaxPercent,
		AdaptiveThreshold:  c.AdaptiveThreshold,
		TieredMultipliers:  tiers,
	}
	if c.MaxPositionSizeUSD > 0 {
		v := c.MaxPositionSizeUSD
		out.MaxPositionSizeUSD = &v
	}
	if c.TradeMultiplier > 0 {
		v := c.TradeMultiplier
		out.TradeMultiplier = &v
	}
	return out, nil
}

// AggregationConfig tunes the cross-fill aggregation buffer. A zero window
// disables aggregation and every valid fill posts directly.
type AggregationConfig struct {
	Window        duration `toml:"window"`
	DrainInterval duration `toml:"drain_interval"`
}

// FetcherConfig holds retry and timeout settings for exchange data fetches.
type FetcherConfig struct {
	RetryLimit     int      `toml:"retry_limit"`
	RequestTimeout duration `toml:"request_timeout"`
	BaseDelay      duration `toml:"base_delay"`
	MaxDelay       duration `toml:"max_delay"`
	UserAgent      string   `toml:"user_agent"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Disabled falls back to the
// in-process duplicate guard and an ungated poller.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig tunes the retention archiver.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-live-data.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Chain: ChainConfig{
			RpcURL:       "https://polygon-rpc.com",
			UsdcContract: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		},
		Copy: CopyConfig{
			Strategy:        "PERCENTAGE",
			CopySize:        10.0,
			MaxOrderSizeUSD: 100.0,
			MinOrderSizeUSD: 1.0,
			Freshness:       duration{5 * time.Minute},
			PollInterval:    duration{10 * time.Second},
			FetchLimit:      100,
			RateLimit:       30,
			RateWindow:      duration{10 * time.Second},
		},
		Aggregation: AggregationConfig{
			Window:        duration{60 * time.Second},
			DrainInterval: duration{5 * time.Second},
		},
		Fetcher: FetcherConfig{
			RetryLimit:     3,
			RequestTimeout: duration{10 * time.Second},
			BaseDelay:      duration{time.Second},
			MaxDelay:       duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copytrader-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{"order_executed", "order_failed", "breaker_open", "balance_low", "shutdown"},
		},
		Mode:     "copy",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"observe": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, observe, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: copy mode posts orders and must be able to sign; observe only
	// needs an address whose balance the validator can probe.
	switch mode {
	case "copy":
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode copy")
		}
	case "observe":
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" && c.Wallet.ProxyAddress == "" {
			errs = append(errs, "wallet: proxy_address (or a key) must be set for mode observe")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Chain
	if c.Chain.RpcURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.UsdcContract == "" {
		errs = append(errs, "chain: usdc_contract must not be empty")
	}

	// Leaders are what the bot mirrors; archive mode runs without them.
	if (mode == "copy" || mode == "observe") && len(c.Copy.Leaders) == 0 {
		errs = append(errs, "copy: at least one leader address must be configured for mode "+mode)
	}
	if sc, err := c.Copy.SizingConfig(); err != nil {
		errs = append(errs, "copy: tiered_multipliers: "+err.Error())
	} else {
		for _, problem := range sizing.ValidateConfig(sc) {
			errs = append(errs, "copy: "+problem)
		}
	}
	if c.Copy.PollInterval.Duration <= 0 {
		errs = append(errs, "copy: poll_interval must be positive")
	}
	if c.Copy.FetchLimit < 1 {
		errs = append(errs, "copy: fetch_limit must be >= 1")
	}
	if c.Copy.RateLimit > 0 && c.Copy.RateWindow.Duration <= 0 {
		errs = append(errs, "copy: rate_window must be positive when rate_limit is set")
	}

	// Aggregation
	if c.Aggregation.Window.Duration > 0 && c.Aggregation.DrainInterval.Duration <= 0 {
		errs = append(errs, "aggregation: drain_interval must be positive when window is set")
	}

	// Fetcher
	if c.Fetcher.RetryLimit < 1 {
		errs = append(errs, "fetcher: retry_limit must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Only the archiver touches object storage.
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Cron) == "" {
		errs = append(errs, "archive: cron must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
