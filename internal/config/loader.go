package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	applyBareAliases(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "COPYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.ProxyAddress, "COPYBOT_WALLET_PROXY_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COPYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COPYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "COPYBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Chain ──
	setStr(&cfg.Chain.RpcURL, "COPYBOT_CHAIN_RPC_URL")
	setStr(&cfg.Chain.UsdcContract, "COPYBOT_CHAIN_USDC_CONTRACT")

	// ── Copy ──
	setStringSlice(&cfg.Copy.Leaders, "COPYBOT_COPY_LEADERS")
	setStr(&cfg.Copy.Strategy, "COPYBOT_COPY_STRATEGY")
	setFloat64(&cfg.Copy.CopySize, "COPYBOT_COPY_SIZE")
	setFloat64(&cfg.Copy.MaxOrderSizeUSD, "COPYBOT_COPY_MAX_ORDER_SIZE_USD")
	setFloat64(&cfg.Copy.MinOrderSizeUSD, "COPYBOT_COPY_MIN_ORDER_SIZE_USD")
	setFloat64(&cfg.Copy.MaxPositionSizeUSD, "COPYBOT_COPY_MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Copy.AdaptiveMinPercent, "COPYBOT_COPY_ADAPTIVE_MIN_PERCENT")
	setFloat64(&cfg.Copy.AdaptiveMaxPercent, "COPYBOT_COPY_ADAPTIVE_MAX_PERCENT")
	setFloat64(&cfg.Copy.AdaptiveThreshold, "COPYBOT_COPY_ADAPTIVE_THRESHOLD")
	setFloat64(&cfg.Copy.TradeMultiplier, "COPYBOT_COPY_TRADE_MULTIPLIER")
	setStr(&cfg.Copy.TieredMultipliers, "COPYBOT_COPY_TIERED_MULTIPLIERS")
	setDuration(&cfg.Copy.Freshness, "COPYBOT_COPY_FRESHNESS")
	setDuration(&cfg.Copy.PollInterval, "COPYBOT_COPY_POLL_INTERVAL")
	setInt(&cfg.Copy.FetchLimit, "COPYBOT_COPY_FETCH_LIMIT")
	setInt(&cfg.Copy.RateLimit, "COPYBOT_COPY_RATE_LIMIT")
	setDuration(&cfg.Copy.RateWindow, "COPYBOT_COPY_RATE_WINDOW")

	// ── Aggregation ──
	setDuration(&cfg.Aggregation.Window, "COPYBOT_AGGREGATION_WINDOW")
	setDuration(&cfg.Aggregation.DrainInterval, "COPYBOT_AGGREGATION_DRAIN_INTERVAL")

	// ── Fetcher ──
	setInt(&cfg.Fetcher.RetryLimit, "COPYBOT_FETCHER_RETRY_LIMIT")
	setDuration(&cfg.Fetcher.RequestTimeout, "COPYBOT_FETCHER_REQUEST_TIMEOUT")
	setDuration(&cfg.Fetcher.BaseDelay, "COPYBOT_FETCHER_BASE_DELAY")
	setDuration(&cfg.Fetcher.MaxDelay, "COPYBOT_FETCHER_MAX_DELAY")
	setStr(&cfg.Fetcher.UserAgent, "COPYBOT_FETCHER_USER_AGENT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "COPYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPYBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COPYBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "COPYBOT_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// applyBareAliases honors the historical unprefixed environment names this
// bot has always shipped with. They run after the COPYBOT_* pass, so the bare
// name wins when both are set.
func applyBareAliases(cfg *Config) {
	setStr(&cfg.Chain.RpcURL, "RPC_URL")
	setStr(&cfg.Chain.UsdcContract, "USDC_CONTRACT_ADDRESS")

	setInt(&cfg.Fetcher.RetryLimit, "NETWORK_RETRY_LIMIT")
	setMillis(&cfg.Fetcher.RequestTimeout, "REQUEST_TIMEOUT_MS")

	setSeconds(&cfg.Aggregation.Window, "TRADE_AGGREGATION_WINDOW_SECONDS")

	setStringSlice(&cfg.Copy.Leaders, "LEADER_ADDRESSES")
	setStr(&cfg.Copy.Strategy, "COPY_STRATEGY")
	setFloat64(&cfg.Copy.CopySize, "COPY_SIZE")
	setFloat64(&cfg.Copy.MaxOrderSizeUSD, "MAX_ORDER_SIZE_USD")
	setFloat64(&cfg.Copy.MinOrderSizeUSD, "MIN_ORDER_SIZE_USD")
	setFloat64(&cfg.Copy.MaxPositionSizeUSD, "MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Copy.AdaptiveMinPercent, "ADAPTIVE_MIN_PERCENT")
	setFloat64(&cfg.Copy.AdaptiveMaxPercent, "ADAPTIVE_MAX_PERCENT")
	setFloat64(&cfg.Copy.AdaptiveThreshold, "ADAPTIVE_THRESHOLD")
	setFloat64(&cfg.Copy.TradeMultiplier, "TRADE_MULTIPLIER")
	setStr(&cfg.Copy.TieredMultipliers, "TIERED_MULTIPLIERS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setMillis reads an integer number of milliseconds.
func setMillis(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(n) * time.Millisecond
		}
	}
}

// setSeconds reads an integer number of seconds.
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(n) * time.Second
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
