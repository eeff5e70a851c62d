// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBBOT_* environment variables.
//
// Money and rates are decimals; write them as TOML strings ("0.001") to keep
// full precision.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Scanner  ScannerConfig  `toml:"scanner"`
	Risk     RiskConfig     `toml:"risk"`
	Executor ExecutorConfig `toml:"executor"`
	Engine   EngineConfig   `toml:"engine"`
	Venues   []VenueConfig  `toml:"venues"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// ScannerConfig holds opportunity detection parameters.
type ScannerConfig struct {
	Pairs           []string                   `toml:"pairs"`
	MinNetProfit    decimal.Decimal            `toml:"min_net_profit"`
	MaxFillSize     decimal.Decimal            `toml:"max_fill_size"`
	MaxSnapshotAge  duration                   `toml:"max_snapshot_age"`
	DefaultTakerFee decimal.Decimal            `toml:"default_taker_fee"`
	TakerFees       map[string]decimal.Decimal `toml:"taker_fees"`
	// SlippageModel is one of none, fixed_bps, linear_depth.
	SlippageModel string          `toml:"slippage_model"`
	SlippageParam decimal.Decimal `toml:"slippage_param"`
}

// RiskConfig holds the risk limits every trade is sized against.
type RiskConfig struct {
	MaxNotionalPerTrade decimal.Decimal            `toml:"max_notional_per_trade"`
	DefaultMaxExposure  decimal.Decimal            `toml:"default_max_exposure"`
	MaxExposure         map[string]decimal.Decimal `toml:"max_exposure"`
	RateLimits          []RateLimitConfig          `toml:"rate_limits"`
	DefaultMinQty       decimal.Decimal            `toml:"default_min_qty"`
	DefaultMinNotional  decimal.Decimal            `toml:"default_min_notional"`
	MinOrders           []MinOrderConfig           `toml:"min_orders"`
	KillSwitch          bool                       `toml:"kill_switch"`
}

// RateLimitConfig allows MaxTrades executions in any trailing Window.
type RateLimitConfig struct {
	Window    duration `toml:"window"`
	MaxTrades int      `toml:"max_trades"`
}

// MinOrderConfig is a venue's minimum order for one pair.
type MinOrderConfig struct {
	Venue       string          `toml:"venue"`
	Pair        string          `toml:"pair"`
	MinQty      decimal.Decimal `toml:"min_qty"`
	MinNotional decimal.Decimal `toml:"min_notional"`
}

// ExecutorConfig holds order placement and retry parameters.
type ExecutorConfig struct {
	MaxAttempts    int                 `toml:"max_attempts"`
	Backoff        duration            `toml:"backoff"`
	MaxBackoff     duration            `toml:"max_backoff"`
	PollInterval   duration            `toml:"poll_interval"`
	DefaultTimeout duration            `toml:"default_timeout"`
	ResolveTimeout duration            `toml:"resolve_timeout"`
	VenueTimeouts  map[string]duration `toml:"venue_timeouts"`
	// TokenTTL is how long an issued idempotency token is remembered.
	TokenTTL duration `toml:"token_ttl"`
}

// EngineConfig holds the decision loop and trading guard parameters.
type EngineConfig struct {
	ScanInterval         duration        `toml:"scan_interval"`
	RateLookback         duration        `toml:"rate_lookback"`
	MaxTradesPerCycle    int             `toml:"max_trades_per_cycle"`
	MaxConsecutiveErrors int             `toml:"max_consecutive_errors"`
	MaxBackoff           duration        `toml:"max_backoff"`
	LockKey              string          `toml:"lock_key"`
	LockTTL              duration        `toml:"lock_ttl"`
	EmergencyStop        bool            `toml:"emergency_stop"`
	QuoteAsset           string          `toml:"quote_asset"`
	StartingCapital      decimal.Decimal `toml:"starting_capital"`
	// StopLossPct is a fraction of starting capital (0.05 = 5%).
	StopLossPct     decimal.Decimal `toml:"stop_loss_pct"`
	MinQuoteBalance decimal.Decimal `toml:"min_quote_balance"`
}

// Venue kinds.
const (
	VenueKindPaper = "paper"
	VenueKindREST  = "rest"
)

// VenueConfig describes one exchange the bot trades on.
type VenueConfig struct {
	Name string `toml:"name"`
	// Kind is paper or rest. Paper venues fill against the live feed.
	Kind    string `toml:"kind"`
	BaseURL string `toml:"base_url"`
	// WSURL is the combined book-ticker stream; empty disables the feed.
	WSURL string `toml:"ws_url"`

	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          duration `toml:"recv_window"`

	FeeRate     decimal.Decimal `toml:"fee_rate"`
	TimeInForce string          `toml:"time_in_force"`
	Timeout     duration        `toml:"timeout"`
	RateLimit   int             `toml:"rate_limit"`
	RateWindow  duration        `toml:"rate_window"`

	// Paper only.
	FillLatency  duration                   `toml:"fill_latency"`
	LimitToDepth bool                       `toml:"limit_to_depth"`
	Balances     map[string]decimal.Decimal `toml:"balances"`
}

// PostgresConfig holds ledger journal and audit store connection parameters.
type PostgresConfig struct {
	Enabled         bool     `toml:"enabled"`
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// SnapshotTTL expires mirrored quotes a dead feed no longer refreshes.
	SnapshotTTL duration `toml:"snapshot_ttl"`
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

// ArchiveConfig controls the trade history export to S3.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Prefix   string   `toml:"prefix"`
	Interval duration `toml:"interval"`
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

// ServerConfig holds HTTP status API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required as a Bearer token on every route but
	// /api/health.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Scanner: ScannerConfig{
			Pairs:           []string{"BTC/USDT"},
			MinNetProfit:    decimal.RequireFromString("0.5"),
			MaxSnapshotAge:  duration{2 * time.Second},
			DefaultTakerFee: decimal.RequireFromString("0.001"),
			SlippageModel:   "fixed_bps",
			SlippageParam:   decimal.NewFromInt(2),
		},
		Risk: RiskConfig{
			MaxNotionalPerTrade: decimal.NewFromInt(1000),
			RateLimits: []RateLimitConfig{
				{Window: duration{time.Minute}, MaxTrades: 10},
				{Window: duration{24 * time.Hour}, MaxTrades: 100},
			},
		},
		Executor: ExecutorConfig{
			MaxAttempts:    3,
			Backoff:        duration{100 * time.Millisecond},
			MaxBackoff:     duration{2 * time.Second},
			PollInterval:   duration{200 * time.Millisecond},
			DefaultTimeout: duration{5 * time.Second},
			ResolveTimeout: duration{10 * time.Second},
			TokenTTL:       duration{24 * time.Hour},
		},
		Engine: EngineConfig{
			ScanInterval:         duration{time.Second},
			RateLookback:         duration{24 * time.Hour},
			MaxTradesPerCycle:    1,
			MaxConsecutiveErrors: 10,
			MaxBackoff:           duration{60 * time.Second},
			LockKey:              "engine",
			LockTTL:              duration{30 * time.Second},
			QuoteAsset:           "USDT",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "arbbot",
			SnapshotTTL: duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Prefix:   "arbbot",
			Interval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events:   []string{"partial_execution", "trading_halted", "trading_blocked", "engine_stopped"},
			Cooldown: duration{5 * time.Minute},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"live":    true,
	"monitor": true,
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
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: paper, live, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Scanner
	if len(c.Scanner.Pairs) == 0 {
		add("scanner: at least one pair is required")
	}
	for _, p := range c.Scanner.Pairs {
		if _, err := domain.ParsePair(p); err != nil {
			add("scanner: %v", err)
		}
	}
	if c.Scanner.DefaultTakerFee.IsNegative() {
		add("scanner: default_taker_fee must be >= 0")
	}
	for venue, fee := range c.Scanner.TakerFees {
		if fee.IsNegative() {
			add("scanner: taker_fees.%s must be >= 0", venue)
		}
	}
	switch strings.ToLower(c.Scanner.SlippageModel) {
	case "", "none", "fixed_bps", "linear_depth":
	default:
		add("scanner: unknown slippage_model %q (valid: none, fixed_bps, linear_depth)", c.Scanner.SlippageModel)
	}
	if c.Scanner.SlippageParam.IsNegative() {
		add("scanner: slippage_param must be >= 0")
	}

	// Risk
	if c.Risk.MaxNotionalPerTrade.IsNegative() || c.Risk.DefaultMaxExposure.IsNegative() {
		add("risk: caps must be >= 0 (0 disables a cap)")
	}
	for asset, v := range c.Risk.MaxExposure {
		if v.IsNegative() {
			add("risk: max_exposure.%s must be >= 0", asset)
		}
	}
	for i, rl := range c.Risk.RateLimits {
		if rl.Window.Duration <= 0 || rl.MaxTrades < 0 {
			add("risk: rate_limits[%d] needs a positive window and max_trades >= 0", i)
		}
		if rl.Window.Duration > c.Engine.RateLookback.Duration {
			add("risk: rate_limits[%d] window %s exceeds engine.rate_lookback %s", i, rl.Window, c.Engine.RateLookback)
		}
	}
	for i, mo := range c.Risk.MinOrders {
		if mo.Venue == "" {
			add("risk: min_orders[%d] venue must not be empty", i)
		}
		if _, err := domain.ParsePair(mo.Pair); err != nil {
			add("risk: min_orders[%d]: %v", i, err)
		}
	}

	// Executor
	if c.Executor.MaxAttempts < 1 {
		add("executor: max_attempts must be >= 1")
	}
	if c.Executor.PollInterval.Duration <= 0 || c.Executor.DefaultTimeout.Duration <= 0 {
		add("executor: poll_interval and default_timeout must be > 0")
	}
	if c.Executor.TokenTTL.Duration <= 0 {
		add("executor: token_ttl must be > 0")
	}

	// Engine
	if c.Engine.ScanInterval.Duration <= 0 {
		add("engine: scan_interval must be > 0")
	}
	if c.Engine.QuoteAsset == "" {
		add("engine: quote_asset must not be empty")
	}
	if c.Engine.StopLossPct.IsNegative() || c.Engine.StopLossPct.GreaterThan(decimal.NewFromInt(1)) {
		add("engine: stop_loss_pct must be a fraction between 0 and 1")
	}
	if c.Engine.StopLossPct.IsPositive() && !c.Engine.StartingCapital.IsPositive() {
		add("engine: starting_capital is required with stop_loss_pct")
	}

	// Venues
	if len(c.Venues) < 2 {
		add("venues: at least two venues are required, got %d", len(c.Venues))
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		switch {
		case v.Name == "":
			add("venues[%d]: name must not be empty", i)
		case seen[v.Name]:
			add("venues[%d]: duplicate name %q", i, v.Name)
		}
		seen[v.Name] = true
		if v.FeeRate.IsNegative() {
			add("venues.%s: fee_rate must be >= 0", v.Name)
		}
		switch v.Kind {
		case VenueKindPaper:
		case VenueKindREST:
			if v.BaseURL == "" {
				add("venues.%s: base_url is required for rest venues", v.Name)
			}
			if v.APIKey == "" {
				add("venues.%s: api_key is required for rest venues", v.Name)
			}
			if v.APISecret == "" && v.EncryptedSecretPath == "" {
				add("venues.%s: either api_secret or encrypted_secret_path must be set", v.Name)
			}
			if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
				add("venues.%s: secret_password is required when encrypted_secret_path is set", v.Name)
			}
			if mode == "paper" {
				add("venues.%s: rest venues are not allowed in paper mode", v.Name)
			}
		default:
			add("venues.%s: unknown kind %q (valid: paper, rest)", v.Name, v.Kind)
		}
	}

	// Postgres
	if mode == "live" && !c.Postgres.Enabled {
		add("postgres: must be enabled in live mode (the ledger journal is required)")
	}
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
