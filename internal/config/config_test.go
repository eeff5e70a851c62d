package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "live"
log_level = "debug"

[scanner]
pairs = ["BTC/USDT", "ETH/USDT"]
min_net_profit = "1.25"
max_snapshot_age = "500ms"

[scanner.taker_fees]
alpha = "0.0002"

[risk]
max_notional_per_trade = "1500"

[risk.max_exposure]
BTC = "2"

[[risk.rate_limits]]
window = "1h"
max_trades = 5

[[risk.min_orders]]
venue = "alpha"
pair = "BTC/USDT"
min_qty = "0.001"

[executor.venue_timeouts]
beta = "3s"

[[venues]]
name = "alpha"
kind = "rest"
base_url = "https://api.alpha.test"
api_key = "key-a"
api_secret = "secret-a"
fee_rate = "0.0002"

[[venues]]
name = "beta-2"
kind = "paper"
[venues.balances]
USDT = "100"

[postgres]
enabled = true
password = "pw"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaultsAndFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Scanner.Pairs)
	assert.True(t, cfg.Scanner.MinNetProfit.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, 500*time.Millisecond, cfg.Scanner.MaxSnapshotAge.Duration)
	assert.True(t, cfg.Scanner.TakerFees["alpha"].Equal(decimal.RequireFromString("0.0002")))
	assert.True(t, cfg.Risk.MaxExposure["BTC"].Equal(decimal.NewFromInt(2)))
	require.Len(t, cfg.Risk.RateLimits, 1)
	assert.Equal(t, time.Hour, cfg.Risk.RateLimits[0].Window.Duration)
	assert.Equal(t, 3*time.Second, cfg.Executor.VenueTimeouts["beta"].Duration)
	require.Len(t, cfg.Venues, 2)
	assert.True(t, cfg.Venues[1].Balances["USDT"].Equal(decimal.NewFromInt(100)))

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.Equal(t, "USDT", cfg.Engine.QuoteAsset)
	assert.Equal(t, 5432, cfg.Postgres.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, sampleTOML+"\n[engine]\nscan_intervall = \"1s\"\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "engine.scan_intervall")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBBOT_MODE", "monitor")
	t.Setenv("ARBBOT_RISK_KILL_SWITCH", "true")
	t.Setenv("ARBBOT_ENGINE_SCAN_INTERVAL", "250ms")
	t.Setenv("ARBBOT_SCANNER_PAIRS", " SOL/USDT , ,BTC/USDT")
	t.Setenv("ARBBOT_VENUE_ALPHA_API_SECRET", "from-env")
	t.Setenv("ARBBOT_VENUE_BETA_2_API_KEY", "beta-key")
	t.Setenv("ARBBOT_POSTGRES_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.True(t, cfg.Risk.KillSwitch)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.ScanInterval.Duration)
	assert.Equal(t, []string{"SOL/USDT", "BTC/USDT"}, cfg.Scanner.Pairs)
	assert.Equal(t, "from-env", cfg.Venues[0].APISecret)
	assert.Equal(t, "beta-key", cfg.Venues[1].APIKey)
	assert.Equal(t, 5432, cfg.Postgres.Port, "malformed values are ignored")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Scanner.Pairs = []string{"BTCUSDT"}
	cfg.Engine.StopLossPct = decimal.RequireFromString("0.1")
	cfg.Venues = []VenueConfig{
		{Name: "a", Kind: "paper"},
		{Name: "a", Kind: "rest", EncryptedSecretPath: "/k"},
	}
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "yolo"`,
		"scanner: domain: invalid pair",
		"starting_capital is required",
		`duplicate name "a"`,
		"base_url is required",
		"api_key is required",
		"secret_password is required",
		"telegram_token and telegram_chat_id",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidatePaperAndLiveRules(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{
		{Name: "a", Kind: VenueKindPaper},
		{Name: "b", Kind: VenueKindREST, BaseURL: "https://b", APIKey: "k", APISecret: "s"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "rest venues are not allowed in paper mode")

	cfg.Mode = "live"
	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "postgres: must be enabled in live mode")

	cfg.Postgres.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Risk.RateLimits = append(cfg.Risk.RateLimits, RateLimitConfig{Window: duration{48 * time.Hour}, MaxTrades: 1})
	assert.ErrorContains(t, cfg.Validate(), "exceeds engine.rate_lookback")
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	red := RedactedConfig(cfg)
	assert.Equal(t, redacted, red.Venues[0].APIKey)
	assert.Equal(t, redacted, red.Venues[0].APISecret)
	assert.Equal(t, redacted, red.Postgres.Password)
	assert.Empty(t, red.Venues[1].APISecret, "empty secrets stay empty")

	assert.Equal(t, "secret-a", cfg.Venues[0].APISecret, "original untouched")
	red.Scanner.TakerFees["alpha"] = decimal.Zero
	red.Venues[1].Balances["USDT"] = decimal.Zero
	assert.True(t, cfg.Scanner.TakerFees["alpha"].IsPositive())
	assert.True(t, cfg.Venues[1].Balances["USDT"].IsPositive())
}

func TestDurationText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
