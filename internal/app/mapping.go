package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/config"
	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/engine"
	"github.com/britej3/Freq-trader/internal/executor"
	"github.com/britej3/Freq-trader/internal/scanner"
)

// parsePairs parses the configured trading pairs.
func parsePairs(raw []string) ([]domain.Pair, error) {
	pairs := make([]domain.Pair, 0, len(raw))
	for _, s := range raw {
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func scannerConfig(cfg config.ScannerConfig) (scanner.Config, error) {
	slip, err := scanner.NewSlippageModel(cfg.SlippageModel, cfg.SlippageParam)
	if err != nil {
		return scanner.Config{}, fmt.Errorf("app: %w", err)
	}
	return scanner.Config{
		MinNetProfit:    cfg.MinNetProfit,
		MaxFillSize:     cfg.MaxFillSize,
		MaxSnapshotAge:  cfg.MaxSnapshotAge.Duration,
		TakerFees:       cfg.TakerFees,
		DefaultTakerFee: cfg.DefaultTakerFee,
		Slippage:        slip,
	}, nil
}

func riskParams(cfg config.RiskConfig) (domain.RiskParams, error) {
	p := domain.RiskParams{
		MaxNotionalPerTrade: cfg.MaxNotionalPerTrade,
		MaxExposurePerAsset: make(map[string]decimal.Decimal, len(cfg.MaxExposure)),
		DefaultMaxExposure:  cfg.DefaultMaxExposure,
		DefaultMinOrder: domain.MinOrderSize{
			MinQty:      cfg.DefaultMinQty,
			MinNotional: cfg.DefaultMinNotional,
		},
		KillSwitch: cfg.KillSwitch,
	}
	for asset, v := range cfg.MaxExposure {
		p.MaxExposurePerAsset[strings.ToUpper(asset)] = v
	}
	for _, rl := range cfg.RateLimits {
		p.RateLimits = append(p.RateLimits, domain.RateWindow{Window: rl.Window.Duration, MaxTrades: rl.MaxTrades})
	}
	if len(cfg.MinOrders) > 0 {
		p.MinOrder = make(map[domain.VenuePair]domain.MinOrderSize, len(cfg.MinOrders))
	}
	for _, mo := range cfg.MinOrders {
		pair, err := domain.ParsePair(mo.Pair)
		if err != nil {
			return domain.RiskParams{}, fmt.Errorf("app: min order: %w", err)
		}
		p.MinOrder[domain.VenuePair{Venue: mo.Venue, Pair: pair}] = domain.MinOrderSize{
			MinQty:      mo.MinQty,
			MinNotional: mo.MinNotional,
		}
	}
	return p, nil
}

func executorConfig(cfg config.ExecutorConfig) executor.Config {
	out := executor.Config{
		Retry: executor.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff.Duration,
			MaxBackoff:  cfg.MaxBackoff.Duration,
		},
		PollInterval:   cfg.PollInterval.Duration,
		DefaultTimeout: cfg.DefaultTimeout.Duration,
		ResolveTimeout: cfg.ResolveTimeout.Duration,
	}
	if len(cfg.VenueTimeouts) > 0 {
		out.VenueTimeouts = make(map[string]time.Duration, len(cfg.VenueTimeouts))
		for venue, d := range cfg.VenueTimeouts {
			out.VenueTimeouts[venue] = d.Duration
		}
	}
	return out
}

func engineConfig(cfg config.EngineConfig, mode string) engine.Config {
	return engine.Config{
		ScanInterval:         cfg.ScanInterval.Duration,
		RateLookback:         cfg.RateLookback.Duration,
		MaxTradesPerCycle:    cfg.MaxTradesPerCycle,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		MaxBackoff:           cfg.MaxBackoff.Duration,
		LockKey:              cfg.LockKey,
		LockTTL:              cfg.LockTTL.Duration,
		EmergencyStop:        cfg.EmergencyStop,
		ScanOnly:             mode == modeMonitor,
		QuoteAsset:           strings.ToUpper(cfg.QuoteAsset),
		StartingCapital:      cfg.StartingCapital,
		StopLossPct:          cfg.StopLossPct,
		MinQuoteBalance:      cfg.MinQuoteBalance,
	}
}
