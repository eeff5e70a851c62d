package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	s3blob "github.com/britej3/Freq-trader/internal/blob/s3"
	"github.com/britej3/Freq-trader/internal/cache/redis"
	"github.com/britej3/Freq-trader/internal/config"
	"github.com/britej3/Freq-trader/internal/crypto"
	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/engine"
	"github.com/britej3/Freq-trader/internal/executor"
	"github.com/britej3/Freq-trader/internal/feed"
	"github.com/britej3/Freq-trader/internal/ledger"
	"github.com/britej3/Freq-trader/internal/market"
	"github.com/britej3/Freq-trader/internal/notify"
	"github.com/britej3/Freq-trader/internal/risk"
	"github.com/britej3/Freq-trader/internal/scanner"
	"github.com/britej3/Freq-trader/internal/server/handler"
	"github.com/britej3/Freq-trader/internal/store/postgres"
	"github.com/britej3/Freq-trader/internal/venue/paper"
	"github.com/britej3/Freq-trader/internal/venue/rest"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Infrastructure fields
// are nil when the matching backend is disabled.
type Dependencies struct {
	Store    *market.Store
	Ledger   *ledger.Ledger
	Engine   *engine.Engine
	Feeds    []*feed.BookTickerFeed
	Notifier *notify.Notifier
	Tokens   *executor.TokenIssuer

	// Postgres
	Journal domain.LedgerJournal
	Audit   domain.AuditStore
	Cycles  domain.CycleStore

	// Redis
	RateLimiter domain.RateLimiter
	Lock        *redis.LockManager
	Bus         domain.SignalBus
	Snapshots   domain.SnapshotCache

	// S3
	Archiver *s3blob.Archiver

	// Health probes keyed by dependency name.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	pairs, err := parsePairs(cfg.Scanner.Pairs)
	if err != nil {
		return fail(err)
	}

	deps := &Dependencies{
		Store:  market.NewStore(),
		Checks: make(map[string]handler.Checker),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Journal = postgres.NewLedgerJournal(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Cycles = postgres.NewCycleStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Lock = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Snapshots = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Ledger ---
	var ledgerOpts []ledger.Option
	if deps.Journal != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithJournal(deps.Journal))
	}
	deps.Ledger = ledger.New(logger, ledgerOpts...)
	restored, err := deps.Ledger.Restore(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if restored == 0 && mode != modeMonitor {
		if err := seedBalances(ctx, deps.Ledger, cfg.Venues); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
	}

	// --- Venues and feeds ---
	venues := make([]domain.Venue, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		v, err := buildVenue(vc, mode, deps.Store, deps.RateLimiter, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		venues = append(venues, v)

		if vc.WSURL == "" {
			continue
		}
		var feedOpts []feed.Option
		if deps.Snapshots != nil {
			feedOpts = append(feedOpts, feed.WithMirror(deps.Snapshots))
		}
		deps.Feeds = append(deps.Feeds, feed.NewBookTickerFeed(feed.Config{
			Venue: vc.Name,
			URL:   vc.WSURL,
			Pairs: pairs,
		}, deps.Store, logger, feedOpts...))
	}

	// --- Decision pipeline ---
	scCfg, err := scannerConfig(cfg.Scanner)
	if err != nil {
		return fail(err)
	}
	params, err := riskParams(cfg.Risk)
	if err != nil {
		return fail(err)
	}
	deps.Tokens = executor.NewTokenIssuer(cfg.Executor.TokenTTL.Duration)
	coord := executor.NewCoordinator(executorConfig(cfg.Executor), venues, deps.Tokens, logger)

	// A monitor must not look like the trading engine on shared backends.
	var engineOpts []engine.Option
	if mode != modeMonitor {
		engineOpts = append(engineOpts, engine.WithNotifier(deps.Notifier))
		if deps.Bus != nil {
			engineOpts = append(engineOpts, engine.WithBus(deps.Bus))
		}
		if deps.Lock != nil {
			engineOpts = append(engineOpts, engine.WithLock(deps.Lock))
		}
		if deps.Audit != nil {
			engineOpts = append(engineOpts, engine.WithAudit(deps.Audit))
		}
		if deps.Cycles != nil {
			engineOpts = append(engineOpts, engine.WithCycleStore(deps.Cycles))
		}
	}
	deps.Engine = engine.New(
		engineConfig(cfg.Engine, mode),
		deps.Store,
		scanner.New(scCfg),
		risk.NewEngine(params),
		coord,
		deps.Ledger,
		logger,
		engineOpts...,
	)

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.ArchiverConfig{Prefix: cfg.Archive.Prefix},
			s3blob.NewWriter(s3Client),
			s3Client,
			deps.Ledger,
			deps.Audit,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("mode", mode),
		slog.Int("venues", len(venues)),
		slog.Int("feeds", len(deps.Feeds)),
		slog.Int("restored_batches", restored),
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("archive", cfg.Archive.Enabled),
	)
	return deps, cleanup, nil
}

// buildVenue creates the venue adapter. Monitor mode never trades, so every
// venue is simulated there.
func buildVenue(vc config.VenueConfig, mode string, store *market.Store, limiter domain.RateLimiter, logger *slog.Logger) (domain.Venue, error) {
	if vc.Kind == config.VenueKindPaper || mode == modeMonitor {
		return paper.New(paper.Config{
			Name:         vc.Name,
			FeeRate:      vc.FeeRate,
			FillLatency:  vc.FillLatency.Duration,
			LimitToDepth: vc.LimitToDepth,
		}, store, logger), nil
	}

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           vc.APISecret,
		EncryptedPath: vc.EncryptedSecretPath,
		Password:      vc.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", vc.Name, err)
	}
	var opts []rest.Option
	if limiter != nil {
		opts = append(opts, rest.WithRateLimiter(limiter))
	}
	return rest.New(rest.Config{
		Name:        vc.Name,
		BaseURL:     vc.BaseURL,
		Auth:        &crypto.HMACAuth{Key: vc.APIKey, Secret: secret, RecvWindow: vc.RecvWindow.Duration},
		Timeout:     vc.Timeout.Duration,
		TimeInForce: vc.TimeInForce,
		FeeRate:     vc.FeeRate,
		RateLimit:   vc.RateLimit,
		RateWindow:  vc.RateWindow.Duration,
	}, logger, opts...), nil
}

// seedBalances deposits the configured starting balances into an empty
// ledger, in a stable order.
func seedBalances(ctx context.Context, l *ledger.Ledger, venues []config.VenueConfig) error {
	for _, vc := range venues {
		assets := make([]string, 0, len(vc.Balances))
		for asset := range vc.Balances {
			assets = append(assets, asset)
		}
		slices.Sort(assets)
		for _, asset := range assets {
			amount := vc.Balances[asset]
			if amount.IsZero() {
				continue
			}
			if err := l.Deposit(ctx, vc.Name, strings.ToUpper(asset), amount); err != nil {
				return err
			}
		}
	}
	return nil
}
