package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/escrowmarket/internal/blob/s3"
	"github.com/alanyoungcy/escrowmarket/internal/cache/redis"
	"github.com/alanyoungcy/escrowmarket/internal/config"
	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/engine"
	"github.com/alanyoungcy/escrowmarket/internal/metrics"
	"github.com/alanyoungcy/escrowmarket/internal/notify"
	"github.com/alanyoungcy/escrowmarket/internal/pipeline"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/server/middleware"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
	"github.com/alanyoungcy/escrowmarket/internal/store/postgres"
)

// lockTTL bounds how long a crashed replica can hold a market lock.
const lockTTL = 10 * time.Second

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Ledger and read stores
	Ledger   domain.Ledger
	Markets  domain.MarketStore
	Bets     domain.BetStore
	Events   domain.EventStore
	Audit    domain.AuditStore
	Balances domain.BalanceReader
	Funder   domain.Funder // nil unless the backend supports deposits

	// Caches and messaging. MarketCache and Locks are nil without redis.
	MarketCache domain.MarketCache
	Locks       domain.LockManager
	Limiter     domain.RateLimiter
	Nonces      domain.NonceStore // nil without redis; the verifier keeps its own
	Bus         domain.SignalBus
	Publisher   *pipeline.BusPublisher

	// Blob storage; nil unless the archive is enabled.
	Archiver      domain.Archiver
	ArchiveReader domain.ArchiveReader

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Verifier *crypto.Verifier
	Engine   *engine.Engine

	// Health checks keyed by dependency name.
	Health map[string]handler.Check
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
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{Health: map[string]handler.Check{}}

	// --- Program identity ---
	secret, err := crypto.LoadSecret(cfg.Program.SecretConfig())
	if err != nil {
		return fail("program secret", err)
	}
	deriver, err := crypto.NewDeriver(cfg.Program.ProgramID, secret)
	if err != nil {
		return fail("deriver", err)
	}
	treasury, err := crypto.ParseIdentity(cfg.Program.Treasury)
	if err != nil {
		return fail("treasury", err)
	}

	// --- Ledger backend ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		ledger := pgClient.Ledger()
		deps.Ledger = ledger
		deps.Balances = ledger
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Bets = postgres.NewBetStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping

	default:
		ledger := memory.NewLedger()
		deps.Ledger = ledger
		deps.Balances = ledger
		deps.Funder = ledger
		deps.Markets = ledger.Markets()
		deps.Bets = ledger.Bets()
		deps.Events = ledger.Events()
		deps.Audit = ledger.Audit()
		logger.WarnContext(ctx, "wire: using in-memory ledger; state is lost on restart")
	}

	// --- Redis, or in-process replacements ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		if ttl := cfg.Redis.CacheTTL(); ttl > 0 {
			deps.MarketCache = redis.NewMarketCache(redisClient, ttl)
		}
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Limiter = middleware.NewLocalLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.Bus = pipeline.NewLocalBus(int(cfg.Redis.StreamMaxLen))
	}
	deps.Publisher = pipeline.NewBusPublisher(deps.Bus, deps.Events, logger)

	// --- S3 event archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Health["s3"] = s3Client.Health

		archiver := s3blob.NewEventArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Events,
			deps.Audit,
		)
		deps.Archiver = archiver
		deps.ArchiveReader = archiver
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	deps.Metrics = metrics.New()
	deps.Verifier = crypto.NewVerifier(cfg.Server.SignatureMaxSkew.Duration, nil)
	if deps.Nonces != nil {
		deps.Verifier.WithNonces(deps.Nonces)
	}

	eng, err := engine.New(engine.ProgramConfig{
		ProgramID:     cfg.Program.ProgramID,
		Treasury:      treasury,
		EscrowDeposit: cfg.Program.EscrowDeposit,
	}, deps.Ledger, deriver, domain.SystemClock{}, logger)
	if err != nil {
		return fail("engine", err)
	}
	eng.WithPublisher(deps.Publisher).
		WithAudit(deps.Audit).
		WithObserver(deps.Metrics)
	if deps.MarketCache != nil {
		eng.WithCache(deps.MarketCache)
	}
	if deps.Locks != nil {
		eng.WithLocks(deps.Locks, lockTTL)
	}
	if deps.Notifier.Enabled() {
		eng.WithNotifier(deps.Notifier)
	}
	deps.Engine = eng

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("store", cfg.Store.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
		slog.String("deriver", deriver.String()),
	)
	return deps, cleanup, nil
}
