package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/api"
	"github.com/Checker-Finance/marketplace/internal/audit"
	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/httpclient"
	"github.com/Checker-Finance/marketplace/internal/jobs"
	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/internal/oracle"
	"github.com/Checker-Finance/marketplace/internal/proxy"
	"github.com/Checker-Finance/marketplace/internal/publisher"
	"github.com/Checker-Finance/marketplace/internal/rabbitmq"
	"github.com/Checker-Finance/marketplace/internal/rate"
	internalsecrets "github.com/Checker-Finance/marketplace/internal/secrets"
	"github.com/Checker-Finance/marketplace/internal/state"
	"github.com/Checker-Finance/marketplace/pkg/config"
	"github.com/Checker-Finance/marketplace/pkg/eventbus"
	"github.com/Checker-Finance/marketplace/pkg/logger"
	"github.com/Checker-Finance/marketplace/pkg/model"
	"github.com/Checker-Finance/marketplace/pkg/secrets"
	"github.com/Checker-Finance/marketplace/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infow("starting [marketplace]...", "env", cfg.Env, "state_backend", cfg.StateBackend)

	// --- State backend ---
	store, auditDB, err := openState(ctx, cfg)
	if err != nil {
		logg.Fatalw("failed to open state backend", "backend", cfg.StateBackend, "error", err)
	}

	// --- Host ledger ---
	host, err := chain.NewHost(store, chain.SystemClock{}, cfg.ReceiptCacheSize, logger.Named("chain"))
	if err != nil {
		logg.Fatalw("failed to start host ledger", "error", err)
	}

	genesis := &chain.Genesis{}
	if cfg.GenesisPath != "" {
		if genesis, err = chain.LoadGenesis(cfg.GenesisPath); err != nil {
			logg.Fatalw("failed to load genesis", "path", cfg.GenesisPath, "error", err)
		}
	}
	if err := chain.ApplyGenesis(ctx, host, genesis); err != nil {
		logg.Fatalw("failed to apply genesis", "error", err)
	}

	// --- Event fan-out (registered before any marketplace call commits) ---
	bus := eventbus.New(logger.Named("eventbus"))
	host.OnCommit(bus.Publish)

	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Marketplace behind the upgrade proxy ---
	marketAddr := mustAddress(logg, "MARKET_ADDRESS", cfg.MarketAddress)
	p := proxy.New(host, marketAddr, logger.Named("proxy"),
		market.WithUSDDecimals(uint8(cfg.USDDecimals)),
		market.WithLogger(logger.Named("market")),
		market.WithRecorder(metrics.Recorder{}),
	)

	pub, err := publisher.New(nc, cfg.NATSSubject, cfg.ServiceName, marketAddr, logger.Named("publisher"))
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}
	if err := pub.EnsureStream(cfg.NATSStream); err != nil {
		logg.Fatalw("failed to ensure JetStream stream", "stream", cfg.NATSStream, "error", err)
	}
	pub.Attach(bus)

	var amqpPub *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		if amqpPub, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, bus, logger.Named("rabbitmq")); err != nil {
			logg.Fatalw("failed to connect to RabbitMQ", "error", err)
		}
	}

	if auditDB != nil {
		writer := audit.NewWriter(auditDB, logger.Named("audit"), cfg.ServiceName)
		if err := writer.EnsureSchema(ctx); err != nil {
			logg.Fatalw("failed to prepare audit schema", "error", err)
		}
		writer.Attach(bus)
	}

	if err := bootstrap(ctx, cfg, p, genesis); err != nil {
		logg.Fatalw("failed to bootstrap marketplace", "error", err)
	}

	// --- Oracle price sourcing ---
	bindings, err := jobs.ParseBindings(cfg.PriceSymbols)
	if err != nil {
		logg.Fatalw("invalid PRICE_SYMBOLS", "error", err)
	}
	var source oracle.Source
	if cfg.PriceSourceURL != "" {
		exec := httpclient.New(
			logger.Named("price_source"),
			rate.NewManager(rate.Config{RequestsPerSecond: 5, Burst: 10, Cooldown: time.Second}),
			nil,
			3,
			"price_source",
			nil,
		)
		httpSource, err := oracle.NewHTTPSource(cfg.PriceSourceURL, exec)
		if err != nil {
			logg.Fatalw("invalid PRICE_SOURCE_URL", "error", err)
		}
		source = httpSource
	}
	refresher := jobs.NewPriceRefresher(logger.Named("price_refresher"), host, source, bindings, cfg.PricePollInterval)
	if len(bindings) > 0 {
		go refresher.Start(ctx)
	}

	var stream *oracle.Stream
	if cfg.PriceStreamURL != "" && len(bindings) > 0 {
		symbols := make([]string, len(bindings))
		for i, b := range bindings {
			symbols[i] = b.Symbol
		}
		stream = oracle.NewStream(cfg.PriceStreamURL, symbols, logger.Named("price_stream"))
		refresher.AttachStream(stream)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Warnw("price stream stopped", "error", err)
			}
		}()
	}

	// --- Caller authentication (API key -> ledger address) ---
	provider, err := secretsProvider(ctx, cfg)
	if err != nil {
		logg.Fatalw("failed to create secrets provider", "error", err)
	}
	principalCache := secrets.NewCache[internalsecrets.Principal](cfg.CacheTTL,
		secrets.WithCapacity(cfg.CacheSize),
		secrets.WithMissTTL(cfg.UnknownKeyTTL))
	stopCleaner := make(chan struct{})
	go principalCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewAPIKeyResolver(logger.Named("auth"), cfg.APIKeySecretPrefix, provider, principalCache)
	if n, err := resolver.CountKeys(ctx); err != nil {
		logg.Warnw("failed to count API keys", "error", err)
	} else {
		logg.Infow("API keys available", "count", n)
	}

	callerLimits := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.CallerRateLimit,
		Burst:             cfg.CallerRateLimit * 2,
		Cooldown:          time.Second,
	})

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logger.Named("api"), p, chain.NewWallet(host), host)
	api.RegisterRoutes(app, handler, api.RequireCaller(resolver, callerLimits, logger.Named("api")), map[string]api.HealthCheck{
		"state": store.HealthCheck,
		"host":  host.HealthCheck,
		"nats": func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		},
	})

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[marketplace] running",
		"market", marketAddr,
		"nats", cfg.NATSURL,
		"feeds", len(bindings),
		"rabbitmq", amqpPub != nil)

	<-ctx.Done()
	logg.Info("shutting down [marketplace]...")

	close(stopCleaner)
	refresher.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if amqpPub != nil {
		if err := amqpPub.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	pub.Close()
	if err := store.Close(); err != nil {
		logg.Warnw("state.close_failed", "error", err)
	}
}

// openState returns the configured state store and, for the postgres backend,
// the pool the audit tables are written through.
func openState(ctx context.Context, cfg *config.Config) (state.Store, *pgxpool.Pool, error) {
	switch cfg.StateBackend {
	case "memory":
		return state.NewMemory(), nil, nil
	case "pebble":
		st, err := state.OpenPebble(cfg.PebbleDir)
		return st, nil, err
	case "postgres":
		logger.S().Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		pg, err := state.NewPostgres(ctx, cfg.DatabaseURL, state.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logger.Named("state"))
		if err != nil {
			return nil, nil, err
		}
		rdb, err := state.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass)
		if err != nil {
			logger.S().Warnw("redis unavailable; serving state from postgres only", "error", err)
			return pg, pg.PG, nil
		}
		return state.NewHybrid(rdb, pg, cfg.StateCacheTTL, logger.Named("state")), pg.PG, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

// bootstrap deploys the proxy and, on a fresh ledger, initializes the
// marketplace and registers the genesis payment assets.
func bootstrap(ctx context.Context, cfg *config.Config, p *proxy.Proxy, g *chain.Genesis) error {
	log := logger.Named("bootstrap")
	owner, err := model.ParseAddress(cfg.ProxyOwner)
	if err != nil {
		return fmt.Errorf("PROXY_OWNER: %w", err)
	}
	admin, err := model.ParseAddress(cfg.MarketAdmin)
	if err != nil {
		return fmt.Errorf("MARKET_ADMIN: %w", err)
	}
	recipient, err := model.ParseAddress(cfg.FeeRecipient)
	if err != nil {
		return fmt.Errorf("FEE_RECIPIENT: %w", err)
	}

	if err := p.Deploy(ctx, owner, cfg.LogicVersion); err != nil {
		return err
	}
	version, err := p.Version(ctx)
	if err != nil {
		return err
	}
	if version < cfg.LogicVersion {
		if _, err := p.Upgrade(ctx, owner, cfg.LogicVersion); err != nil {
			return fmt.Errorf("upgrade to version %d: %w", cfg.LogicVersion, err)
		}
	}

	settings, err := p.Settings(ctx)
	if err != nil {
		return err
	}
	if settings.Initialized {
		log.Info("bootstrap.already_initialized",
			zap.String("admin", settings.Admin.String()),
			zap.Uint32("version", settings.Version))
		return nil
	}
	if _, err := p.Initialize(ctx, admin, recipient, cfg.FeeBps); err != nil {
		return err
	}

	for _, f := range g.Feeds {
		if f.Asset == "" {
			continue
		}
		if f.Asset != model.NativeAsset {
			if _, err := p.SetWhitelistedPaymentAsset(ctx, admin, f.Asset, true); err != nil {
				return fmt.Errorf("whitelist %s: %w", f.Asset, err)
			}
		}
		if _, err := p.SetOracleFeed(ctx, admin, f.Asset, f.Address); err != nil {
			if errors.Is(err, market.ErrUnsupported) {
				log.Warn("bootstrap.oracle_feed_unsupported",
					zap.String("asset", f.Asset.String()),
					zap.Uint32("version", cfg.LogicVersion))
				continue
			}
			return fmt.Errorf("oracle feed for %s: %w", f.Asset, err)
		}
	}
	log.Info("bootstrap.initialized",
		zap.String("admin", admin.String()),
		zap.String("fee_recipient", recipient.String()),
		zap.Uint32("fee_bps", cfg.FeeBps))
	return nil
}

// secretsProvider serves API keys from DEV_API_KEYS when set and from AWS
// Secrets Manager otherwise.
func secretsProvider(ctx context.Context, cfg *config.Config) (secrets.Provider, error) {
	if len(cfg.DevAPIKeys) == 0 {
		return secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	}
	sp := secrets.NewStaticProvider()
	for i, pair := range cfg.DevAPIKeys {
		key, addr, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("DEV_API_KEYS entry %d: want key=address", i)
		}
		a, err := model.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("DEV_API_KEYS entry %d: %w", i, err)
		}
		sp.Put(cfg.APIKeySecretPrefix+internalsecrets.HashKey(key), map[string]string{
			"address": a.String(),
			"name":    fmt.Sprintf("dev-%d", i),
		})
	}
	logger.S().Warnw("serving API keys from DEV_API_KEYS", "count", len(cfg.DevAPIKeys))
	return sp, nil
}

func mustAddress(logg *zap.SugaredLogger, name, value string) model.Address {
	a, err := model.ParseAddress(value)
	if err != nil {
		logg.Fatalw("invalid address", "setting", name, "error", err)
	}
	return a
}
