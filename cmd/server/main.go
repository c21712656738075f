package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"certledger/internal/confidential"
	httpapi "certledger/internal/http"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/kafka"
	"certledger/internal/platform/logger"
	platformmetrics "certledger/internal/platform/metrics"
	"certledger/internal/platform/postgres"
	"certledger/internal/platform/redis"
	"certledger/internal/ratelimit"
	"certledger/internal/registry/cache"
	"certledger/internal/registry/handler"
	registrymetrics "certledger/internal/registry/metrics"
	"certledger/internal/registry/outbox"
	"certledger/internal/registry/service"
	"certledger/internal/registry/store"
	"certledger/internal/wallet"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/circuit"
)

// ledgerStore is what both the service and the outbox relay read from.
type ledgerStore interface {
	service.Store
	outbox.Source
}

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("certledger stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	owner, err := id.ParseAddress(cfg.Owner)
	if err != nil {
		return fmt.Errorf("REGISTRY_OWNER: %w", err)
	}
	registryAddress, err := id.ParseAddress(cfg.RegistryAddress)
	if err != nil {
		return fmt.Errorf("REGISTRY_ADDRESS: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	health := map[string]httpapi.HealthCheck{}

	var (
		ledger ledgerStore
		vault  confidential.Vault = confidential.NewMemoryVault()
	)
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		ledger = store.NewPostgresStore(db)
		vault = confidential.NewPostgresVault(db)
		health["postgres"] = pingDB(db)
		log.Info("ledger store: postgres", "driver", cfg.Postgres.Driver)
	} else {
		ledger = store.NewInMemoryStore()
		log.Warn("ledger store: in-memory, state is lost on restart")
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		verifyCache service.VerificationCache = cache.NewInMemoryCache(cfg.VerifyCacheTTL)
		challenges  wallet.ChallengeStore     = wallet.NewInMemoryChallengeStore()
		limiter     ratelimit.Limiter         = ratelimit.NewInMemoryLimiter()
	)
	if redisClient != nil {
		defer redisClient.Close()
		verifyCache = cache.NewGuardedCache(
			cache.NewRedisCache(redisClient.Client, cache.WithTTL(cfg.VerifyCacheTTL)),
			cache.NewInMemoryCache(cfg.VerifyCacheTTL),
			circuit.New("verify-cache"),
			log,
		)
		challenges = wallet.NewRedisChallengeStore(redisClient.Client)
		limiter = ratelimit.NewFallbackLimiter(
			ratelimit.NewRedisLimiter(redisClient.Client),
			limiter,
			circuit.New("ratelimit"),
			log,
		)
		redisClient.RegisterPoolMetrics(reg)
		health["redis"] = redisClient.Health
	}
	rateLimits := ratelimit.New(limiter, log, ratelimit.WithDisabled(cfg.RateLimit.Disabled))

	var publisher outbox.Publisher = outbox.NewLogPublisher(log)
	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			return err
		}
		publisher = producer
		health["kafka"] = producer.Client().Ping
	}

	engine, err := confidential.NewTinkEngine(registryAddress, cfg.ConfidentialKeyset, confidential.WithVault(vault))
	if err != nil {
		return err
	}
	if cfg.ConfidentialKeyset == "" {
		log.Warn("confidential keyset not configured, using an ephemeral key")
	}

	svc := service.New(ledger, engine,
		service.WithLogger(log),
		service.WithMetrics(registrymetrics.New(reg)),
		service.WithCache(verifyCache),
		service.WithMaxExtensionDays(cfg.MaxExtensionDays),
	)
	registry, err := svc.Init(ctx, owner, registryAddress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	log.Info("registry ready",
		"owner", registry.Owner.String(),
		"registry_address", registry.Address.String(),
		"chain_id", cfg.ChainID,
	)

	tokens := wallet.NewTokenService(cfg.JWTSigningKey, "certledger", cfg.ChainID)
	auth := wallet.NewService(challenges, tokens, cfg.ChainID, registryAddress,
		wallet.WithLogger(log),
		wallet.WithTTLs(cfg.ChallengeTTL, cfg.SessionTTL),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:   log,
		Metrics:  platformmetrics.New(reg),
		Gatherer: reg,
		Health:   health,
		Modules: []httpapi.Registrar{
			wallet.NewHandler(auth, log,
				rateLimits.PerIP("auth", cfg.RateLimit.AuthRequests, cfg.RateLimit.AuthWindow),
			),
			handler.New(svc, cfg.ChainID, log, auth),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	relay := outbox.NewRelay(ledger, publisher,
		outbox.WithLogger(log),
		outbox.WithInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting certledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func pingDB(db *sql.DB) httpapi.HealthCheck {
	return db.PingContext
}
