package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"possettle/internal/cache"
	"possettle/internal/config"
	"possettle/internal/events"
	"possettle/internal/httpapi"
	"possettle/internal/inventory"
	"possettle/internal/lock"
	"possettle/internal/metrics"
	"possettle/internal/service"
	"possettle/internal/store"
	"possettle/internal/store/memory"
	"possettle/internal/store/mongostore"
	pgstore "possettle/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid report timezone", zap.Error(err))
	}
	metrics.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open repository", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var locker lock.Locker = lock.NewLocal()
	var reportCache cache.ReportCache = cache.NoopReportCache{}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-process lock and no report cache", zap.Error(err))
			_ = client.Close()
		} else {
			locker = lock.NewRedis(client, "", cfg.OperationTimeout()+5*time.Second)
			reportCache = cache.NewRedisReportCache(client)
			closers = append(closers, closeRedis(client))
			logger.Info("redis enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := events.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.KafkaTopicPrefix)
		closers = append(closers, publisher.Close)
		logger.Info("kafka publisher enabled", zap.Strings("brokers", brokers))
	}

	settings := serviceSettings(cfg, loc)
	svc := service.New(repo, service.Dependencies{
		Consumer:    inventory.NewConsumer(repo, locker, logger),
		Publisher:   publisher,
		ReportCache: reportCache,
		Logger:      logger,
	}, settings)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Location:      loc,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      settings.OperationTimeout + settings.CompensationTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	recoveryCtx, stopRecovery := context.WithCancel(context.Background())
	recoveryDone := make(chan struct{})
	go func() {
		defer close(recoveryDone)
		runRecovery(recoveryCtx, svc, cfg.RecoveryInterval(), logger)
	}()

	go func() {
		logger.Info("settlement backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	stopRecovery()
	<-recoveryDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

// openRepository picks the ledger backend. A configured database that cannot
// be reached is fatal rather than a silent fallback to memory.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, pg.Close, nil
	case cfg.MongoURI != "":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo unavailable and MONGO_URI is set: %w", err)
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close()
			return nil, nil, fmt.Errorf("create mongo indexes: %w", err)
		}
		logger.Info("repository: mongo", zap.String("database", cfg.MongoDatabase))
		return mg, mg.Close, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(logger), nil, nil
	}
}

func runRecovery(ctx context.Context, svc *service.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := svc.RecoverStaleSettlements(ctx)
			if err != nil {
				logger.Warn("recover stale settlements", zap.Error(err))
				continue
			}
			if recovered > 0 {
				logger.Info("recovered stale settlements", zap.Int("count", recovered))
			}
		}
	}
}

func serviceSettings(cfg config.Config, loc *time.Location) service.Settings {
	settings := service.DefaultSettings()
	settings.WalkInCustomerID = cfg.WalkInCustomerID
	settings.OperationTimeout = cfg.OperationTimeout()
	settings.ClaimLease = cfg.ClaimLease()
	settings.FinalizeConcurrency = cfg.FinalizeConcurrency
	settings.ReportCacheTTL = cfg.ReportCacheTTL()
	settings.ReportLocation = loc
	// A claim must outlive one full settlement attempt including its rollback.
	if floor := settings.OperationTimeout + settings.CompensationTimeout; settings.ClaimLease < floor {
		settings.ClaimLease = floor
	}
	return settings
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}

func validateSecurityConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}
	return nil
}

func closeRedis(client *redis.Client) func() error {
	return client.Close
}
