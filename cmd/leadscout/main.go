// cmd/leadscout/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leadscout/internal/cache"
	"leadscout/internal/common/config"
	"leadscout/internal/common/database"
	"leadscout/internal/common/logger"
	"leadscout/internal/common/observability"
	"leadscout/internal/leads"
	"leadscout/internal/scoring"
	"leadscout/internal/search"
	"leadscout/internal/server"
	"leadscout/internal/startup"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting leadscout...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init the candidate repository for the configured driver ---
	var repo leads.Repository

	switch cfg.Repository.Driver {
	case "elasticsearch":
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		repo = leads.NewElasticRepository(esClient.Client, cfg.Database.Elasticsearch.Index)

	default: // postgres
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")

		// Schema setup runs once across the whole fleet; concurrent boots
		// wait on the marker instead of racing the DDL.
		guard := startup.NewGuard(rdb.Client, cache.NewRedisLock(rdb.Client), startup.Options{}, log)
		err = guard.RunOnce(ctx, "schema", 0, func(ctx context.Context) error {
			return leads.EnsureSchema(ctx, pg.DB)
		})
		if err != nil {
			zapLog.Fatal("schema initialization failed", zap.Error(err))
		}
		zapLog.Info("Schema ready")

		repo = leads.NewPostgresRepository(pg.DB)
	}

	// --- Wire the search core ---
	coordinator := cache.NewCoordinator(rdb.Client, cache.NewRedisLock(rdb.Client), cache.Options{
		TTL:          cfg.Cache.TTLDuration(),
		LockLease:    cfg.Cache.LockLeaseDuration(),
		WaitTimeout:  cfg.Cache.WaitTimeoutDuration(),
		PollInterval: cfg.Cache.PollIntervalDuration(),
	}, log)

	svc := search.NewService(repo, coordinator, scoring.NewScorer(cfg.Scoring.DistanceDivisor), log)

	srv := server.New(cfg.Server, svc, obs, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	case sig := <-stop:
		zapLog.Info("Shutting down...", zap.String("signal", sig.String()))
		if err := srv.Shutdown(); err != nil {
			zapLog.Error("shutdown error", zap.Error(err))
		}
	}

	zapLog.Info("leadscout stopped")
}
