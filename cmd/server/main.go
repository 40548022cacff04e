package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/sympfindx-diagnosis-server/internal/api"
	"github.com/sympfindx-diagnosis-server/internal/cache"
	"github.com/sympfindx-diagnosis-server/internal/config"
	"github.com/sympfindx-diagnosis-server/internal/database"
	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/events"
	"github.com/sympfindx-diagnosis-server/internal/logging"
	"github.com/sympfindx-diagnosis-server/internal/metrics"
	"github.com/sympfindx-diagnosis-server/internal/repository"
	"github.com/sympfindx-diagnosis-server/internal/service"
	"github.com/sympfindx-diagnosis-server/internal/storage"
	"github.com/sympfindx-diagnosis-server/pkg/external"
)

const localCacheSize = 1024

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	configManager, err := config.NewManagerFromFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.New(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"driver":      cfg.Database.Driver,
		"port":        cfg.Server.Port,
	}).Info("Starting diagnosis server")

	collector := metrics.NewCollector()
	checks := map[string]api.HealthCheck{}

	repo, closeRepo, err := openRepository(ctx, cfg, logger, checks)
	if err != nil {
		return err
	}
	defer closeRepo()

	classifier := external.NewPredictClient(cfg.Classifier, logger)
	checks["classifier"] = func(context.Context) error {
		if classifier.State() == gobreaker.StateOpen {
			return errors.New("circuit breaker open")
		}
		return nil
	}

	opts := []service.DiagnosisServiceOption{
		service.WithMetrics(collector),
		service.WithEnrichment(cfg.Pipeline.EnrichRecommendations),
	}

	if cfg.Storage.Enabled {
		images, err := storage.NewImageStore(cfg.Storage, logger)
		if err != nil {
			return fmt.Errorf("creating image store: %w", err)
		}
		if err := images.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("preparing image bucket: %w", err)
		}
		opts = append(opts, service.WithImageStore(images))
		checks["storage"] = images.EnsureBucket
	}

	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisAnalyticsCache(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using in-process analytics cache")
			opts = append(opts, service.WithAnalyticsCache(cache.NewLocalAnalyticsCache(localCacheSize, cfg.Cache.DefaultTTL)))
		} else {
			defer redisCache.Close()
			opts = append(opts, service.WithAnalyticsCache(redisCache))
			checks["cache"] = redisCache.Ping
		}
	} else {
		opts = append(opts, service.WithAnalyticsCache(cache.NewLocalAnalyticsCache(localCacheSize, cfg.Cache.DefaultTTL)))
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewRoutingPublisher(cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("creating routing publisher: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, service.WithEventPublisher(publisher))
	}

	builder := service.NewRecordBuilder(logger, service.WeightsFromConfig(cfg.Pipeline))
	svc := service.NewDiagnosisService(logger, classifier, repo, builder, opts...)

	server := api.NewServer(cfg, svc, logger, collector)
	for name, check := range checks {
		server.AddHealthCheck(name, check)
	}

	return server.Start(ctx)
}

// openRepository connects the configured store. Postgres is migrated to the
// latest schema before use.
func openRepository(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, checks map[string]api.HealthCheck) (domain.DiagnosisRepository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		dbConfig := database.ConfigFromDomain(cfg.Database)
		db, err := database.NewConnection(ctx, dbConfig, logger)
		if err != nil {
			return nil, nil, err
		}

		runner, err := database.NewMigrationRunner(dbConfig.URL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		err = runner.Up(ctx)
		runner.Close()
		if err != nil {
			db.Close()
			return nil, nil, err
		}

		repo, err := repository.NewPostgresRepository(db.SQL(), logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		checks["database"] = db.Health
		return repo, db.Close, nil

	default:
		repo, err := repository.NewSQLiteRepository(cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		checks["database"] = repo.Ping
		return repo, func() { repo.Close() }, nil
	}
}
