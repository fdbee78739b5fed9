package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/cache"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/catalog"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/config"
	h "github.com/MetheMeticien/Mark-Ed-Place/internal/http"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/logger"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/metrics"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/orders"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/publisher"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/repository"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/service"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	log := logger.New("cartd", cfg.LogLevel)
	ctx := context.Background()

	tp, err := telemetry.InitTracing(ctx, "cartd", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	redisOK := redisClient.Ping(ctx).Err() == nil

	store, err := openStore(ctx, cfg, redisClient, redisOK, log)
	if err != nil {
		log.Fatalf("Failed to open cart store: %v", err)
	}
	log.WithField("store", cfg.CartStore).Info("cart store ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ordersAPI := backend.NewClient("OrderService", cfg.APIBaseURL, cfg.RequestTimeout, log)
	catalogAPI := backend.NewClient("ProductService", cfg.APIBaseURL, cfg.RequestTimeout, log)
	ordersClient := orders.NewClient(ordersAPI)

	var productCache cache.ProductCache
	if redisOK {
		productCache = cache.NewRedisCache(redisClient, cfg.ProductCacheTTL)
	} else {
		log.Warn("Redis unavailable, product snapshots will not be cached")
	}
	catalogClient := catalog.NewClient(catalogAPI, productCache, log)

	notifiers := service.MultiNotifier{service.NewLogNotifier(log), catalogClient}
	var kafkaNotifier *publisher.KafkaNotifier
	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier = publisher.NewKafkaNotifier(cfg.KafkaTopic, log, cfg.KafkaBrokers...)
		notifiers = append(notifiers, kafkaNotifier)
		log.WithField("brokers", cfg.KafkaBrokers).Info("publishing cart events to Kafka")
	}

	sessions := service.NewSessions(service.Deps{
		Store:           store,
		Orders:          ordersClient,
		Notifier:        notifiers,
		Metrics:         m,
		Log:             log,
		ConflictRetries: cfg.StoreConflictRetries,
	})
	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go sessions.Run(evictCtx, time.Minute, cfg.SessionIdleTTL)

	router := h.NewRouter(h.RouterConfig{
		Cart:               h.NewCartHandler(sessions, catalogClient, log),
		Orders:             h.NewOrdersHandler(ordersClient, log),
		Metrics:            m,
		Gatherer:           reg,
		Log:                log,
		RequestTimeout:     cfg.RequestTimeout * 3,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout*3 + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Cart service starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	stopEviction()
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			log.WithError(err).Error("failed to flush cart events")
		}
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Error("failed to close cart store")
	}
	if cfg.CartStore != "redis" {
		_ = redisClient.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("failed to flush traces")
	}

	log.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, redisOK bool, log *logrus.Logger) (repository.CartStore, error) {
	switch cfg.CartStore {
	case "memory":
		log.Warn("using in-memory cart store, carts will not survive a restart")
		return repository.NewMemoryStore(), nil

	case "redis":
		if !redisOK {
			return nil, fmt.Errorf("redis at %s is unreachable", cfg.RedisAddr)
		}
		return repository.NewRedisStore(redisClient), nil

	case "mongo":
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		store := repository.NewMongoStore(db)
		if err := store.CreateIndexes(ctx); err != nil {
			return nil, err
		}
		log.Infof("Connected to MongoDB at %s", cfg.MongoURI)
		return store, nil

	case "postgres":
		cred := &repository.Credentials{
			Host:              cfg.DBHost,
			Port:              cfg.DBPort,
			User:              cfg.DBUser,
			Password:          cfg.DBPassword,
			DBName:            cfg.DBName,
			MigrationsDirPath: cfg.MigrationsPath,
		}
		store, err := repository.NewPostgresStore(cred)
		if err != nil {
			return nil, err
		}
		if err := store.RunMigrations(cred); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnknownStoreKind, cfg.CartStore)
	}
}
