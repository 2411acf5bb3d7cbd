package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cogivn/daisy-flower-sub000/config"
	"github.com/cogivn/daisy-flower-sub000/internal/api"
	"github.com/cogivn/daisy-flower-sub000/internal/broker"
	"github.com/cogivn/daisy-flower-sub000/internal/redisclient"
	"github.com/cogivn/daisy-flower-sub000/internal/service"
	"github.com/cogivn/daisy-flower-sub000/internal/store"
	"github.com/cogivn/daisy-flower-sub000/internal/util"
	"github.com/cogivn/daisy-flower-sub000/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend is what the process needs from either store implementation
type backend interface {
	service.Repository
	worker.EventLog
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func openBackend(cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres", "":
		s, err := store.NewStore(cfg.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting promotion engine", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := openBackend(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate schema", zap.Error(err))
		}
	}
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	deps := map[string]api.Pinger{"store": db}

	// Redis is optional: without it idempotency falls back to the orders
	// table, the level cache is skipped and sweeps run unlocked.
	var (
		cache  service.Cache
		guard  service.IdempotencyGuard
		locker worker.Locker
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache, guard, locker = redisClient, redisClient, redisClient
		deps["redis"] = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPromotions)
	defer producer.Close()
	publisher := broker.NewEventPublisher(producer)

	levels := service.NewLevelSettingsProvider(db, cache, cfg.Promotion.LevelSettingsCacheTTL)
	cartService := service.NewCartService(db, levels, publisher, cfg.Promotion.VoucherReservationTTL)
	ledgerService := service.NewLedgerService(db, levels, publisher)
	orderService := service.NewOrderService(db, cartService, ledgerService, guard)
	sweepService := service.NewSweepService(db, ledgerService, cfg.Scheduler.AbandonedOrderAge)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var wg sync.WaitGroup

	triggerConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTriggers, cfg.Kafka.ConsumerGroup)
	triggerWorker := worker.NewTriggerWorker(triggerConsumer, db, db, cartService, ledgerService)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := triggerWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Trigger worker error", zap.Error(err))
		}
	}()

	scheduler := worker.NewScheduler(
		worker.SweepJobs(sweepService, cfg.Scheduler),
		cfg.Scheduler.Workers,
		locker,
		cfg.Scheduler.LockTTL,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(workerCtx)
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(cartService, orderService, api.AuthSettings{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	}, deps)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := triggerWorker.Stop(); err != nil {
		logger.Warn("Error closing trigger consumer", zap.Error(err))
	}
	wg.Wait()

	logger.Info("Server exited")
}
