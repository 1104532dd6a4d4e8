package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/broker"
	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/handler"
	"github.com/chess-broker/internal/kafka"
	"github.com/chess-broker/internal/logging"
	"github.com/chess-broker/internal/loop"
	"github.com/chess-broker/internal/postgres"
	"github.com/chess-broker/internal/redis"
	"github.com/chess-broker/internal/service"
	"github.com/chess-broker/internal/store"
	"github.com/chess-broker/internal/websocket"
	"github.com/chess-broker/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := logging.New(cfg.Log)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", zap.Error(cfgErr))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis. Only the redis backend requires it; otherwise it
	// just feeds the leaderboard.
	logger.Info("connecting to Redis", zap.String("addr", cfg.Redis.Addr))
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		if cfg.Store.Backend == config.BackendRedis {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Warn("Redis unavailable, continuing without leaderboard", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		logger.Info("connected to Redis")
	}

	// Initialize the document store
	db, postgresRepo := openStore(ctx, cfg, redisClient, logger)
	defer db.Close()

	// Initialize services
	var (
		redisLeaderboard   *redis.LeaderboardService
		leaderboardService *service.LeaderboardService
	)
	if redisClient != nil {
		redisLeaderboard = redis.NewLeaderboardService(redisClient, logger)
		var history service.RatingHistory
		if postgresRepo != nil {
			history = postgresRepo
		}
		leaderboardService = service.NewLeaderboardService(redisLeaderboard, history, &cfg.Leaderboard, logger)
	}

	// Rating updates go through Kafka when it is enabled, straight to the
	// leaderboard otherwise
	var (
		notifier  broker.Notifier
		publisher *kafka.Publisher
	)
	if cfg.Kafka.Enabled {
		publisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without Kafka", zap.Error(err))
			publisher = nil
		} else {
			notifier = publisher
		}
	}
	if notifier == nil && leaderboardService != nil {
		notifier = service.NewDirectNotifier(leaderboardService, cfg.Store.OperationTimeout, logger)
	}

	// Start the event loop
	ev := loop.New(cfg.Broker.QueueSize, logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go ev.Run(loopCtx)

	async := store.NewAsync(ev, cfg.Store.OperationTimeout)
	app := broker.New(&cfg.Broker, ev, db, async, notifier, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(ev, cfg.Broker.ActivityCheckInterval, logger)
	wsHub.OnConnect(func(c *websocket.Client) { app.Connect(c) })
	if err := ev.Do(ctx, wsHub.Start); err != nil {
		logger.Fatal("failed to start WebSocket hub", zap.Error(err))
	}

	// Initialize Kafka consumer for rating updates
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled && leaderboardService != nil {
		logger.Info("initializing Kafka consumer",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.RatingTopic),
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", zap.Error(err))
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", zap.Error(err))
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Initialize sync worker
	var syncWorker *worker.SyncWorker
	if redisLeaderboard != nil {
		var source worker.RatingSource = worker.CollectionRatings{Users: db.Collection(store.Users)}
		if postgresRepo != nil {
			source = postgresRepo
		}
		syncWorker = worker.NewSyncWorker(redisLeaderboard, source, &cfg.Sync, logger)

		// Rebuild the leaderboard from the user store on startup (recovery)
		logger.Info("rebuilding leaderboard from the user store")
		if err := syncWorker.Rebuild(ctx); err != nil {
			logger.Warn("failed to rebuild leaderboard on startup", zap.Error(err))
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Fatal("failed to start sync worker", zap.Error(err))
			}
		}
	}

	// Initialize HTTP handler
	var leaderboard handler.Leaderboard
	if leaderboardService != nil {
		leaderboard = leaderboardService
	}
	httpHandler := handler.NewHandler(app, ev, wsHub, leaderboard, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Backend),
		)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", zap.Error(err))
	}

	// Stop WebSocket hub
	if err := ev.Do(shutdownCtx, wsHub.Stop); err != nil {
		logger.Error("failed to stop WebSocket hub", zap.Error(err))
	}

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", zap.Error(err))
		}
	}

	// Stop sync worker
	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", zap.Error(err))
		}
	}

	// Stop the event loop before closing the publisher it sends to
	stopLoop()
	select {
	case <-ev.Done():
	case <-shutdownCtx.Done():
		logger.Warn("event loop did not stop in time")
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openStore connects the configured backend. The postgres repository is
// also returned so it can serve rating history and leaderboard rebuilds.
func openStore(
	ctx context.Context,
	cfg *config.Config,
	redisClient *goredis.Client,
	logger *zap.Logger,
) (store.Database, *postgres.Repository) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL",
			zap.String("host", cfg.Postgres.Host),
			zap.String("database", cfg.Postgres.Database),
		)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		return repo, repo

	case config.BackendRedis:
		return redis.NewDocuments(redisClient), nil

	default:
		logger.Warn("using in-memory store, accounts and games are lost on restart")
		return store.NewMemory(), nil
	}
}
