package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/petmerch/api/internal/checkout"
	"github.com/petmerch/api/internal/client"
	"github.com/petmerch/api/internal/config"
	"github.com/petmerch/api/internal/handler"
	"github.com/petmerch/api/internal/logging"
	"github.com/petmerch/api/internal/middleware"
	"github.com/petmerch/api/internal/router"
	"github.com/petmerch/api/internal/store"
	"github.com/petmerch/api/internal/tracker"
	ws "github.com/petmerch/api/internal/websocket"
	"github.com/petmerch/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().
		Str("profile", cfg.Profile).
		Str("store", cfg.Store.Driver).
		Str("storage", cfg.Storage.Provider).
		Str("payment", cfg.Payment.Provider).
		Bool("queue", cfg.Queue.Enabled).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the redis store, the queue and rate limiting
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis not available")
		}
	}

	// Job store
	var pool *pgxpool.Pool
	var jobs store.JobStore
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err = store.NewPostgresPool(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		if cfg.Database.Migrate {
			if err := store.Migrate(ctx, pool, logger); err != nil {
				logger.Fatal().Err(err).Msg("failed to run migrations")
			}
		}
		jobs = store.NewPostgresJobStore(pool)
	case config.StoreRedis:
		jobs = store.NewRedisJobStore(redisClient)
	default:
		jobs = store.NewMemoryJobStore()
	}

	// Checkout sessions live in Redis whenever it is available
	var sessions checkout.SessionStore = store.NewMemorySessionStore()
	if redisClient != nil && cfg.Store.Driver != config.StoreMemory {
		sessions = store.NewRedisSessionStore(redisClient)
	}

	storage, err := newStorageClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Generation backend
	var backend client.GenerationBackend
	var simulated *client.SimulatedBackend
	runpod := client.NewRunPodClient(&cfg.RunPod, logger)
	if runpod.IsConfigured() {
		backend = runpod
	} else {
		logger.Info().Dur("delay", cfg.Simulation.GenerationDelay).Msg("runpod not configured, using simulated generation")
		simulated = client.NewSimulatedBackend(cfg.Simulation.GenerationDelay, cfg.RunPod.WebhookSecret, logger)
		backend = simulated
	}

	// Initialize WebSocket hub
	hub := ws.NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	launcher := tracker.NewLauncher(jobs, backend, cfg.WebhookURL(), hub, logger)

	// Dispatch inline, or through asynq when the queue is enabled
	var dispatcher tracker.Dispatcher = tracker.NewDirectDispatcher(launcher)
	var scheduler checkout.Scheduler
	var asynqClient *asynq.Client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if cfg.Queue.Enabled {
		asynqClient = asynq.NewClient(redisOpt)
		queue := worker.NewQueue(asynqClient)
		dispatcher = tracker.NewQueueDispatcher(queue)
		scheduler = queue
	}

	designs := tracker.New(jobs, storage, dispatcher, hub, tracker.Options{
		MaxFiles:    cfg.Upload.MaxFiles,
		MaxFileSize: cfg.Upload.MaxFileSize,
	}, logger)

	authorizer := newAuthorizer(cfg)
	checkoutService := checkout.NewService(sessions, designs, authorizer, scheduler, checkout.ServiceOptions{
		SettlementDelay: cfg.Payment.SettlementDelay,
	}, logger)

	// Start Asynq worker server
	var workerServer *asynq.Server
	if cfg.Queue.Enabled {
		workerServer = worker.NewServer(redisOpt, cfg.Queue.Concurrency, cfg.Server.LogLevel, logger)
		mux := worker.NewMux(
			worker.NewDispatchWorker(launcher, logger),
			worker.NewSettlementWorker(checkoutService, logger),
		)
		if err := workerServer.Start(mux); err != nil {
			logger.Fatal().Err(err).Msg("failed to start worker server")
		}
	}

	validate := validator.New()
	app := router.New(router.Deps{
		Config:   cfg,
		Log:      logger,
		Auth:     middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Required),
		Limiter:  middleware.NewRateLimiter(redisClient, logger),
		Health:   handler.NewHealthHandler(cfg.Profile, jobs, redisClient, storage, backend),
		Catalog:  handler.NewCatalogHandler(cfg),
		Designs:  handler.NewDesignHandler(designs, hub),
		Webhooks: handler.NewWebhookHandler(designs, cfg.RunPod.WebhookSecret, logger),
		Checkout: handler.NewCheckoutHandler(checkoutService, validate),
	})

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info().Str("addr", addr).Msg("server starting")
		serverErr <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	// Graceful shutdown
	logger.Info().Msg("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	if simulated != nil {
		simulated.Close()
	}
	checkoutService.Close()
	stopHub()
	if asynqClient != nil {
		_ = asynqClient.Close()
	}
	if err := jobs.Close(); err != nil {
		logger.Error().Err(err).Msg("job store close error")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info().Msg("stopped")
}

func newStorageClient(cfg *config.Config) (client.StorageClient, error) {
	switch cfg.Storage.Provider {
	case config.StorageS3:
		return client.NewS3Client(&cfg.Storage)
	case config.StorageSupabase:
		return client.NewSupabaseStorageClient(&cfg.Storage)
	case config.StorageMock:
		return client.NewMockStorageClient(cfg.Storage.PublicURL), nil
	}
	return nil, errors.New("unknown storage provider " + cfg.Storage.Provider)
}

func newAuthorizer(cfg *config.Config) checkout.Authorizer {
	simulator := checkout.NewSimulatedAuthorizer(cfg.Payment.NetworkDelay)
	if cfg.Payment.Provider == config.PaymentChaos && cfg.Payment.DeclineRate > 0 {
		return checkout.NewChaosAuthorizer(simulator, cfg.Payment.DeclineRate, time.Now().UnixNano())
	}
	return simulator
}
