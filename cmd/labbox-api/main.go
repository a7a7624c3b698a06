package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/labbox-api/internal/api/handler"
	"github.com/cuongbtq/labbox-api/internal/api/router"
	"github.com/cuongbtq/labbox-api/internal/config"
	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/cuongbtq/labbox-api/internal/feed/memory"
	"github.com/cuongbtq/labbox-api/internal/feed/redisfeed"
	"github.com/cuongbtq/labbox-api/internal/functions"
	"github.com/cuongbtq/labbox-api/internal/session"
	"github.com/cuongbtq/labbox-api/internal/worker"
	"github.com/cuongbtq/labbox-api/internal/worker/storage"
	"github.com/cuongbtq/labbox-api/shared/logger"
	"github.com/cuongbtq/labbox-api/shared/postgresql"
	"github.com/cuongbtq/labbox-api/shared/rabbitmq"
	"github.com/cuongbtq/labbox-api/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("LABBOX_API_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/labbox-api/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting labbox API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	healthChecks := make(map[string]handler.HealthChecker)

	feedBackend, err := initFeed(&cfg.Feed, appLogger.Component("feed"), healthChecks)
	if err != nil {
		return fmt.Errorf("failed to initialize feed backend: %w", err)
	}
	defer feedBackend.Close()

	appLogger.Info("Feed backend ready", slog.String("backend", cfg.Feed.Backend))

	var (
		dbClient     *postgresql.Client
		rabbitClient *rabbitmq.Client
		jobStore     *storage.Storage
	)
	if cfg.Session.HasRemoteHandlers() {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		if cfg.Database.AutoMigrate {
			if err := storage.Migrate(dbClient.GetDB().DB); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			appLogger.Info("Database migrations applied")
		}

		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		jobStore = storage.NewStorage(dbClient.GetDB(), appLogger.Component("storage"))
		healthChecks["database"] = dbClient.HealthCheck
		healthChecks["rabbitmq"] = func(context.Context) error { return rabbitClient.HealthCheck() }

		appLogger.Info("Remote job dispatch enabled")
	}

	tasks := execution.NewRegistry()
	functions.Register(tasks)
	functions.RegisterTasks(tasks)

	laneDeps := worker.LaneDeps{
		Tasks:           tasks,
		StatusTimeout:   cfg.Worker.StatusTimeout,
		DispatchTimeout: cfg.Worker.DispatchTimeout,
		TimeoutSeconds:  int(cfg.Worker.JobTimeout.Seconds()),
		Logger:          appLogger.Component("lanes"),
	}
	if jobStore != nil {
		laneDeps.Store = jobStore
		laneDeps.Publisher = rabbitClient
	}

	lanes, err := worker.BuildLanes(laneSpecs(&cfg.Session), laneDeps)
	if err != nil {
		return fmt.Errorf("failed to build job handlers: %w", err)
	}
	defer lanes.Close()

	appLogger.Info("Job handlers ready", slog.Any("handlers", lanes.Names()))

	nodeID := cfg.Session.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	deps := &handler.Dependencies{
		Logger: appLogger.Logger,
		Session: session.Config{
			NodeID:          nodeID,
			DefaultFeedName: cfg.Session.DefaultFeedName,
			LabboxConfig:    labboxConfig(&cfg.Session),
			WatchPollBudget: cfg.Session.WatchPollBudget,
			Functions:       execution.NewExecutor(tasks),
			Lanes:           lanes,
			Feed:            feedBackend,
		},
		IterateInterval: cfg.Server.IterateInterval,
		Feed:            feedBackend,
		HealthChecks:    healthChecks,
	}
	if jobStore != nil {
		deps.Jobs = jobStore
	}

	r := initRouter(cfg.App.Environment, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.String("node_id", nodeID),
		slog.Duration("iterate_interval", cfg.Server.IterateInterval),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked WebSocket connections
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// initFeed opens the configured feed/store backend
func initFeed(cfg *config.FeedConfig, logger *slog.Logger, checks map[string]handler.HealthChecker) (feed.Backend, error) {
	if cfg.Backend == config.FeedBackendMemory {
		return memory.New(), nil
	}

	redisCfg, err := redis.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Addr != "" {
		redisCfg.Addr = cfg.Redis.Addr
	}
	if cfg.Redis.Password != "" {
		redisCfg.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		redisCfg.DB = cfg.Redis.DB
	}
	if cfg.Redis.KeyPrefix != "" {
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
	}

	client, err := redis.NewClient(redisCfg, logger)
	if err != nil {
		return nil, err
	}

	backend, err := redisfeed.New(redisfeed.Config{
		Client:    client.GetClient(),
		KeyPrefix: client.KeyPrefix(),
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	checks["redis"] = func(ctx context.Context) error {
		return client.GetClient().Ping(ctx).Err()
	}
	return backend, nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,

		ConnectAttempts:      cfg.ConnectAttempts,
		ConnectRetryInterval: cfg.ConnectRetryInterval,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

func laneSpecs(cfg *config.SessionConfig) []worker.LaneSpec {
	names := cfg.HandlerNames()
	specs := make([]worker.LaneSpec, 0, len(names))
	for _, name := range names {
		h := cfg.JobHandlers[name]
		specs = append(specs, worker.LaneSpec{
			Name:      name,
			Kind:      execution.LaneKind(h.Type),
			Capacity:  h.Capacity,
			QueueSize: h.QueueSize,
		})
	}
	return specs
}

// labboxConfig is the handler summary reported to clients in serverInfo
func labboxConfig(cfg *config.SessionConfig) session.LabboxConfig {
	out := session.LabboxConfig{
		ComputeResourceURI: cfg.ComputeResourceURI,
		JobHandlers:        make(map[string]session.JobHandlerInfo, len(cfg.JobHandlers)),
	}
	for name, h := range cfg.JobHandlers {
		out.JobHandlers[name] = session.JobHandlerInfo{Type: h.Type, Capacity: h.Capacity}
	}
	return out
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
