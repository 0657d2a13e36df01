package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/dispatcher"
	"github.com/cuongbtq/vidgen/internal/api/events"
	"github.com/cuongbtq/vidgen/internal/api/handler"
	"github.com/cuongbtq/vidgen/internal/api/metrics"
	"github.com/cuongbtq/vidgen/internal/api/registry"
	"github.com/cuongbtq/vidgen/internal/api/render"
	"github.com/cuongbtq/vidgen/internal/api/router"
	"github.com/cuongbtq/vidgen/internal/api/storage"
	"github.com/cuongbtq/vidgen/internal/api/watcher"
	"github.com/cuongbtq/vidgen/internal/config"
	"github.com/cuongbtq/vidgen/shared/logger"
	"github.com/cuongbtq/vidgen/shared/postgresql"
	"github.com/cuongbtq/vidgen/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
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
	appLog := appLogger.Logger

	appLog.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	if err := os.MkdirAll(cfg.Watcher.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to prepare output directory: %w", err)
	}

	// root context for everything that outlives a request
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	var background sync.WaitGroup

	m := metrics.New()
	regOpts := []registry.Option{
		registry.WithLogger(appLog),
		registry.WithNotifier(m),
	}

	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLog)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		publisher := events.NewPublisher(rabbitClient, events.WithLogger(appLog))
		regOpts = append(regOpts, registry.WithNotifier(publisher))
		background.Add(1)
		go func() {
			defer background.Done()
			publisher.Run(rootCtx)
		}()
		appLog.Info("Job events enabled", slog.String("exchange", cfg.RabbitMQ.Exchange.Name))
	}

	reg := registry.New(regOpts...)
	m.TrackJobs(reg.CountByStatus)

	background.Add(1)
	go func() {
		defer background.Done()
		reg.RunSweeper(rootCtx, cfg.Registry.SweepInterval, cfg.Registry.MaxAge)
	}()

	renderClient := render.NewClient(render.Config{
		BaseURL:      cfg.Render.BaseURL,
		GeneratePath: cfg.Render.GeneratePath,
		HealthPath:   cfg.Render.HealthPath,
		Timeout:      cfg.Render.Timeout,
	})

	w := watcher.New(reg, watcher.Config{
		OutputDir: cfg.Watcher.OutputDir,
		Interval:  cfg.Watcher.Interval,
		Deadline:  cfg.Watcher.Deadline,
	}, appLog, m)

	d := dispatcher.New(reg, renderClient, w, dispatcher.Config{
		BaseName:             cfg.Render.FilenameBase,
		PrefixField:          cfg.Render.PrefixField,
		HardFailClientErrors: cfg.Render.HardFailClientErrors,
	},
		dispatcher.WithBaseContext(rootCtx),
		dispatcher.WithLogger(appLog),
		dispatcher.WithMetrics(m),
	)

	deps := &handler.Dependencies{
		Logger:         appLog,
		Jobs:           reg,
		Dispatcher:     d,
		Render:         renderClient,
		Metrics:        m,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	if cfg.Database.Enabled {
		dbClient, err := initPostgreSQL(rootCtx, &cfg.Database, appLog)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()
		deps.History = storage.NewStorage(dbClient)
		appLog.Info("Job history enabled")
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(deps, router.Options{CORSAllowOrigin: cfg.Server.CORSAllowOrigin})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLog.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.String("render_backend", cfg.Render.BaseURL),
			slog.String("output_dir", cfg.Watcher.OutputDir),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLog.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(ctx)
	if shutdownErr != nil {
		appLog.Error("Server forced to shutdown", slog.Any("error", shutdownErr))
	}

	// stop watchers, backend calls, the sweeper and the publisher
	cancelRoot()
	d.Wait()
	background.Wait()

	appLog.Info("Server shutdown complete")
	return shutdownErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL connects to the job history archive
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
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
	}, logger)
}

// initRabbitMQ connects a publisher; only the exchange is declared
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
