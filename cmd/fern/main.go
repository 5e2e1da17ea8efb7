package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	changerepo "github.com/Ramsey-B/fern/internal/repositories/change"
	commentrepo "github.com/Ramsey-B/fern/internal/repositories/comment"
	conflictrepo "github.com/Ramsey-B/fern/internal/repositories/conflictrecord"
	lockrepo "github.com/Ramsey-B/fern/internal/repositories/entitylock"
	versionrepo "github.com/Ramsey-B/fern/internal/repositories/entityversion"
	participantrepo "github.com/Ramsey-B/fern/internal/repositories/participant"
	sessionrepo "github.com/Ramsey-B/fern/internal/repositories/session"
	"github.com/Ramsey-B/fern/pkg/broadcast"
	"github.com/Ramsey-B/fern/pkg/comments"
	"github.com/Ramsey-B/fern/pkg/conflict"
	"github.com/Ramsey-B/fern/pkg/coordinator"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/locks"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/presence"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/sessions"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger()
	logger.WithField("app", cfg.AppName).Info("Starting collaboration engine")

	provider, err := initTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	// Database
	sqlxDB, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	db := database.NewDatabaseInstance(sqlxDB, logger)
	defer db.Close()

	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Entity guard: cross-instance through Redis when enabled, in-process
	// otherwise
	var guard coordinator.EntityGuard
	var redisClient *redis.Client
	if cfg.RedisGuardEnabled {
		redisClient, err = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		guard = coordinator.NewRedisGuard(redis.NewLocker(redisClient, "fern:guard:"), 10*time.Second, 5*time.Second)
	} else {
		guard = coordinator.NewKeyedMutexGuard()
	}

	// Kafka event mirror
	var producer *kafka.Producer
	if cfg.KafkaProducerEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}

	// Repositories
	sessionRepo := sessionrepo.NewRepository(db, logger)
	participantRepo := participantrepo.NewRepository(db, logger)
	changeRepo := changerepo.NewRepository(db, logger)
	versionRepo := versionrepo.NewRepository(db, logger)
	lockRepo := lockrepo.NewRepository(db, logger)
	conflictRepo := conflictrepo.NewRepository(db, logger)
	commentRepo := commentrepo.NewRepository(db, logger)

	// Services
	hub := realtime.NewHub(logger)
	tracker := presence.NewTracker(hub, logger)
	sessionManager := sessions.NewManager(sessionRepo, participantRepo, hub, logger)
	coord := coordinator.NewCoordinator(sessionRepo, participantRepo, changeRepo, versionRepo, conflictRepo, conflict.NewResolver(), guard, logger)
	registry := locks.NewRegistry(lockRepo, guard, hub, cfg.LockDefaultTTL, logger)
	broadcaster := broadcast.NewBroadcaster(hub, producer, logger)
	commentSvc := comments.NewService(commentRepo, broadcaster, logger)

	sweeper := locks.NewSweeper(registry, sessionManager, tracker, locks.SweeperConfig{
		Interval:             cfg.SweepInterval,
		SessionIdleTimeout:   cfg.SessionIdleTimeout,
		PresenceStaleTimeout: cfg.PresenceStaleTimeout,
	}, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	handlers.NewHealthHandler(db, redisClient).Register(e)

	dispatcher := realtime.NewDispatcher(logger)
	clientCfg := realtime.ClientConfig{
		SendBufferSize: cfg.WSSendBufferSize,
		MaxMessageSize: cfg.WSMaxMessageSize,
		PingInterval:   cfg.WSPingInterval,
		PongTimeout:    cfg.WSPongTimeout,
		WriteTimeout:   cfg.WSWriteTimeout,
	}

	api := e.Group("/api/v1")
	handlers.NewWSHandler(hub, dispatcher, tracker, sessionManager, sessionRepo, coord, registry, commentSvc, broadcaster, clientCfg, logger).Register(api)
	handlers.NewSessionHandler(sessionManager, sessionRepo, changeRepo, conflictRepo, logger).Register(api)
	handlers.NewChangeHandler(coord, sessionRepo, changeRepo, broadcaster, logger).Register(api)
	handlers.NewVersionHandler(versionRepo, logger).Register(api)
	handlers.NewLockHandler(registry, broadcaster, logger).Register(api)
	handlers.NewCommentHandler(commentSvc, logger).Register(api)
	handlers.NewPresenceHandler(tracker, logger).Register(api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&dependency{
		name: "http-server",
		start: func(context.Context) error {
			go func() {
				if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("HTTP server stopped")
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
	if cfg.SweepEnabled {
		boot.AddDependency(&dependency{
			name:      "sweeper",
			dependsOn: []string{"http-server"},
			start:     sweeper.Start,
			stop:      sweeper.Stop,
		})
	}

	if err := boot.Start(ctx); err != nil {
		return err
	}
	logger.Infof("Listening on :%d", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// End sessions before tearing down sockets so clients hear session:ended
	if err := sessionManager.EndAllActive(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to end active sessions during shutdown")
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to stop dependencies cleanly")
	}
	hub.Close()

	return nil
}

func newLogger() ectologger.Logger {
	encoder := json.NewEncoder(os.Stdout)
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		_ = encoder.Encode(msg)
	})
}

func initTracing(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	if !cfg.OTLPEnabled {
		return tracing.Init(cfg.AppName, &exporters.ConsoleExporter{}), nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return tracing.Init(cfg.AppName, exporter), nil
}

// dependency adapts plain start/stop funcs to the startup graph
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string     { return d.name }
func (d *dependency) DependsOn() []string { return d.dependsOn }

func (d *dependency) Start(ctx context.Context) error {
	if d.start == nil {
		return nil
	}
	return d.start(ctx)
}

func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}
