package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/webhook"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver, admin API, job workers and poll scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// server holds the pieces brought up by the startup sequence.
type server struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlDB     *sqlx.DB
	core      *core
	redis     *redis.Client
	runner    queue.Runner
	scheduler *scheduler.Scheduler
	checker   *health.Checker
	http      *http.Server
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, zapLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	s := &server{cfg: cfg, logger: logger}
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	for _, dep := range s.dependencies() {
		boot.AddDependency(dep)
	}

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		_ = boot.Stop(context.Background())
		return err
	}
	logger.Infof("%s listening on :%d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = boot.Stop(shutdownCtx)
	if tracingErr := shutdownTracing(shutdownCtx); tracingErr != nil {
		logger.WithError(tracingErr).Warn("Failed to flush traces")
	}
	return err
}

func (s *server) dependencies() []*startup.Dependency {
	deps := []*startup.Dependency{
		{
			Name:      "database",
			StartFunc: s.startDatabase,
			StopFunc: func(context.Context) error {
				return s.sqlDB.Close()
			},
		},
		{
			Name:     "core",
			Requires: []string{"database"},
			StartFunc: func(context.Context) error {
				s.core = newCore(s.cfg, s.sqlDB, s.logger)
				return nil
			},
			StopFunc: func(context.Context) error {
				return s.core.Close()
			},
		},
	}

	queueRequires := []string{"core"}
	if s.cfg.RedisEnabled {
		deps = append(deps, &startup.Dependency{
			Name:      "redis",
			StartFunc: s.startRedis,
			StopFunc: func(context.Context) error {
				return s.redis.Close()
			},
		})
		queueRequires = append(queueRequires, "redis")
	}

	deps = append(deps, &startup.Dependency{
		Name:      "queue",
		Requires:  queueRequires,
		StartFunc: s.startQueue,
		StopFunc: func(ctx context.Context) error {
			return s.runner.Stop(ctx)
		},
	})

	httpRequires := []string{"queue"}
	if s.cfg.SchedulerEnabled {
		deps = append(deps, &startup.Dependency{
			Name:      "scheduler",
			Requires:  []string{"core"},
			StartFunc: s.startScheduler,
			StopFunc: func(ctx context.Context) error {
				return s.scheduler.Stop(ctx)
			},
		})
		httpRequires = append(httpRequires, "scheduler")
	}

	deps = append(deps, &startup.Dependency{
		Name:      "http",
		Requires:  httpRequires,
		StartFunc: s.startHTTP,
		StopFunc: func(ctx context.Context) error {
			s.checker.SetReady(false)
			return s.http.Shutdown(ctx)
		},
	})

	return deps
}

func (s *server) startDatabase(ctx context.Context) error {
	db, err := connectDatabase(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	if err := migrateDatabase(s.cfg, db, s.logger); err != nil {
		_ = db.Close()
		return err
	}
	s.sqlDB = db
	return nil
}

func (s *server) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     s.cfg.RedisHost,
		Port:     s.cfg.RedisPort,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	}, s.logger)
	if err != nil {
		return err
	}
	s.redis = client
	return nil
}

func (s *server) startQueue(ctx context.Context) error {
	jobs := webhook.NewProcessor(s.core.orchestrator, s.core.connections, s.core.objects, s.logger)

	if s.redis != nil {
		s.runner = queue.NewProcessor(
			redis.NewStreams(s.redis),
			redis.NewDeadLetterQueue(s.redis, s.cfg.QueueDLQStream, s.logger),
			jobs,
			queue.ProcessorConfig{
				Stream:        s.cfg.QueueStream,
				ConsumerGroup: s.cfg.QueueConsumerGroup,
				ConsumerName:  s.cfg.QueueConsumerName,
				MaxRetries:    s.cfg.QueueMaxRetries,
				ClaimMinIdle:  s.cfg.QueueClaimMinIdle,
				WorkerCount:   s.cfg.QueueWorkerCount,
				JobTimeout:    s.cfg.QueueJobTimeout,
			},
			s.logger,
		)
	} else {
		s.logger.Warn("Redis disabled, webhook jobs run on the in-process pool and do not survive restarts")
		s.runner = queue.NewLocalPool(jobs, queue.LocalConfig{
			WorkerCount: s.cfg.QueueWorkerCount,
			MaxRetries:  s.cfg.QueueMaxRetries,
			JobTimeout:  s.cfg.QueueJobTimeout,
		}, s.logger)
	}

	jobs.SetQueue(s.runner)
	return s.runner.Start(ctx)
}

func (s *server) startScheduler(ctx context.Context) error {
	var locker scheduler.Locker
	if s.redis != nil {
		locker = redis.NewLocker(s.redis, "")
	}

	sched, err := scheduler.NewScheduler(s.core.orchestrator, locker, scheduler.Config{
		Schedule: s.cfg.PollSchedule,
		LockTTL:  s.cfg.PollLockTTL,
	}, s.logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	s.scheduler = sched
	return nil
}

func (s *server) startHTTP(context.Context) error {
	redisProbe := health.Probe{Name: "redis", Critical: true}
	if s.redis != nil {
		redisProbe.Ping = s.redis.Ping
	}
	s.checker = health.NewChecker(s.cfg.Version,
		health.Probe{Name: "database", Ping: s.sqlDB.PingContext, Critical: true},
		redisProbe,
		health.Probe{Name: "integration_platform", Ping: s.core.platform.Ping},
	)

	e := s.newEcho()

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(s.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	s.checker.SetReady(true)
	return nil
}

func (s *server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(s.logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(s.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(s.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: s.cfg.AllowOrigins}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.checker.RegisterRoutes(e)

	webhook.NewHandler(webhook.NewVerifier(s.cfg.WebhookSecret), s.runner, s.cfg.WebhookSignatureHeader, s.logger).RegisterRoutes(e)

	renderer := mapping.NewRenderer()
	api := e.Group("/api/v1")
	handlers.NewObjectHandler(s.core.objects, s.core.mappings, renderer, s.logger).RegisterRoutes(api)
	handlers.NewSyncConfigHandler(s.core.syncConfigs, s.core.gate, s.core.registry).RegisterRoutes(api)
	handlers.NewSchemaMappingHandler(s.core.mappings, renderer).RegisterRoutes(api)
	handlers.NewSyncHandler(s.runner, s.logger).RegisterRoutes(api)
	handlers.NewDLQHandler(s.runner, s.logger).RegisterRoutes(api)

	return e
}
