package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/auth"
	"github.com/Ramsey-B/fern/pkg/automation"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/notifications"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/calendar"
	"github.com/Ramsey-B/fern/pkg/providers/gmail"
	"github.com/Ramsey-B/fern/pkg/providers/jira"
	"github.com/Ramsey-B/fern/pkg/providers/linear"
	"github.com/Ramsey-B/fern/pkg/providers/telegram"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
	fernsync "github.com/Ramsey-B/fern/pkg/sync"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/webhooks"
)

const shutdownTimeout = 30 * time.Second

// server owns the process-wide dependencies. Connections are opened by the startup
// sequence before build wires the rest.
type server struct {
	cfg            *config.Config
	logger         ectologger.Logger
	skipMigrations bool

	db                  *database.DatabaseInstance
	redis               *redis.Client
	producer            *kafka.Producer
	consumer            *kafka.Consumer
	notificationHandler *notifications.Handler
	processor           *queue.Processor
	scheduler           *scheduler.Scheduler
	checker             *health.Checker
	echo                *echo.Echo
	tracing             func(context.Context) error
}

// syncJobs breaks the router → orchestrator → router cycle: the router is built
// before the sync jobs that need it.
type syncJobs struct {
	*fernsync.Jobs
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, sync, err := loadConfig()
	if err != nil {
		return err
	}
	defer sync()

	skip, _ := cmd.Flags().GetBool("skip-migrations")
	s := &server{cfg: cfg, logger: logger, skipMigrations: skip}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.Dependency{Name: "tracing", StartFn: s.startTracing, StopFn: s.stopTracing})
	boot.AddDependency(&startup.Dependency{Name: "postgres", StartFn: s.connectDatabase, StopFn: s.closeDatabase})
	boot.AddDependency(&startup.Dependency{Name: "redis", StartFn: s.connectRedis, StopFn: s.closeRedis})
	boot.AddDependency(&startup.Dependency{Name: "app", Needs: []string{"postgres", "redis"}, StartFn: s.build, StopFn: s.closeProducer})
	boot.AddDependency(&startup.Dependency{Name: "queue", Needs: []string{"app"}, StartFn: s.startProcessor, StopFn: s.stopProcessor})
	boot.AddDependency(&startup.Dependency{Name: "notifications", Needs: []string{"app"}, StartFn: s.startConsumer, StopFn: s.stopConsumer})
	boot.AddDependency(&startup.Dependency{Name: "scheduler", Needs: []string{"app"}, StartFn: s.startScheduler, StopFn: s.stopScheduler})
	boot.AddDependency(&startup.Dependency{Name: "http", Needs: []string{"app"}, StartFn: s.startHTTP, StopFn: s.stopHTTP})

	ctx := cmd.Context()
	if err := boot.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = boot.Stop(stopCtx)
		return err
	}
	s.checker.SetReady(true)
	logger.Infof("%s %s ready on port %d", cfg.AppName, version, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down")
	s.checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return boot.Stop(stopCtx)
}

func (s *server) startTracing(ctx context.Context) error {
	var otlp *exporters.OTLPConfig
	if s.cfg.OTLPEnabled {
		otlp = &exporters.OTLPConfig{
			Endpoint: s.cfg.OTLPEndpoint,
			Protocol: s.cfg.OTLPProtocol,
			Insecure: s.cfg.OTLPInsecure,
		}
	}
	shutdown, err := tracing.Setup(ctx, s.cfg.AppName, otlp, s.logger)
	if err != nil {
		return err
	}
	s.tracing = shutdown
	return nil
}

func (s *server) stopTracing(ctx context.Context) error {
	if s.tracing == nil {
		return nil
	}
	return s.tracing(ctx)
}

func (s *server) connectDatabase(ctx context.Context) error {
	db, err := database.Open(ctx, databaseConfig(s.cfg), s.logger)
	if err != nil {
		return err
	}
	if !s.skipMigrations {
		if err := migrationService(s.cfg, s.logger).Migrate(db.DB, s.cfg.DatabaseName); err != nil {
			_ = db.Close()
			return err
		}
	}
	s.db = db
	return nil
}

func (s *server) closeDatabase(context.Context) error {
	return s.db.Close()
}

func (s *server) connectRedis(ctx context.Context) error {
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

func (s *server) closeRedis(context.Context) error {
	return s.redis.Close()
}

func (s *server) brokers() []string {
	var out []string
	for _, b := range strings.Split(s.cfg.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// build wires repositories, adapters, automation, sync and the HTTP routes
func (s *server) build(ctx context.Context) error {
	cfg, logger := s.cfg, s.logger

	configRepo := repositories.NewIntegrationConfigRepository(s.db, logger)
	interactions := repositories.NewInteractionRepository(s.db, logger)
	issues := repositories.NewTrackedIssueRepository(s.db, logger)
	store := credentials.NewStore(configRepo, logger)

	limiter := ratelimit.NewManager(s.redis, logger, ratelimit.PerMinute(cfg.ProviderRateLimit), ratelimit.PerMinute(cfg.WebhookRateLimit))
	clientConfig := httpclient.DefaultConfig()
	clientConfig.Timeout = cfg.ProviderTimeout
	client := httpclient.New(clientConfig, logger)
	tokens := auth.NewTokenManager(auth.NewGoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL), s.redis, store, logger)

	jiraAdapter := jira.New(store, client, limiter, cfg.ProviderTimeout, logger)
	linearAdapter := linear.New(store, client, limiter, cfg.ProviderTimeout, cfg.LinearURL, logger)
	telegramAdapter := telegram.New(store, client, limiter, cfg.ProviderTimeout, cfg.TelegramBaseURL, cfg.TelegramBotToken, logger)
	telephonyAdapter := telephony.New(store, client, limiter, cfg.ProviderTimeout, logger)
	gmailAdapter := gmail.New(store, tokens, limiter, cfg.ProviderTimeout, logger)
	calendarAdapter := calendar.New(store, tokens, limiter, cfg.ProviderTimeout, logger)
	registry := providers.NewRegistry(jiraAdapter, linearAdapter, telegramAdapter, telephonyAdapter, gmailAdapter, calendarAdapter)

	var rules *automation.Rules
	if cfg.AutomationRulesPath != "" {
		loaded, err := automation.LoadRules(cfg.AutomationRulesPath)
		if err != nil {
			return fmt.Errorf("failed to load automation rules: %w", err)
		}
		rules = loaded
	}

	var publisher automation.EventPublisher
	if brokers := s.brokers(); len(brokers) > 0 {
		s.producer = kafka.NewProducer(brokers, cfg.KafkaEventsTopic, logger)
		publisher = s.producer
	}

	jobs := &syncJobs{}
	router := automation.NewRouter(automation.Repositories{
		Customers:    repositories.NewCustomerRepository(s.db, logger),
		Interactions: interactions,
		Tasks:        repositories.NewTaskRepository(s.db, logger),
		Users:        repositories.NewUserRepository(s.db, logger),
	}, rules, jobs, publisher, logger)
	orchestrator := fernsync.NewOrchestrator(store, registry, s.redis, interactions, issues, router, fernsync.Options{}, logger)

	streams := redis.NewStreams(s.redis)
	dlq := redis.NewDeadLetterQueue(s.redis, redis.DefaultDLQStream, logger)
	processorConfig := queue.DefaultProcessorConfig()
	processorConfig.Stream = cfg.QueueStream
	processorConfig.ConsumerGroup = cfg.QueueConsumerGroup
	if cfg.QueueConsumerName != "" {
		processorConfig.ConsumerName = cfg.QueueConsumerName
	}
	processorConfig.WorkerCount = cfg.QueueWorkerCount
	processorConfig.MaxRetries = cfg.QueueMaxRetries
	s.processor = queue.NewProcessor(streams, dlq, processorConfig, logger)

	var enqueuer webhooks.Enqueuer
	var jobQueue fernsync.JobQueue
	if cfg.QueueEnabled {
		enqueuer = s.processor
		jobQueue = s.processor
	}
	jobs.Jobs = fernsync.NewJobs(orchestrator, jobQueue)
	normalizer := webhooks.NewNormalizer(registry, router, enqueuer, limiter, store, logger)

	s.processor.Handle(queue.JobTypeWebhookRoute, normalizer.HandleRouteJob)
	s.processor.Handle(queue.JobTypeSyncProvider, jobs.HandleSyncJob)
	s.processor.OnDeadLetter(normalizer.OnDeadLetter)

	schedulerConfig := scheduler.DefaultConfig()
	schedulerConfig.PollInterval = cfg.SchedulerPollInterval
	schedulerConfig.SyncInterval = cfg.SyncInterval
	s.scheduler = scheduler.NewScheduler(configRepo, jobs, s.redis, schedulerConfig, logger)

	dispatcher := notifications.NewDispatcher(store, telegramAdapter, logger)
	if brokers := s.brokers(); len(brokers) > 0 && cfg.KafkaConsumerEnabled {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: brokers,
			Topic:   cfg.KafkaCRMTopic,
			GroupID: cfg.KafkaConsumerGroup,
		}, logger)
		if err != nil {
			return err
		}
		s.consumer = consumer
	}

	s.checker = health.NewChecker(s.db, health.PingFunc(s.redis.Ping), version)
	if s.producer != nil {
		s.checker.Optional("kafka", s.producer)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger, handlers.MapError)
	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowOrigins, AllowMethods: cfg.AllowMethods}))
	e.Use(middleware.Context(!cfg.AuthEnabled))
	e.Use(middleware.Logger(logger))

	s.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// provider callbacks carry no bearer token
	handlers.NewWebhookHandler(normalizer, logger).RegisterRoutes(e.Group("/api/v1"))

	var authn []echo.MiddlewareFunc
	if cfg.AuthEnabled {
		verify, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return fmt.Errorf("failed to build token verifier: %w", err)
		}
		authn = append(authn, middleware.Authentication(logger, verify))
	}
	api := e.Group("/api/v1", authn...)
	handlers.NewIntegrationHandler(store, logger).RegisterRoutes(api)
	handlers.NewSyncHandler(orchestrator).RegisterRoutes(api)
	handlers.NewJiraHandler(jiraAdapter).RegisterRoutes(api)
	handlers.NewLinearHandler(linearAdapter).RegisterRoutes(api)
	handlers.NewTelegramHandler(telegramAdapter, dispatcher, cfg.WebhookBaseURL).RegisterRoutes(api)
	handlers.NewTelephonyHandler(telephonyAdapter, router, logger).RegisterRoutes(api)
	handlers.NewGoogleHandler(gmailAdapter, calendarAdapter).RegisterRoutes(api)
	handlers.NewDLQHandler(dlq, streams, s.processor.Stream(), logger).RegisterRoutes(api)

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
	s.echo = e

	s.notificationHandler = notifications.NewHandler(dispatcher)
	return nil
}

func (s *server) closeProducer(context.Context) error {
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

func (s *server) startProcessor(ctx context.Context) error {
	if !s.cfg.QueueEnabled {
		s.logger.Info("Job queue disabled, webhook events and syncs run inline")
		return nil
	}
	return s.processor.Start(ctx)
}

func (s *server) stopProcessor(ctx context.Context) error {
	if !s.cfg.QueueEnabled {
		return nil
	}
	return s.processor.Stop(ctx)
}

func (s *server) startConsumer(ctx context.Context) error {
	if s.consumer == nil {
		s.logger.Info("CRM event consumer disabled")
		return nil
	}
	return s.consumer.Start(ctx, s.notificationHandler.Handle)
}

func (s *server) stopConsumer(context.Context) error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Stop()
}

func (s *server) startScheduler(ctx context.Context) error {
	if !s.cfg.SchedulerEnabled {
		s.logger.Info("Scheduler disabled")
		return nil
	}
	return s.scheduler.Start(ctx)
}

func (s *server) stopScheduler(ctx context.Context) error {
	if !s.cfg.SchedulerEnabled {
		return nil
	}
	return s.scheduler.Stop(ctx)
}

func (s *server) startHTTP(context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (s *server) stopHTTP(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
