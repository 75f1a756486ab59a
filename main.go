package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"playzone-consent/config"
	"playzone-consent/consumer"
	"playzone-consent/handlers"
	"playzone-consent/middleware"
	"playzone-consent/models"
	"playzone-consent/monitoring"
	"playzone-consent/utils"
	"playzone-consent/wizard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SentryDSN != "" {
		if err := utils.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.AppVersion); err != nil {
			logger.Warn("Sentry disabled", "error", err)
		} else {
			defer utils.FlushSentry()
		}
	}
	monitoring.Init()

	redisClient, err := utils.Connect(ctx, "redis", cfg.ConnectRetries, cfg.ConnectRetryDelay, func() (utils.RedisClient, error) {
		return utils.NewRedisClient(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing Redis connection", "error", err)
		}
	}()

	repo, err := utils.Connect(ctx, "postgres", cfg.ConnectRetries, cfg.ConnectRetryDelay, func() (*models.PostgresRepository, error) {
		return models.NewPostgresRepository(cfg.DB.DSN())
	})
	if err != nil {
		return err
	}
	defer repo.Close()

	var kafkaProducer utils.KafkaProducer
	if cfg.KafkaBroker != "" {
		p, err := utils.NewKafkaProducer(cfg.KafkaBroker)
		if err != nil {
			logger.Warn("Kafka disabled", "error", err)
		} else {
			kafkaProducer = p
			defer kafkaProducer.Close()
		}
	}

	var esClient utils.ElasticsearchClient
	if cfg.ElasticsearchURL != "" {
		es, err := utils.NewElasticsearchClient(cfg.ElasticsearchURL, cfg.ConsentIndex)
		if err != nil {
			logger.Warn("Elasticsearch disabled", "error", err)
		} else {
			esClient = es
		}
	}

	if kafkaProducer != nil && esClient != nil {
		indexer := consumer.NewConsentConsumer(
			consumer.NewKafkaReader(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID),
			esClient, redisClient, logger,
		)
		indexer.Start(ctx)
		defer indexer.Stop()
	}

	var signatures utils.SignatureStore = utils.InlineSignatureStore{}
	if cfg.CloudinaryURL != "" {
		s, err := utils.NewCloudinarySignatureStore(cfg.CloudinaryURL, "consent-signatures")
		if err != nil {
			logger.Warn("Cloudinary disabled, storing signatures inline", "error", err)
		} else {
			signatures = s
		}
	}

	location, _ := time.LoadLocation(cfg.FacilityTimezone)
	consentHandler := handlers.NewConsentHandler(repo, redisClient, kafkaProducer, esClient, signatures, handlers.ConsentHandlerOptions{
		Topic:    cfg.KafkaTopic,
		Location: location,
		CacheTTL: cfg.LookupCacheTTL,
		Logger:   logger,
	})

	backend, err := wizard.NewHTTPBackend(wizard.BackendOptions{BaseURL: cfg.ConsentAPIURL, Timeout: cfg.BackendTimeout}, nil)
	if err != nil {
		return err
	}
	wizardHandler := handlers.NewWizardHandler(
		utils.NewWizardSessionStore(redisClient, cfg.WizardSessionTTL),
		backend,
		wizard.Options{
			Timeout:        cfg.BackendTimeout,
			CompletionPage: cfg.CompletionPage,
			Now:            func() time.Time { return time.Now().In(location) },
			Logger:         logger,
			Observer:       monitoring.WizardObserver{},
		},
	)

	proxyHandler := handlers.NewProxyHandler(handlers.ProxyTargets{
		Consent: cfg.ConsentUpstreamURL,
		Metrics: cfg.MetricsUpstreamURL,
		Queue:   cfg.QueueUpstreamURL,
	}, cfg.CORSAllowedOrigins, logger)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(logger),
		middleware.SentryMiddleware(),
		middleware.PrometheusMetrics(),
		middleware.ErrorHandler(logger),
	)

	router.GET("/metrics", gin.WrapH(monitoring.Handler()))
	router.GET("/api/v1/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		details := gin.H{"redis": "available", "database": "available"}
		status := http.StatusOK
		if err := redisClient.Ping(hctx); err != nil {
			details["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if err := repo.Ping(hctx); err != nil {
			details["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}

		if status != http.StatusOK {
			c.JSON(status, gin.H{"status": "degraded", "details": details})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "details": details})
	})

	consentHandler.Register(router)
	wizardHandler.Register(router)
	if err := proxyHandler.Register(router); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is running", "port", cfg.Port, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
