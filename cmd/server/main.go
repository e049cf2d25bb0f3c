package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/api"
	"github.com/ArtemKuhestani/Notification/internal/audit"
	"github.com/ArtemKuhestani/Notification/internal/circuitbreaker"
	"github.com/ArtemKuhestani/Notification/internal/config"
	"github.com/ArtemKuhestani/Notification/internal/db"
	"github.com/ArtemKuhestani/Notification/internal/dispatch"
	"github.com/ArtemKuhestani/Notification/internal/metrics"
	"github.com/ArtemKuhestani/Notification/internal/observ"
	"github.com/ArtemKuhestani/Notification/internal/queue"
	"github.com/ArtemKuhestani/Notification/internal/redis"
	"github.com/ArtemKuhestani/Notification/internal/scheduler"
	"github.com/ArtemKuhestani/Notification/internal/stats"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "notification-engine")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notification engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	auditRepo := db.NewAuditRepository(database, logger)

	// Redis backs idempotency and rate limiting. Both degrade to
	// disabled when it is unreachable.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency cache and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotency *redis.IdempotencyStore
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotency = redis.NewIdempotencyStore(redisClient, cfg.NotificationTTL, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		defer redisClient.Close()
	}

	var producer *queue.Producer
	if cfg.SQSQueueURL != "" {
		producer, err = queue.NewProducer(ctx, queue.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, accept events will not be enqueued",
				zap.Error(err),
			)
			producer = nil
		}
	}

	registry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(auditRepo, logger)
	callbacks := dispatch.NewCallbackNotifier(dispatch.CallbackConfig{
		Timeout: cfg.CallbackTimeout,
	}, logger)

	backoff := scheduler.Backoff(scheduler.BackoffConfig{
		Base:   cfg.BackoffBase,
		Cap:    cfg.BackoffCap,
		Jitter: cfg.BackoffJitter,
	})

	pool := dispatch.NewPool(repo, registry, recorder, callbacks, dispatch.Config{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		SendTimeout:  cfg.SendTimeout,
		LeaseTTL:     cfg.LeaseTTL,
		Backoff:      backoff,
	}, logger)

	sched := scheduler.New(repo, recorder, callbacks, scheduler.Config{
		Interval: cfg.SchedulerInterval,
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup

	bg.Add(1)
	go func() {
		defer bg.Done()
		recorder.Run(bgCtx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		pool.Start(bgCtx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := sched.Start(bgCtx); err != nil {
			logger.Error("scheduler stopped with error", zap.Error(err))
		}
	}()

	logger.Info("background workers started",
		zap.Int("dispatch_workers", cfg.WorkerCount),
		zap.Duration("scheduler_interval", cfg.SchedulerInterval),
	)

	handler := api.NewHandler(api.HandlerConfig{
		Logger:      logger,
		Repo:        repo,
		Audit:       auditRepo,
		Recorder:    recorder,
		Dashboards:  stats.NewAggregator(repo, stats.DefaultWindow),
		Idempotency: idempotency,
		Producer:    producer,
		Callbacks:   callbacks,
		Pinger:      database,
		MaxRetries:  cfg.MaxRetries,
		TTL:         cfg.NotificationTTL,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))
	r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.CallerKeyFunc))

	handler.Routes(r)
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		bgCancel()
		bg.Wait()
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			bgCancel()
			bg.Wait()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Workers finish their in-flight sends before we return.
		bgCancel()
		bg.Wait()
		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildRegistry wires one adapter per configured channel, each behind
// its own circuit breaker. Unconfigured channels fail sends with a
// permanent error.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dispatch.Registry, error) {
	var adapters []dispatch.Adapter

	protect := func(a dispatch.Adapter) dispatch.Adapter {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(a.Channel()), logger)
		return dispatch.Protect(a, breaker, logger)
	}

	ses, err := dispatch.NewSESAdapter(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create email adapter: %w", err)
	}
	adapters = append(adapters, protect(ses))

	sns, err := dispatch.NewSNSAdapter(ctx, dispatch.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("sns adapter unavailable, sms channel disabled", zap.Error(err))
	} else {
		adapters = append(adapters, protect(sns))
	}

	if cfg.TelegramBotToken != "" {
		tg, err := dispatch.NewTelegramAdapter(dispatch.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
		}, logger)
		if err != nil {
			logger.Warn("telegram adapter unavailable, telegram channel disabled", zap.Error(err))
		} else {
			adapters = append(adapters, protect(tg))
		}
	} else {
		logger.Info("telegram bot token not set, telegram channel disabled")
	}

	if cfg.TwilioAccountSID != "" {
		wa, err := dispatch.NewWhatsAppAdapter(dispatch.WhatsAppConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioWhatsAppFrom,
		}, logger)
		if err != nil {
			logger.Warn("whatsapp adapter unavailable, whatsapp channel disabled", zap.Error(err))
		} else {
			adapters = append(adapters, protect(wa))
		}
	} else {
		logger.Info("twilio credentials not set, whatsapp channel disabled")
	}

	return dispatch.NewRegistry(adapters...), nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
