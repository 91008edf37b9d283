package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/api"
	"github.com/kbiz-labs/bizalim/internal/catalog"
	"github.com/kbiz-labs/bizalim/internal/circuitbreaker"
	"github.com/kbiz-labs/bizalim/internal/config"
	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/events"
	"github.com/kbiz-labs/bizalim/internal/match"
	"github.com/kbiz-labs/bizalim/internal/metrics"
	"github.com/kbiz-labs/bizalim/internal/notify"
	"github.com/kbiz-labs/bizalim/internal/observ"
	"github.com/kbiz-labs/bizalim/internal/redis"
	"github.com/kbiz-labs/bizalim/internal/scheduler"
	"github.com/kbiz-labs/bizalim/internal/task"
	"github.com/kbiz-labs/bizalim/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// kakaoLimiter adapts the sliding-window limiter to the boolean contract the
// Kakao sender expects.
type kakaoLimiter struct {
	limiter *redis.RateLimiter
}

func (l *kakaoLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := l.limiter.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting bizalim gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize stores
	tasks := db.NewTaskStore(database, logger)
	queue := db.NewMessageQueue(database, logger)
	ledger := db.NewSentLedger(database, logger)
	settings := db.NewSettingsStore(database, logger)
	checkpoints := db.NewCheckpointStore(database, logger)

	// Initialize Redis for the duplicate-send guard and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, send guard and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var sendGuard *redis.SendGuard
	var apiLimiter *redis.RateLimiter
	var senderLimiter worker.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()

		sendGuard = redis.NewSendGuard(redisClient, logger)
		apiLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per caller
		})
		if cfg.KakaoRateLimit > 0 {
			senderLimiter = &kakaoLimiter{limiter: redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.KakaoRateLimit,
				Window: 1 * time.Minute,
			})}
		}
	}

	// Initialize SQS event publisher
	var publisher *events.Publisher
	if cfg.SQSEventsQueueURL != "" {
		publisher, err = events.NewPublisher(ctx, events.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSEventsQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs publisher unavailable, pipeline events disabled",
				zap.Error(err),
			)
			publisher = nil
		}
	}

	// Kakao delivery behind a circuit breaker. An empty app key keeps the
	// sender in simulated mode, which is how development environments run.
	kakaoSender := worker.NewKakaoSender(worker.KakaoConfig{
		BaseURL: cfg.KakaoAPIBaseURL,
		AppKey:  cfg.KakaoAppKey,
		Timeout: time.Duration(cfg.KakaoTimeoutSec) * time.Second,
	}, settings, senderLimiter, logger)

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("kakao"), logger)
	sender := circuitbreaker.NewProtectedSender(kakaoSender, breaker, logger)

	logger.Info("kakao sender initialized",
		zap.Bool("simulated", cfg.KakaoAppKey == ""),
		zap.Bool("rate_limited", senderLimiter != nil),
	)

	var guard worker.Guard
	if sendGuard != nil {
		guard = sendGuard
	}

	drainer := worker.NewDrainer(queue, ledger, sender, guard, worker.Config{
		BatchSize:  cfg.QueueBatchSize,
		MaxRetries: cfg.DeliveryMaxRetries,
	}, logger)

	// Matching and generation
	engine := match.NewEngine(settings, ledger, logger)
	generator := notify.NewGenerator(queue, logger)

	catalogClient := catalog.NewClient(catalog.Config{
		BaseURL:  cfg.CatalogBaseURL,
		APIKey:   cfg.CatalogAPIKey,
		Timeout:  time.Duration(cfg.CatalogTimeoutSec) * time.Second,
		PageSize: cfg.CatalogPageSize,
	}, logger)

	// Task orchestrator
	var eventPublisher task.EventPublisher
	if publisher != nil {
		eventPublisher = publisher
	}

	orchestrator := task.New(tasks, catalogClient, checkpoints, engine, generator, drainer, eventPublisher, task.Config{
		MaxRetries:     cfg.TaskMaxRetries,
		RetentionDays:  cfg.TaskRetentionDays,
		DrainBatchSize: cfg.QueueBatchSize,
		MatchParams: match.Params{
			MinScore:       cfg.MinMatchScore,
			RegionWeight:   cfg.RegionWeight,
			CategoryWeight: cfg.CategoryWeight,
			CheckSent:      true,
		},
	}, logger)

	// Optional internal cron; most deployments trigger /v1/scheduler externally
	if cfg.SchedulerEnabled {
		sched := scheduler.New(orchestrator, cfg.SchedulerIntervalMin, cfg.SchedulerDrainMax, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
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
	})

	// API routes
	handler := api.NewHandler(logger, orchestrator, tasks, queue)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(apiLimiter, logger, api.IPKeyFunc))
		r.Use(api.BearerAuth(cfg.CronSecret, logger))

		r.Post("/scheduler", handler.RunScheduler)
		r.Get("/tasks/{id}", handler.GetTask)
		r.Get("/queue/stats", handler.GetQueueStats)
	})

	// Health check
	r.Get("/health", handler.Health)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
