package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echoposthq/echopost/cmd/mainconfig"
	"github.com/echoposthq/echopost/internal/api/router"
	"github.com/echoposthq/echopost/internal/app/bootstrap"
	"github.com/echoposthq/echopost/internal/buffer"
	"github.com/echoposthq/echopost/internal/chatwoot"
	appconfig "github.com/echoposthq/echopost/internal/config"
	"github.com/echoposthq/echopost/internal/conversation"
	"github.com/echoposthq/echopost/internal/events"
	"github.com/echoposthq/echopost/internal/http/handlers"
	"github.com/echoposthq/echopost/internal/identity"
	"github.com/echoposthq/echopost/internal/intent"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/notes"
	"github.com/echoposthq/echopost/internal/notify"
	"github.com/echoposthq/echopost/internal/observability/metrics"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/internal/pipeline"
	"github.com/echoposthq/echopost/internal/profiles"
	"github.com/echoposthq/echopost/internal/storage"
	"github.com/echoposthq/echopost/internal/transcribe"
	"github.com/echoposthq/echopost/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting echopost API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	metricsHandler, pipelineMetrics := setupMetrics()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	notesDB := openNotesDB(cfg.DatabaseURL, logger)
	if notesDB == nil {
		logger.Error("failed to open notes database")
		os.Exit(1)
	}
	defer func() { _ = notesDB.Close() }()

	if strings.TrimSpace(cfg.ChatwootBaseURL) == "" || strings.TrimSpace(cfg.ChatwootAPIToken) == "" {
		logger.Error("CHATWOOT_BASE_URL and CHATWOOT_API_TOKEN are required")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Stores
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	var buffers buffer.Buffers = buffer.NewStore(dynamoClient, cfg.BuffersTable, logger)
	var states conversation.States = conversation.NewStore(dynamoClient, cfg.ConversationsTable, logger)
	eventStore := events.NewStore(pool)
	identityStore := identity.NewStore(pool)
	profileStore := profiles.NewStore(pool)
	orderStore := orders.NewStore(pool)

	// Queue
	queue, memoryQueue := bootstrap.BuildQueue(cfg, awsCfg, logger)
	publisher := jobs.NewPublisher(queue)

	// Object storage
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	s3Client := s3.NewFromConfig(awsCfg)
	provisioner := storage.NewProvisioner(storage.ProvisionerConfig{
		S3:     s3Client,
		Cache:  storage.NewRedisCache(redisClient, cfg.BucketCacheTTL),
		Region: cfg.AWSRegion,
		Logger: logger,
	})

	// Outbound and pipeline services
	chatwootClient := chatwoot.NewClient(chatwoot.ClientConfig{
		BaseURL:   cfg.ChatwootBaseURL,
		APIToken:  cfg.ChatwootAPIToken,
		AccountID: cfg.ChatwootAccountID,
		Logger:    logger,
	})
	gate := notify.NewGate(chatwootClient, profileStore, pipelineMetrics, logger)
	resolver := identity.NewResolver(identity.ResolverConfig{
		Store:        identityStore,
		Profiles:     profileStore,
		BucketPrefix: cfg.BucketPrefix,
		CacheTTL:     cfg.IdentityCacheTTL,
		Logger:       logger,
	})
	dispatcher := orders.NewDispatcher(orderStore, publisher, logger)
	noteService := notes.NewService(notesDB, provisioner, logger)

	intake := pipeline.NewIntake(pipeline.IntakeConfig{
		Buffers:    buffers,
		Events:     eventStore,
		Identity:   resolver,
		Objects:    provisioner,
		States:     states,
		Publisher:  publisher,
		Gate:       gate,
		Dispatcher: dispatcher,
		Metrics:    pipelineMetrics,
		Logger:     logger,
		MaxCount:   cfg.BufferMaxMessages,
		MaxAge:     cfg.BufferMaxAge,
	})

	sweeper := buffer.NewSweeper(buffer.SweeperConfig{
		Store:       buffers,
		Publisher:   publisher,
		QuietWindow: cfg.QuietWindow,
		MaxAge:      cfg.BufferMaxAge,
		Logger:      logger,
	})

	// Initialize handlers
	webhookHandler := handlers.NewChatwootWebhookHandler(handlers.ChatwootWebhookConfig{
		Pipeline: intake,
		Token:    cfg.ChatwootWebhookToken,
		Metrics:  pipelineMetrics,
		Logger:   logger,
	})
	adminHandler := handlers.NewAdminHandler(handlers.AdminConfig{
		Buffers: buffers,
		States:  states,
		Orders:  orderStore,
		Notes:   noteService,
		Sweeper: sweeper,
		Retrier: dispatcher,
		Logger:  logger,
	})

	// Setup router
	r := router.New(&router.Config{
		Logger:               logger,
		ChatwootWebhook:      webhookHandler,
		Admin:                adminHandler,
		MetricsHandler:       metricsHandler,
		AdminAuthSecret:      cfg.AdminJWTSecret,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		WebhookRatePerSecond: cfg.WebhookRatePerSecond,
		WebhookBurst:         cfg.WebhookBurst,
	})

	// With the memory queue there is no separate worker process, so
	// flushes and sweeps run inline.
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	var inlineDone <-chan struct{}
	if memoryQueue != nil {
		openaiClient := bootstrap.BuildOpenAI(cfg, logger)
		flusher := pipeline.NewFlusher(pipeline.FlusherConfig{
			Buffers:     buffers,
			States:      states,
			Classifier:  intent.NewClassifier(openaiClient, cfg.OpenAIModel, logger),
			Transcriber: transcribe.New(openaiClient, cfg.WhisperModel, logger),
			Attachments: chatwootClient,
			Objects:     provisioner,
			Preferences: profileStore,
			Notes:       noteService,
			Dispatcher:  dispatcher,
			Gate:        gate,
			Metrics:     pipelineMetrics,
			Logger:      logger,
			QuietWindow: cfg.QuietWindow,
			Required:    cfg.OrderRequiredFields,
		})
		ready := pipeline.NewReadyNotifier(orderStore, gate, pipelineMetrics, logger)
		worker := pipeline.NewWorker(memoryQueue, flusher, ready, logger)
		inlineDone = startInlineWorker(workerCtx, worker, sweeper, cfg.SweepInterval, logger)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	workerCancel()
	if inlineDone != nil {
		select {
		case <-inlineDone:
		case <-time.After(10 * time.Second):
			logger.Warn("inline worker shutdown timed out")
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// setupMetrics registers the pipeline metrics on a fresh registry and
// returns the scrape handler alongside them.
func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, pipelineMetrics
}

// connectPostgresPool opens the pgx pool shared by the identity,
// profile, order and event stores. An empty URL returns nil.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not reachable at startup", "error", err)
	}
	return pool
}

// openNotesDB opens the database/sql handle the notes store uses.
func openNotesDB(databaseURL string, logger *logging.Logger) *sql.DB {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Error("failed to open notes database", "error", err)
		return nil
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db
}

// startInlineWorker runs the flush worker and the due-buffer sweep in
// process. The returned channel closes once both loops exit.
func startInlineWorker(ctx context.Context, worker *pipeline.Worker, sweeper *buffer.Sweeper, interval time.Duration, logger *logging.Logger) <-chan struct{} {
	if worker == nil {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		sweepDone := make(chan struct{})
		go func() {
			defer close(sweepDone)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if sweeper == nil {
						continue
					}
					if _, err := sweeper.RunOnce(ctx, now.UTC()); err != nil && ctx.Err() == nil {
						logger.Warn("inline sweep failed", "error", err)
					}
				}
			}
		}()

		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("inline worker stopped", "error", err)
		}
		<-sweepDone
	}()
	return done
}
