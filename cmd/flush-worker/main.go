package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/echoposthq/echopost/cmd/mainconfig"
	"github.com/echoposthq/echopost/internal/app/bootstrap"
	"github.com/echoposthq/echopost/internal/buffer"
	"github.com/echoposthq/echopost/internal/chatwoot"
	appconfig "github.com/echoposthq/echopost/internal/config"
	"github.com/echoposthq/echopost/internal/conversation"
	"github.com/echoposthq/echopost/internal/intent"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/notes"
	"github.com/echoposthq/echopost/internal/notify"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/internal/pipeline"
	"github.com/echoposthq/echopost/internal/profiles"
	"github.com/echoposthq/echopost/internal/storage"
	"github.com/echoposthq/echopost/internal/transcribe"
	"github.com/echoposthq/echopost/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting echopost flush worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.ChatwootBaseURL) == "" || strings.TrimSpace(cfg.ChatwootAPIToken) == "" {
		logger.Error("CHATWOOT_BASE_URL and CHATWOOT_API_TOKEN are required")
		os.Exit(1)
	}
	if cfg.UseMemoryQueue {
		logger.Error("flush worker needs SQS; the memory queue only works inside cmd/api")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	notesDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open notes database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = notesDB.Close() }()

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	var buffers buffer.Buffers = buffer.NewStore(dynamoClient, cfg.BuffersTable, logger)
	var states conversation.States = conversation.NewStore(dynamoClient, cfg.ConversationsTable, logger)
	profileStore := profiles.NewStore(pool)
	orderStore := orders.NewStore(pool)

	queue, _ := bootstrap.BuildQueue(cfg, awsCfg, logger)
	publisher := jobs.NewPublisher(queue)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	provisioner := storage.NewProvisioner(storage.ProvisionerConfig{
		S3:     s3.NewFromConfig(awsCfg),
		Cache:  storage.NewRedisCache(redisClient, cfg.BucketCacheTTL),
		Region: cfg.AWSRegion,
		Logger: logger,
	})

	chatwootClient := chatwoot.NewClient(chatwoot.ClientConfig{
		BaseURL:   cfg.ChatwootBaseURL,
		APIToken:  cfg.ChatwootAPIToken,
		AccountID: cfg.ChatwootAccountID,
		Logger:    logger,
	})
	gate := notify.NewGate(chatwootClient, profileStore, nil, logger)
	dispatcher := orders.NewDispatcher(orderStore, publisher, logger)
	noteService := notes.NewService(notesDB, provisioner, logger)

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
		Logger:      logger,
		QuietWindow: cfg.QuietWindow,
		Required:    cfg.OrderRequiredFields,
	})
	ready := pipeline.NewReadyNotifier(orderStore, gate, nil, logger)
	worker := pipeline.NewWorker(queue, flusher, ready, logger)

	sweeper := buffer.NewSweeper(buffer.SweeperConfig{
		Store:       buffers,
		Publisher:   publisher,
		QuietWindow: cfg.QuietWindow,
		MaxAge:      cfg.BufferMaxAge,
		Logger:      logger,
	})

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("worker stopped", "error", err)
		}
	}()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				flushed, err := sweeper.RunOnce(ctx, now.UTC())
				if err != nil && ctx.Err() == nil {
					logger.Warn("sweep failed", "error", err)
					continue
				}
				if flushed > 0 {
					logger.Info("sweep enqueued flushes", "count", flushed)
				}
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down flush worker...")
	cancel()

	shutdownTimer := time.NewTimer(30 * time.Second)
	defer shutdownTimer.Stop()
	for _, done := range []<-chan struct{}{workerDone, sweepDone} {
		select {
		case <-done:
		case <-shutdownTimer.C:
			logger.Error("flush worker shutdown timed out")
			return
		}
	}
	logger.Info("flush worker stopped")
}
