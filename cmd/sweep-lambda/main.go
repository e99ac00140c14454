// The sweep lambda runs the due-buffer sweep on an EventBridge
// schedule, for deployments that do not keep a resident flush worker.
// Flushing itself still happens in the queue consumer; the lambda only
// finds overdue buffers and enqueues their flush jobs.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/echoposthq/echopost/cmd/mainconfig"
	"github.com/echoposthq/echopost/internal/app/bootstrap"
	"github.com/echoposthq/echopost/internal/buffer"
	appconfig "github.com/echoposthq/echopost/internal/config"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/pkg/logging"
)

type sweepResponse struct {
	Enqueued int `json:"enqueued"`
}

type bufferSweeper interface {
	RunOnce(ctx context.Context, now time.Time) (int, error)
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	store := buffer.NewStore(dynamoClient, cfg.BuffersTable, logger)
	queue, _ := bootstrap.BuildQueue(cfg, awsCfg, logger)

	sweeper := buffer.NewSweeper(buffer.SweeperConfig{
		Store:       store,
		Publisher:   jobs.NewPublisher(queue),
		QuietWindow: cfg.QuietWindow,
		MaxAge:      cfg.BufferMaxAge,
		Logger:      logger,
	})

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (sweepResponse, error) {
		return handle(ctx, sweeper, logger, evt)
	})
}

func handle(ctx context.Context, sweeper bufferSweeper, logger *logging.Logger, evt events.CloudWatchEvent) (sweepResponse, error) {
	enqueued, err := sweeper.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		logger.Error("scheduled sweep failed", "error", err, "event_id", evt.ID)
		return sweepResponse{}, err
	}
	if enqueued > 0 {
		logger.Info("scheduled sweep enqueued flushes", "count", enqueued, "event_id", evt.ID)
	}
	return sweepResponse{Enqueued: enqueued}, nil
}
