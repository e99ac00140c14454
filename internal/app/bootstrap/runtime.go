// Package bootstrap holds wiring shared by the binaries: Redis, the
// job queue, and the OpenAI client.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	appconfig "github.com/echoposthq/echopost/internal/config"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, bucket cache disabled", "error", err)
		return nil
	}
	return client
}

// BuildQueue returns the job queue client. With USE_MEMORY_QUEUE set it
// returns an in-process queue (second value non-nil) so cmd/api can run
// an inline worker; otherwise it returns the SQS queue.
func BuildQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (jobs.Client, *jobs.MemoryQueue) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory job queue")
		mq := jobs.NewMemoryQueue(256)
		return mq, mq
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	return jobs.NewSQSQueue(sqsClient, cfg.JobsQueueURL), nil
}

// BuildOpenAI returns the OpenAI client used for classification and
// transcription. An empty key still yields a client; calls against it
// fail and the classifier falls back to rules.
func BuildOpenAI(cfg *appconfig.Config, logger *logging.Logger) *openai.Client {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		logger.Warn("OPENAI_API_KEY not set, classification will use the rule fallback")
	}
	return openai.NewClient(cfg.OpenAIAPIKey)
}
