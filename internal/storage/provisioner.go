// Package storage provisions per-identity S3 buckets and writes raw
// message payloads and media into them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/echoposthq/echopost/pkg/logging"
)

// S3API is the subset of the S3 client the provisioner uses.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// existenceCache remembers buckets known to exist. False negatives
// only cost an extra HeadBucket, so any cache failure is ignored.
type existenceCache interface {
	Seen(ctx context.Context, bucket string) bool
	Remember(ctx context.Context, bucket string)
}

// Lifecycle transition thresholds, in days. Objects age from the
// standard class through infrequent access and Glacier into deep
// archive.
const (
	tierCoolAfterDays    = 30
	tierColdAfterDays    = 90
	tierArchiveAfterDays = 365
)

// ProvisionerConfig configures a Provisioner.
type ProvisionerConfig struct {
	S3     S3API
	Cache  existenceCache
	Region string
	Logger *logging.Logger
}

// Provisioner creates per-identity buckets on first use. Ensure is
// idempotent: "already exists" answers count as success, so concurrent
// callers never fail each other.
type Provisioner struct {
	s3     S3API
	cache  existenceCache
	region string
	logger *logging.Logger
}

func NewProvisioner(cfg ProvisionerConfig) *Provisioner {
	if cfg.S3 == nil {
		panic("storage: s3 client cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Provisioner{
		s3:     cfg.S3,
		cache:  cfg.Cache,
		region: cfg.Region,
		logger: logger.Component("storage"),
	}
}

// Ensure makes sure the bucket exists with the tiering lifecycle
// attached. Safe to call concurrently for the same bucket.
func (p *Provisioner) Ensure(ctx context.Context, bucket string) error {
	if strings.TrimSpace(bucket) == "" {
		return fmt.Errorf("storage: bucket name cannot be empty")
	}
	if p.cache != nil && p.cache.Seen(ctx, bucket) {
		return nil
	}

	_, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		p.remember(ctx, bucket)
		return nil
	}
	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("storage: head bucket %s: %w", bucket, err)
	}

	created, err := p.createBucket(ctx, bucket)
	if err != nil {
		return err
	}
	if created {
		if err := p.applyLifecycle(ctx, bucket); err != nil {
			return err
		}
		p.logger.Info("bucket provisioned", "bucket", bucket)
	}

	p.remember(ctx, bucket)
	return nil
}

// createBucket returns true when this call created the bucket, false
// when another caller got there first.
func (p *Provisioner) createBucket(ctx context.Context, bucket string) (bool, error) {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if p.region != "" && p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}

	_, err := p.s3.CreateBucket(ctx, input)
	if err == nil {
		return true, nil
	}
	var owned *s3types.BucketAlreadyOwnedByYou
	var exists *s3types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return false, nil
	}
	return false, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
}

func (p *Provisioner) applyLifecycle(ctx context.Context, bucket string) error {
	_, err := p.s3.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{
			Rules: []s3types.LifecycleRule{{
				ID:     aws.String("content-tiering"),
				Status: s3types.ExpirationStatusEnabled,
				Filter: &s3types.LifecycleRuleFilter{Prefix: aws.String("")},
				Transitions: []s3types.Transition{
					{Days: aws.Int32(tierCoolAfterDays), StorageClass: s3types.TransitionStorageClassStandardIa},
					{Days: aws.Int32(tierColdAfterDays), StorageClass: s3types.TransitionStorageClassGlacier},
					{Days: aws.Int32(tierArchiveAfterDays), StorageClass: s3types.TransitionStorageClassDeepArchive},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("storage: apply lifecycle %s: %w", bucket, err)
	}
	return nil
}

func (p *Provisioner) remember(ctx context.Context, bucket string) {
	if p.cache != nil {
		p.cache.Remember(ctx, bucket)
	}
}

// Put writes an object into the bucket.
func (p *Provisioner) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// RawMessageKey is the object key for an inbound message's raw JSON.
func RawMessageKey(conversationID int, messageID string, arrivedAt time.Time) string {
	return fmt.Sprintf("raw/%d/%s/%s.json", conversationID, arrivedAt.UTC().Format("2006/01/02"), messageID)
}

// MediaKey is the object key for a fetched attachment.
func MediaKey(conversationID int, messageID string, attachmentID int, fileType string) string {
	ext := strings.ToLower(strings.TrimSpace(fileType))
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("media/%d/%s/%d.%s", conversationID, messageID, attachmentID, ext)
}
