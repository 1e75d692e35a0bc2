package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/batch"
	"github.com/SebastienMelki/causality-push/internal/observability"
)

// S3Config configures the object-store uploader.
type S3Config struct {
	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for MinIO.
	Endpoint string `env:"ENDPOINT"`
	Region   string `env:"REGION"   envDefault:"us-east-1"`
	Bucket   string `env:"BUCKET"   envDefault:"push-envelopes"`
	Prefix   string `env:"PREFIX"   envDefault:"envelopes"`

	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `env:"USE_PATH_STYLE" envDefault:"true"`
}

// objectAPI is the subset of the S3 client the uploader calls.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Uploader writes each envelope as one JSON object. It implements
// batch.Uploader.
type S3Uploader struct {
	client  objectAPI
	bucket  string
	prefix  string
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewS3Uploader creates an uploader for an S3 or MinIO bucket.
func NewS3Uploader(ctx context.Context, cfg S3Config, metrics *observability.Metrics, logger *slog.Logger) (*S3Uploader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Uploader(client, cfg.Bucket, cfg.Prefix, metrics, logger), nil
}

func newS3Uploader(client objectAPI, bucket, prefix string, metrics *observability.Metrics, logger *slog.Logger) *S3Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		metrics: metrics,
		logger:  logger.With("component", "s3-uploader", "bucket", bucket),
		now:     time.Now,
	}
}

// EnsureBucket creates the bucket if it does not exist.
func (u *S3Uploader) EnsureBucket(ctx context.Context) error {
	if _, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)}); err == nil {
		return nil
	}
	if _, err := u.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.bucket)}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	u.logger.Info("bucket created")
	return nil
}

// Upload stores env under Key(env).
func (u *S3Uploader) Upload(ctx context.Context, env *batch.Envelope) error {
	if env == nil {
		return ErrNilEnvelope
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	key := u.Key(env)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put envelope %s: %w", env.ID, err)
	}

	if u.metrics != nil {
		u.metrics.EnvelopeSize.Record(ctx, int64(len(body)),
			otelmetric.WithAttributes(attribute.String("uploader", "s3")))
	}
	u.logger.Debug("envelope stored", "key", key, "size_bytes", len(body))
	return nil
}

// Key returns the object key for env:
// {prefix}/stream={msgs|hist}/year=Y/month=M/day=D/hour=H/{id}.json,
// partitioned by the envelope timestamp.
func (u *S3Uploader) Key(env *batch.Envelope) string {
	stream := "msgs"
	if env.IsHistory() {
		stream = "hist"
	}
	t := time.UnixMilli(env.Timestamp).UTC()
	if env.Timestamp == 0 {
		t = u.now().UTC()
	}
	key := fmt.Sprintf("stream=%s/year=%d/month=%02d/day=%02d/hour=%02d/%s.json",
		stream, t.Year(), int(t.Month()), t.Day(), t.Hour(), env.ID)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}
	return key
}
