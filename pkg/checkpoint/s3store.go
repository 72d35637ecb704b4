package checkpoint

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

// S3Config configures the S3 checkpoint store.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint for MinIO or localstack
	Endpoint string
}

// S3Store persists checkpoints as whole objects in S3, one per connector.
// Every save rewrites the object; S3's read-after-write consistency makes
// the newest save the one every Load sees.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	codec    *Codec
	logger   *zap.Logger
}

// NewS3Store creates the store and verifies bucket access. The bucket is
// provisioned infrastructure: a missing bucket is a configuration error,
// not something to create on the fly.
func NewS3Store(ctx context.Context, cfg S3Config, codec *Codec) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &S3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 1
		}),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		codec:  codec,
		logger: logger.Get().With(zap.String("component", "checkpoint_s3")),
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, classifyS3Error(err, "checkpoint bucket inaccessible").
			WithDetail("bucket", cfg.Bucket)
	}

	store.logger.Info("S3 checkpoint store ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", store.prefix))
	return store, nil
}

// Save implements Store.
func (s *S3Store) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := s.codec.Encode(cp)
	if err != nil {
		return err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(cp.ConnectorID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return classifyS3Error(err, "failed to save checkpoint").
			WithDetail("connector_id", cp.ConnectorID).
			WithDetail("ordinal", cp.Ordinal)
	}
	return nil
}

// Load implements Store. A missing object means no checkpoint exists.
func (s *S3Store) Load(ctx context.Context, connectorID string) (*Checkpoint, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(connectorID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, classifyS3Error(err, "failed to load checkpoint").
			WithDetail("connector_id", connectorID)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read checkpoint object").
			WithDetail("connector_id", connectorID)
	}
	return s.codec.Decode(data)
}

// Clear implements Store. Deleting an absent object succeeds.
func (s *S3Store) Clear(ctx context.Context, connectorID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(connectorID)),
	})
	if err != nil {
		return classifyS3Error(err, "failed to clear checkpoint").
			WithDetail("connector_id", connectorID)
	}
	s.logger.Info("checkpoint cleared", zap.String("connector_id", connectorID))
	return nil
}

func (s *S3Store) key(connectorID string) string {
	if s.prefix == "" {
		return connectorID + ".json"
	}
	return s.prefix + "/" + connectorID + ".json"
}

// classifyS3Error maps AWS failures onto the error taxonomy: identity and
// permission problems are credential errors (never retried), everything
// else counts as the store being unreachable.
func classifyS3Error(err error, msg string) *errors.Error {
	text := err.Error()
	for _, marker := range []string{
		"AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "TokenRefreshRequired", "no EC2 IMDS role found",
	} {
		if strings.Contains(text, marker) {
			return errors.Wrap(err, errors.ErrorTypeCredential, msg)
		}
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, msg)
}
