package checkpoint

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

// GCSConfig configures the GCS checkpoint store.
type GCSConfig struct {
	Bucket string
	Prefix string
	// CredentialsFile points at a service account key. Empty uses
	// application default credentials.
	CredentialsFile string
}

// GCSStore persists checkpoints as whole objects in Google Cloud Storage,
// one per connector.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	codec  *Codec
	logger *zap.Logger
}

// NewGCSStore creates the store and verifies bucket access.
func NewGCSStore(ctx context.Context, cfg GCSConfig, codec *Codec) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create GCS client")
	}

	store := &GCSStore{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		prefix: strings.Trim(cfg.Prefix, "/"),
		codec:  codec,
		logger: logger.Get().With(zap.String("component", "checkpoint_gcs")),
	}

	if _, err := store.bucket.Attrs(ctx); err != nil {
		return nil, classifyGCSError(err, "checkpoint bucket inaccessible").
			WithDetail("bucket", cfg.Bucket)
	}

	store.logger.Info("GCS checkpoint store ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", store.prefix))
	return store, nil
}

// Save implements Store.
func (s *GCSStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := s.codec.Encode(cp)
	if err != nil {
		return err
	}

	writer := s.bucket.Object(s.key(cp.ConnectorID)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return classifyGCSError(err, "failed to write checkpoint").
			WithDetail("connector_id", cp.ConnectorID)
	}
	// Close commits the object; the write is not durable until it returns
	if err := writer.Close(); err != nil {
		return classifyGCSError(err, "failed to commit checkpoint").
			WithDetail("connector_id", cp.ConnectorID).
			WithDetail("ordinal", cp.Ordinal)
	}
	return nil
}

// Load implements Store. A missing object means no checkpoint exists.
func (s *GCSStore) Load(ctx context.Context, connectorID string) (*Checkpoint, error) {
	reader, err := s.bucket.Object(s.key(connectorID)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, classifyGCSError(err, "failed to load checkpoint").
			WithDetail("connector_id", connectorID)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read checkpoint object").
			WithDetail("connector_id", connectorID)
	}
	return s.codec.Decode(data)
}

// Clear implements Store. Deleting an absent object succeeds.
func (s *GCSStore) Clear(ctx context.Context, connectorID string) error {
	err := s.bucket.Object(s.key(connectorID)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return classifyGCSError(err, "failed to clear checkpoint").
			WithDetail("connector_id", connectorID)
	}
	s.logger.Info("checkpoint cleared", zap.String("connector_id", connectorID))
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) key(connectorID string) string {
	if s.prefix == "" {
		return connectorID + ".json"
	}
	return s.prefix + "/" + connectorID + ".json"
}

func classifyGCSError(err error, msg string) *errors.Error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return errors.Wrap(err, errors.ErrorTypeCredential, msg)
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, msg)
}
