package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the base used to build object URLs, e.g. a CDN.
	PublicURL string
}

type MinIOStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

var _ Store = (*MinIOStore)(nil)

// NewMinIOStore connects and creates the bucket when it does not exist yet.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, log *slog.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("Created bucket", "bucket", cfg.Bucket)
	}

	return &MinIOStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: objectBaseURL(cfg, client.EndpointURL().Scheme, client.EndpointURL().Host),
	}, nil
}

func (m *MinIOStore) Put(ctx context.Context, obj Object) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, obj.Key, bytes.NewReader(obj.Data), int64(len(obj.Data)), minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return m.baseURL + "/" + obj.Key, nil
}

func objectBaseURL(cfg MinIOConfig, scheme, host string) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	return fmt.Sprintf("%s://%s/%s", scheme, host, cfg.Bucket)
}
