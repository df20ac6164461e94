package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioClient is the subset of *minio.Client operations this package
// uses, abstracted for testability.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type minioClientAdapter struct {
	client *minio.Client
}

func (a *minioClientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioClientAdapter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

// ClientConfig holds configuration for the MinIO-backed object store.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PublicEndpoint overrides the authority component of URLs returned
	// by PublicURL, e.g. a CDN hostname (§6 Artifact URL).
	PublicEndpoint string
}

// MinIOStore implements Store using MinIO (or any S3-compatible
// endpoint) as the backing object store.
type MinIOStore struct {
	client minioClient
	bucket string
	base   string // endpoint prefix ending in "/", per §6
}

// NewMinIOStore creates a new MinIOStore, failing fast if the configured
// bucket does not exist.
func NewMinIOStore(ctx context.Context, cfg ClientConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return newMinIOStoreWithClient(ctx, &minioClientAdapter{client: client}, cfg)
}

func newMinIOStoreWithClient(ctx context.Context, client minioClient, cfg ClientConfig) (*MinIOStore, error) {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket does not exist: %s", cfg.Bucket)
	}

	host := cfg.PublicEndpoint
	if host == "" {
		host = cfg.Endpoint
	}
	scheme := "http://"
	if cfg.UseSSL {
		scheme = "https://"
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		base:   scheme + strings.TrimSuffix(host, "/") + "/" + cfg.Bucket + "/",
	}, nil
}

// Upload stores reader's contents under key.
func (s *MinIOStore) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// PublicURL returns the externally resolvable URL for key.
func (s *MinIOStore) PublicURL(key string) string {
	return s.base + key
}

var _ Store = (*MinIOStore)(nil)
