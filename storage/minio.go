package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mirlo/config"
	"mirlo/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned when a requested object does not exist.
// Transport and permission failures are returned as-is.
var ErrObjectNotFound = errors.New("object not found")

// Client wraps the MinIO client with the two application buckets: one for
// per-track generated masters, one for built release archives.
type Client struct {
	mc              *minio.Client
	AudioBucket     string
	DownloadsBucket string
}

// New creates a Client and verifies connectivity by ensuring both buckets
// exist, creating them when missing.
func New(cfg *config.Config) (*Client, error) {
	mc, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	client := &Client{
		mc:              mc,
		AudioBucket:     cfg.AudioBucket,
		DownloadsBucket: cfg.DownloadsBucket,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, bucket := range []string{client.AudioBucket, client.DownloadsBucket} {
		exists, err := mc.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
				return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
			logger.Info("created bucket", logger.String("bucket", bucket))
		}
	}

	return client, nil
}

// Exists probes object storage for a key. A missing object is (false, nil);
// only transport failures produce an error.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// Get opens a streaming read of an object. Returns ErrObjectNotFound if the
// key does not exist.
func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	// GetObject is lazy; Stat forces the first request so missing keys are
	// caught here instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// Put streams an object into storage. Pass size -1 when unknown.
func (c *Client) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
