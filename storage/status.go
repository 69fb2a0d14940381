package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
)

// BucketStats summarizes a bucket's contents.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListBucket lists objects under a prefix and aggregates bucket statistics.
// Used by the storage CLI command for operational inspection.
func (c *Client) ListBucket(ctx context.Context, bucket, prefix string) ([]ObjectInfo, *BucketStats, error) {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	var objects []ObjectInfo
	stats := &BucketStats{}

	for object := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("failed to list objects in %s: %w", bucket, object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}

	return objects, stats, nil
}

// FormatSize renders a byte count for human consumption.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
